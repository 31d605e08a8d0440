package migrate

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/registry"
)

func newAdminStore(t *testing.T) *registry.Handle {
	t.Helper()
	r := registry.New(registry.Options{DataDir: t.TempDir()})
	t.Cleanup(func() { r.CloseAll() })

	h, err := r.OpenAdmin()
	require.NoError(t, err)
	return h
}

func recordingStep(number int, order *[]int) Step {
	return Step{
		Number: number,
		Name:   "recording step",
		Run: func(ctx context.Context, db *sql.DB) error {
			*order = append(*order, number)
			return nil
		},
	}
}

func stepStatus(t *testing.T, h *registry.Handle, number int) string {
	t.Helper()
	var status string
	err := h.QueryRow(context.Background(),
		`SELECT status FROM schema_migrations WHERE step = ?`, number).Scan(&status)
	require.NoError(t, err)
	return status
}

func TestRun_AppliesAscendingRegardlessOfInputOrder(t *testing.T) {
	h := newAdminStore(t)

	var order []int
	steps := []Step{
		recordingStep(3, &order),
		recordingStep(1, &order),
		recordingStep(2, &order),
	}

	ran, err := Run(context.Background(), h, steps, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ran)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestRun_SkipsAppliedSteps(t *testing.T) {
	h := newAdminStore(t)
	ctx := context.Background()

	var order []int
	steps := []Step{
		recordingStep(1, &order),
		recordingStep(2, &order),
		recordingStep(3, &order),
	}

	// Simulate an earlier run that already applied step 2.
	require.NoError(t, ensureBookkeeping(ctx, h.DB()))
	_, err := h.Exec(ctx, `
		INSERT INTO schema_migrations (step, name, status, applied_at)
		VALUES (2, 'recording step', 'applied', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	ran, err := Run(ctx, h, steps, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, ran)
	assert.Equal(t, []int{1, 3}, order)
}

func TestRun_RetriesStepStuckApplying(t *testing.T) {
	h := newAdminStore(t)
	ctx := context.Background()

	// A crashed run left step 1 marked "applying".
	require.NoError(t, ensureBookkeeping(ctx, h.DB()))
	_, err := h.Exec(ctx, `
		INSERT INTO schema_migrations (step, name, status) VALUES (1, 'stuck', 'applying')`)
	require.NoError(t, err)

	var order []int
	ran, err := Run(ctx, h, []Step{recordingStep(1, &order)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ran)
	assert.Equal(t, "applied", stepStatus(t, h, 1))
}

func TestRun_AbortsOnFirstFailure(t *testing.T) {
	h := newAdminStore(t)

	var order []int
	steps := []Step{
		recordingStep(1, &order),
		{
			Number: 2,
			Name:   "failing step",
			Run: func(ctx context.Context, db *sql.DB) error {
				return errors.New("boom")
			},
		},
		recordingStep(3, &order),
	}

	ran, err := Run(context.Background(), h, steps, nil)
	require.Error(t, err)
	assert.True(t, errs.IsSchemaDrift(err))
	assert.Equal(t, []int{1}, ran)
	assert.Equal(t, []int{1}, order, "steps after a failure must not run")

	// The failed step stays visible as "applying" for the next run.
	assert.Equal(t, "applied", stepStatus(t, h, 1))
	assert.Equal(t, "applying", stepStatus(t, h, 2))
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	h := newAdminStore(t)
	ctx := context.Background()

	var order []int
	steps := []Step{recordingStep(1, &order), recordingStep(2, &order)}

	ran, err := Run(ctx, h, steps, nil)
	require.NoError(t, err)
	assert.Len(t, ran, 2)

	ran, err = Run(ctx, h, steps, nil)
	require.NoError(t, err)
	assert.Empty(t, ran)
	assert.Equal(t, []int{1, 2}, order)
}

func TestCanonicalSteps_IdempotentOnBaselineSchema(t *testing.T) {
	// Baseline schemas already carry every column the steps add, so the
	// canonical lists must run clean on a fresh store.
	for _, kind := range []registry.Kind{registry.KindAdmin, registry.KindTenant} {
		r := registry.New(registry.Options{DataDir: t.TempDir()})
		t.Cleanup(func() { r.CloseAll() })

		var (
			h   *registry.Handle
			err error
		)
		if kind == registry.KindAdmin {
			h, err = r.OpenAdmin()
		} else {
			h, err = r.OpenTenant("acme")
		}
		require.NoError(t, err)

		ctx := context.Background()
		applyBaseline(t, h)

		ran, err := Run(ctx, h, StepsFor(kind), nil)
		require.NoError(t, err)
		assert.Len(t, ran, len(StepsFor(kind)))

		ran, err = Run(ctx, h, StepsFor(kind), nil)
		require.NoError(t, err)
		assert.Empty(t, ran)
	}
}
