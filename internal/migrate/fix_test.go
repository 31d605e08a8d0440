package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krapi/krapi/internal/bootstrap"
	"github.com/krapi/krapi/internal/registry"
)

func applyBaseline(t *testing.T, h *registry.Handle) {
	t.Helper()
	require.NoError(t, bootstrap.EnsureBaseline(context.Background(), h))
}

func TestCheckAndFixSchema_AddsMissingColumns(t *testing.T) {
	h := newAdminStore(t)
	ctx := context.Background()

	// An old-release store: sessions predates the single-use columns and
	// most other tables do not exist yet.
	_, err := h.Exec(ctx, `
		CREATE TABLE sessions (
			id         TEXT PRIMARY KEY,
			token      TEXT NOT NULL UNIQUE,
			subject_id TEXT NOT NULL,
			subject    TEXT NOT NULL,
			scopes     TEXT NOT NULL DEFAULT '[]',
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`)
	require.NoError(t, err)

	report, err := CheckAndFixSchema(ctx, h, nil)
	require.NoError(t, err)

	assert.True(t, report.Healthy())
	assert.Contains(t, report.Added, "sessions.consumed")
	assert.Contains(t, report.Added, "sessions.consumed_at")
	assert.Contains(t, report.Added, "sessions.project_id")
	assert.Contains(t, report.Skipped, "projects")
	assert.Contains(t, report.Skipped, "admins")
	assert.Contains(t, report.Skipped, "access_keys")

	has, err := columnExists(ctx, h.DB(), "sessions", "consumed")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCheckAndFixSchema_SecondPassAddsNothing(t *testing.T) {
	h := newAdminStore(t)
	ctx := context.Background()
	applyBaseline(t, h)

	first, err := CheckAndFixSchema(ctx, h, nil)
	require.NoError(t, err)
	assert.Empty(t, first.Added, "baseline schema should already be complete")
	assert.True(t, first.Healthy())

	second, err := CheckAndFixSchema(ctx, h, nil)
	require.NoError(t, err)
	assert.Empty(t, second.Added)
	assert.Equal(t, first.Checked, second.Checked)
}

func TestCheckAndFixSchema_EmptyStoreSkipsEverything(t *testing.T) {
	h := newAdminStore(t)

	report, err := CheckAndFixSchema(context.Background(), h, nil)
	require.NoError(t, err)

	assert.True(t, report.Healthy())
	assert.Empty(t, report.Added)
	assert.ElementsMatch(t, []string{"projects", "admins", "sessions", "access_keys"}, report.Skipped)
}

func TestMissingTables(t *testing.T) {
	h := newAdminStore(t)
	ctx := context.Background()

	missing, err := MissingTables(ctx, h)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"projects", "admins", "sessions", "access_keys", "schema_migrations"}, missing)

	applyBaseline(t, h)

	missing, err = MissingTables(ctx, h)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
