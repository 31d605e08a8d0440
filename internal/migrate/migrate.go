// Package migrate keeps already-deployed stores compatible with the schema
// current code expects.
//
// Two mechanisms cooperate:
//
//   - An ordered, numbered list of named steps, each an idempotent effect on
//     a store handle. Applied steps are recorded per store in the
//     schema_migrations bookkeeping table and never reapplied. A step left
//     in "applying" by a crashed run is retried on the next run.
//   - A declarative reconciler (CheckAndFixSchema) over a fixed
//     (table, expected column, corrective statement) list that heals drift
//     outside the versioned step list, tolerating unknown tables and
//     continuing past individual failures.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/registry"
)

// Step statuses recorded in the bookkeeping table.
const (
	statusApplying = "applying"
	statusApplied  = "applied"
)

// Step is one versioned, idempotent schema change.
type Step struct {
	// Number orders steps; applied at most once per store, ascending.
	Number int

	// Name describes the step for the bookkeeping table and logs.
	Name string

	// Run applies the step. Must be safe to re-run by mistake.
	Run func(ctx context.Context, db *sql.DB) error
}

// Run applies all unapplied steps to the store, ascending, and records each
// one. The whole run aborts on the first failure; later steps are never
// applied ahead of a failed one. Returns the numbers applied by this run.
func Run(ctx context.Context, h *registry.Handle, steps []Step, log *zap.Logger) ([]int, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := ensureBookkeeping(ctx, h.DB()); err != nil {
		return nil, errs.SchemaDrift("migrate.Run", h.ID(), err)
	}

	applied, err := appliedSteps(ctx, h.DB())
	if err != nil {
		return nil, errs.SchemaDrift("migrate.Run", h.ID(), err)
	}

	ordered := make([]Step, len(steps))
	copy(ordered, steps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	var ran []int
	for _, step := range ordered {
		if applied[step.Number] {
			continue
		}
		if err := applyStep(ctx, h.DB(), step); err != nil {
			return ran, errs.SchemaDrift("migrate.Run", h.ID(),
				fmt.Errorf("step %d (%s): %w", step.Number, step.Name, err))
		}
		log.Info("migration applied",
			zap.String("store", h.ID()),
			zap.Int("step", step.Number),
			zap.String("name", step.Name))
		ran = append(ran, step.Number)
	}
	return ran, nil
}

// StepsFor returns the canonical step list for a store kind.
func StepsFor(kind registry.Kind) []Step {
	if kind == registry.KindAdmin {
		return AdminSteps()
	}
	return TenantSteps()
}

func ensureBookkeeping(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			step       INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'pending',
			applied_at TIMESTAMP
		)`)
	return err
}

// appliedSteps returns the set of step numbers recorded as applied. Steps
// stuck in "applying" are not included, so they are retried.
func appliedSteps(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT step FROM schema_migrations WHERE status = ?`, statusApplied)
	if err != nil {
		return nil, fmt.Errorf("read applied steps: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan applied step: %w", err)
		}
		applied[n] = true
	}
	return applied, rows.Err()
}

func applyStep(ctx context.Context, db *sql.DB, step Step) error {
	// Record intent first so a crash mid-step is visible and retried.
	_, err := db.ExecContext(ctx, `
		INSERT INTO schema_migrations (step, name, status) VALUES (?, ?, ?)
		ON CONFLICT(step) DO UPDATE SET name = excluded.name, status = excluded.status`,
		step.Number, step.Name, statusApplying)
	if err != nil {
		return fmt.Errorf("mark applying: %w", err)
	}

	if err := step.Run(ctx, db); err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		UPDATE schema_migrations SET status = ?, applied_at = ? WHERE step = ?`,
		statusApplied, time.Now().UTC(), step.Number)
	if err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}
	return nil
}
