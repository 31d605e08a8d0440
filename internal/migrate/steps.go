package migrate

import (
	"context"
	"database/sql"
	"fmt"
)

// AdminSteps is the canonical migration list for the administrative store.
// New databases get the final shape from the baseline schema; these steps
// bring stores created by earlier releases up to date. Append only — never
// renumber or edit a shipped step.
func AdminSteps() []Step {
	return []Step{
		{
			Number: 1,
			Name:   "project usage counters",
			Run: func(ctx context.Context, db *sql.DB) error {
				return addColumns(ctx, db, "projects",
					column{"storage_bytes", "INTEGER NOT NULL DEFAULT 0"},
					column{"call_count", "INTEGER NOT NULL DEFAULT 0"},
					column{"last_call_at", "TIMESTAMP"})
			},
		},
		{
			Number: 2,
			Name:   "single-use sessions",
			Run: func(ctx context.Context, db *sql.DB) error {
				return addColumns(ctx, db, "sessions",
					column{"consumed", "INTEGER NOT NULL DEFAULT 0"},
					column{"consumed_at", "TIMESTAMP"})
			},
		},
		{
			Number: 3,
			Name:   "unique session tokens",
			Run: func(ctx context.Context, db *sql.DB) error {
				_, err := db.ExecContext(ctx, `
					CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token)`)
				return err
			},
		},
		{
			Number: 4,
			Name:   "access key rate limits",
			Run: func(ctx context.Context, db *sql.DB) error {
				return addColumns(ctx, db, "access_keys",
					column{"rate_limit", "INTEGER NOT NULL DEFAULT 0"},
					column{"expires_at", "TIMESTAMP"})
			},
		},
	}
}

// TenantSteps is the canonical migration list for tenant stores.
func TenantSteps() []Step {
	return []Step{
		{
			Number: 1,
			Name:   "document audit metadata",
			Run: func(ctx context.Context, db *sql.DB) error {
				return addColumns(ctx, db, "documents",
					column{"created_by", "TEXT NOT NULL DEFAULT ''"},
					column{"updated_by", "TEXT NOT NULL DEFAULT ''"},
					column{"version", "INTEGER NOT NULL DEFAULT 1"})
			},
		},
		{
			Number: 2,
			Name:   "document soft delete",
			Run: func(ctx context.Context, db *sql.DB) error {
				return addColumns(ctx, db, "documents",
					column{"deleted", "INTEGER NOT NULL DEFAULT 0"})
			},
		},
		{
			Number: 3,
			Name:   "document collection index",
			Run: func(ctx context.Context, db *sql.DB) error {
				_, err := db.ExecContext(ctx, `
					CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id, deleted)`)
				return err
			},
		},
		{
			Number: 4,
			Name:   "user scopes",
			Run: func(ctx context.Context, db *sql.DB) error {
				return addColumns(ctx, db, "users",
					column{"scopes", "TEXT NOT NULL DEFAULT '[]'"})
			},
		},
	}
}

type column struct {
	name string
	ddl  string
}

// addColumns adds each column to the table unless it already exists, which
// keeps steps safe to re-run.
func addColumns(ctx context.Context, db *sql.DB, table string, cols ...column) error {
	for _, c := range cols {
		exists, err := columnExists(ctx, db, table, c.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.ddl)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, c.name, err)
		}
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return true, nil
}

func columnExists(ctx context.Context, db *sql.DB, table, col string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}
