package registry

import (
	"context"
	"database/sql"
)

// Kind distinguishes the shared administrative store from per-tenant stores.
// The two kinds carry different baseline table sets.
type Kind string

const (
	KindAdmin  Kind = "admin"
	KindTenant Kind = "tenant"
)

// Handle is an open connection to one store. Handles are cached by the
// Registry and shared across concurrent logical operations; callers never
// close a Handle directly, the Registry owns its lifecycle.
type Handle struct {
	db   *sql.DB
	path string
	kind Kind
	id   string // "admin" or the tenant identifier
}

// DB returns the underlying sql.DB for direct queries.
func (h *Handle) DB() *sql.DB { return h.db }

// Path returns the store's location on disk.
func (h *Handle) Path() string { return h.path }

// Kind returns the store kind.
func (h *Handle) Kind() Kind { return h.kind }

// ID returns "admin" for the administrative store or the tenant identifier.
func (h *Handle) ID() string { return h.id }

// Exec executes a statement against the store.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return h.db.ExecContext(ctx, query, args...)
}

// Query executes a query and returns the resulting rows. Callers are
// responsible for closing the returned rows.
func (h *Handle) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return h.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query expected to return at most one row.
func (h *Handle) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return h.db.QueryRowContext(ctx, query, args...)
}

// Close releases the handle's connection.
func (h *Handle) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}
