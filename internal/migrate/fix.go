package migrate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/krapi/krapi/internal/registry"
)

// ColumnFix is one declarative reconciliation entry: if Table exists and
// Column is missing, Statement is executed to add it.
type ColumnFix struct {
	Table     string
	Column    string
	Statement string
}

// Report summarizes one reconciliation pass. Individual failures are
// collected rather than aborting the pass.
type Report struct {
	Checked  int      `json:"checked"`
	Added    []string `json:"added,omitempty"`    // table.column entries created
	Skipped  []string `json:"skipped,omitempty"`  // tables absent from this store
	Failures []string `json:"failures,omitempty"` // corrective statements that failed
}

// Healthy reports whether the pass completed with no failures.
func (r Report) Healthy() bool { return len(r.Failures) == 0 }

// AdminFixes is the reconciliation list for the administrative store.
func AdminFixes() []ColumnFix {
	return []ColumnFix{
		{"projects", "description", "ALTER TABLE projects ADD COLUMN description TEXT NOT NULL DEFAULT ''"},
		{"projects", "settings", "ALTER TABLE projects ADD COLUMN settings TEXT NOT NULL DEFAULT '{}'"},
		{"projects", "active", "ALTER TABLE projects ADD COLUMN active INTEGER NOT NULL DEFAULT 1"},
		{"projects", "owner_id", "ALTER TABLE projects ADD COLUMN owner_id TEXT NOT NULL DEFAULT ''"},
		{"projects", "storage_bytes", "ALTER TABLE projects ADD COLUMN storage_bytes INTEGER NOT NULL DEFAULT 0"},
		{"projects", "call_count", "ALTER TABLE projects ADD COLUMN call_count INTEGER NOT NULL DEFAULT 0"},
		{"projects", "last_call_at", "ALTER TABLE projects ADD COLUMN last_call_at TIMESTAMP"},
		{"admins", "access_level", "ALTER TABLE admins ADD COLUMN access_level INTEGER NOT NULL DEFAULT 0"},
		{"admins", "api_key", "ALTER TABLE admins ADD COLUMN api_key TEXT NOT NULL DEFAULT ''"},
		{"admins", "active", "ALTER TABLE admins ADD COLUMN active INTEGER NOT NULL DEFAULT 1"},
		{"sessions", "consumed", "ALTER TABLE sessions ADD COLUMN consumed INTEGER NOT NULL DEFAULT 0"},
		{"sessions", "consumed_at", "ALTER TABLE sessions ADD COLUMN consumed_at TIMESTAMP"},
		{"sessions", "project_id", "ALTER TABLE sessions ADD COLUMN project_id TEXT NOT NULL DEFAULT ''"},
		{"access_keys", "rate_limit", "ALTER TABLE access_keys ADD COLUMN rate_limit INTEGER NOT NULL DEFAULT 0"},
		{"access_keys", "expires_at", "ALTER TABLE access_keys ADD COLUMN expires_at TIMESTAMP"},
	}
}

// TenantFixes is the reconciliation list for tenant stores.
func TenantFixes() []ColumnFix {
	return []ColumnFix{
		{"collections", "fields", "ALTER TABLE collections ADD COLUMN fields TEXT NOT NULL DEFAULT '[]'"},
		{"collections", "indexes", "ALTER TABLE collections ADD COLUMN indexes TEXT NOT NULL DEFAULT '[]'"},
		{"documents", "created_by", "ALTER TABLE documents ADD COLUMN created_by TEXT NOT NULL DEFAULT ''"},
		{"documents", "updated_by", "ALTER TABLE documents ADD COLUMN updated_by TEXT NOT NULL DEFAULT ''"},
		{"documents", "version", "ALTER TABLE documents ADD COLUMN version INTEGER NOT NULL DEFAULT 1"},
		{"documents", "deleted", "ALTER TABLE documents ADD COLUMN deleted INTEGER NOT NULL DEFAULT 0"},
		{"users", "username", "ALTER TABLE users ADD COLUMN username TEXT NOT NULL DEFAULT ''"},
		{"users", "scopes", "ALTER TABLE users ADD COLUMN scopes TEXT NOT NULL DEFAULT '[]'"},
		{"users", "active", "ALTER TABLE users ADD COLUMN active INTEGER NOT NULL DEFAULT 1"},
		{"change_log", "detail", "ALTER TABLE change_log ADD COLUMN detail TEXT NOT NULL DEFAULT ''"},
	}
}

// FixesFor returns the reconciliation list for a store kind.
func FixesFor(kind registry.Kind) []ColumnFix {
	if kind == registry.KindAdmin {
		return AdminFixes()
	}
	return TenantFixes()
}

// CheckAndFixSchema reconciles a store against the declarative column list
// for its kind. Missing tables are tolerated as no-ops (the table may
// legitimately postdate this store's feature set); failed corrective
// statements are collected in the report and do not stop the pass.
func CheckAndFixSchema(ctx context.Context, h *registry.Handle, log *zap.Logger) (Report, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var report Report
	skipped := make(map[string]bool)

	for _, fix := range FixesFor(h.Kind()) {
		report.Checked++

		if skipped[fix.Table] {
			continue
		}
		exists, err := tableExists(ctx, h.DB(), fix.Table)
		if err != nil {
			return report, err
		}
		if !exists {
			skipped[fix.Table] = true
			report.Skipped = append(report.Skipped, fix.Table)
			continue
		}

		hasCol, err := columnExists(ctx, h.DB(), fix.Table, fix.Column)
		if err != nil {
			return report, err
		}
		if hasCol {
			continue
		}

		if _, err := h.DB().ExecContext(ctx, fix.Statement); err != nil {
			report.Failures = append(report.Failures,
				fmt.Sprintf("%s.%s: %v", fix.Table, fix.Column, err))
			continue
		}
		report.Added = append(report.Added, fix.Table+"."+fix.Column)
		log.Info("schema column added",
			zap.String("store", h.ID()),
			zap.String("table", fix.Table),
			zap.String("column", fix.Column))
	}
	return report, nil
}
