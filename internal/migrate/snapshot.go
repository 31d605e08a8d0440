package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/krapi/krapi/internal/registry"
)

// RequiredTables lists the table set every store of a kind must contain.
func RequiredTables(kind registry.Kind) []string {
	if kind == registry.KindAdmin {
		return []string{"projects", "admins", "sessions", "access_keys", "schema_migrations"}
	}
	return []string{"collections", "documents", "users", "access_keys", "change_log", "schema_migrations"}
}

// MissingTables returns the required tables absent from the store, sorted.
func MissingTables(ctx context.Context, h *registry.Handle) ([]string, error) {
	var missing []string
	for _, table := range RequiredTables(h.Kind()) {
		exists, err := tableExists(ctx, h.DB(), table)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, table)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

// SchemaSnapshot renders a deterministic text dump of every user table and
// its columns. Used by golden tests and health reporting; byte-stable across
// runs for the same schema.
func SchemaSnapshot(ctx context.Context, h *registry.Handle) (string, error) {
	rows, err := h.Query(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, table := range tables {
		cols, err := tableColumns(ctx, h.DB(), table)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "table %s\n", table)
		for _, c := range cols {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}
	return b.String(), nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
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
			return nil, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		col := fmt.Sprintf("%s %s", name, strings.ToUpper(ctype))
		if notnull == 1 {
			col += " NOT NULL"
		}
		if pk == 1 {
			col += " PRIMARY KEY"
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}
