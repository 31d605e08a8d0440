// Package registry opens, caches, and closes the stores backing the
// platform: one shared administrative store plus one store per tenant,
// each a single SQLite file.
//
// The administrative store lives at <data_dir>/admin.db; tenant stores at
// <data_dir>/tenants/<tenant_id>.db, created on first access. The Registry
// is passed explicitly into the domain service at construction; there is no
// global instance.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/krapi/krapi/internal/errs"
)

const (
	adminFile  = "admin.db"
	tenantsDir = "tenants"
)

// Options configures a Registry.
type Options struct {
	// DataDir holds admin.db and the tenants/ subtree.
	DataDir string

	// ConnectMaxElapsed bounds reconnection backoff before an open fails
	// with a connection error. Zero means a 30s ceiling.
	ConnectMaxElapsed time.Duration

	// OnOpen runs against every newly opened handle, before it is cached.
	// The service wires baseline bootstrap and migrations here.
	OnOpen func(*Handle) error

	Logger *zap.Logger
}

// Registry resolves tenant identifiers to storage locations and owns the
// cached handles. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	opts    Options
	admin   *Handle
	tenants map[string]*Handle

	// removeFile is swapped in tests to simulate removal failures.
	removeFile func(string) error
}

// New creates a Registry rooted at opts.DataDir. No store is opened until
// first use.
func New(opts Options) *Registry {
	if opts.ConnectMaxElapsed <= 0 {
		opts.ConnectMaxElapsed = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		opts:       opts,
		tenants:    make(map[string]*Handle),
		removeFile: os.Remove,
	}
}

// SetRemoveFile overrides how store files are removed. Tests use it to
// simulate removal failures during destructive deletion.
func (r *Registry) SetRemoveFile(fn func(string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeFile = fn
}

// AdminPath returns the administrative store location.
func (r *Registry) AdminPath() string {
	return filepath.Join(r.opts.DataDir, adminFile)
}

// TenantPath returns the deterministic store location for a tenant.
func (r *Registry) TenantPath(tenantID string) string {
	return filepath.Join(r.opts.DataDir, tenantsDir, tenantID+".db")
}

// OpenAdmin returns the single long-lived handle to the administrative
// store, creating and bootstrapping it on first use.
func (r *Registry) OpenAdmin() (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.admin != nil {
		return r.admin, nil
	}
	h, err := r.open(r.AdminPath(), KindAdmin, "admin")
	if err != nil {
		return nil, err
	}
	r.admin = h
	return h, nil
}

// OpenTenant returns a cached handle to the tenant's store, transparently
// creating the storage location and bootstrapping schema on first access.
func (r *Registry) OpenTenant(tenantID string) (*Handle, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.tenants[tenantID]; ok {
		return h, nil
	}
	h, err := r.open(r.TenantPath(tenantID), KindTenant, tenantID)
	if err != nil {
		return nil, err
	}
	r.tenants[tenantID] = h
	return h, nil
}

// CloseTenant flushes and releases a tenant handle. Used before destructive
// deletion; a no-op if the handle was never opened.
func (r *Registry) CloseTenant(tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.tenants[tenantID]
	if !ok {
		return nil
	}
	delete(r.tenants, tenantID)
	if err := h.Close(); err != nil {
		return errs.Connection("registry.CloseTenant", tenantID, err)
	}
	return nil
}

// CloseAll releases every cached handle, the administrative one included.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for id, h := range r.tenants {
		if err := h.Close(); err != nil && first == nil {
			first = errs.Connection("registry.CloseAll", id, err)
		}
		delete(r.tenants, id)
	}
	if r.admin != nil {
		if err := r.admin.Close(); err != nil && first == nil {
			first = errs.Connection("registry.CloseAll", "admin", err)
		}
		r.admin = nil
	}
	return first
}

// TenantExists reports whether the tenant's store file exists. Non-mutating:
// it never creates the store.
func (r *Registry) TenantExists(tenantID string) bool {
	if validTenantID(tenantID) != nil {
		return false
	}
	_, err := os.Stat(r.TenantPath(tenantID))
	return err == nil
}

// DestroyTenant closes the tenant handle and physically removes the store
// file along with its WAL sidecars. The store file itself must be removed
// successfully; sidecar removal is best effort.
func (r *Registry) DestroyTenant(tenantID string) error {
	if err := r.CloseTenant(tenantID); err != nil {
		return err
	}
	path := r.TenantPath(tenantID)
	if err := r.removeFile(path); err != nil && !os.IsNotExist(err) {
		return errs.Connection("registry.DestroyTenant", tenantID, err)
	}
	for _, sidecar := range []string{path + "-wal", path + "-shm"} {
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			r.opts.Logger.Warn("remove sidecar", zap.String("path", sidecar), zap.Error(err))
		}
	}
	r.opts.Logger.Info("tenant store removed", zap.String("tenant_id", tenantID))
	return nil
}

// open connects to the store at path with bounded reconnection backoff,
// applies pragmas, and runs the OnOpen hook. Callers hold r.mu.
func (r *Registry) open(path string, kind Kind, id string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Connection("registry.open", id, err)
	}

	var db *sql.DB
	connect := func() error {
		d, err := sql.Open("sqlite3", path)
		if err != nil {
			return err
		}
		if err := d.Ping(); err != nil {
			d.Close()
			return err
		}
		db = d
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.opts.ConnectMaxElapsed
	if err := backoff.Retry(connect, bo); err != nil {
		return nil, errs.Connection("registry.open", id, err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under concurrent logical operations.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errs.Connection("registry.open", id, err)
	}

	h := &Handle{db: db, path: path, kind: kind, id: id}
	if r.opts.OnOpen != nil {
		if err := r.opts.OnOpen(h); err != nil {
			db.Close()
			return nil, errs.SchemaDrift("registry.open", id, err)
		}
	}

	r.opts.Logger.Info("store opened",
		zap.String("store", id),
		zap.String("kind", string(kind)),
		zap.String("path", path))
	return h, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// validTenantID rejects identifiers that would escape the tenants directory.
func validTenantID(id string) error {
	if id == "" {
		return errs.Validation("registry", "tenant id must not be empty")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return errs.Validation("registry", "tenant id must not contain path separators")
	}
	return nil
}
