// Package bootstrap creates the baseline table set for a freshly opened
// store and, for the administrative store, seeds the default administrator.
package bootstrap

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/keys"
	"github.com/krapi/krapi/internal/registry"
	"github.com/krapi/krapi/pkg/models"
)

//go:embed schema_admin.sql
var adminSchemaSQL string

//go:embed schema_tenant.sql
var tenantSchemaSQL string

// SeedSpec controls the default administrator created in an empty
// administrative store.
type SeedSpec struct {
	Email string
	Name  string
}

// EnsureBaseline creates the full base table set for the handle's store
// kind if absent. Idempotent, and executed inside one transaction so a
// concurrent self-invocation never observes a partially created table set.
func EnsureBaseline(ctx context.Context, h *registry.Handle) error {
	schema := tenantSchemaSQL
	if h.Kind() == registry.KindAdmin {
		schema = adminSchemaSQL
	}

	tx, err := h.DB().BeginTx(ctx, nil)
	if err != nil {
		return errs.SchemaDrift("bootstrap.EnsureBaseline", h.ID(), err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		tx.Rollback()
		return errs.SchemaDrift("bootstrap.EnsureBaseline", h.ID(), fmt.Errorf("apply baseline schema: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return errs.SchemaDrift("bootstrap.EnsureBaseline", h.ID(), err)
	}
	return nil
}

// SeedDefaultAdmin inserts exactly one master administrator with a generated
// access key and password when the admins table is empty. The generated
// password is logged once at creation; only its hash is stored.
//
// Returns the seeded administrator, or nil if one already existed.
func SeedDefaultAdmin(ctx context.Context, h *registry.Handle, spec SeedSpec, log *zap.Logger) (*models.Administrator, error) {
	if h.Kind() != registry.KindAdmin {
		return nil, errs.Validation("bootstrap.SeedDefaultAdmin", "seeding applies to the administrative store only")
	}
	if log == nil {
		log = zap.NewNop()
	}

	var count int
	if err := h.QueryRow(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count); err != nil {
		return nil, errs.SchemaDrift("bootstrap.SeedDefaultAdmin", h.ID(), err)
	}
	if count > 0 {
		return nil, nil
	}

	password := keys.NewPassword()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}

	now := time.Now().UTC()
	admin := &models.Administrator{
		ID:           uuid.NewString(),
		Email:        spec.Email,
		Name:         spec.Name,
		PasswordHash: string(hash),
		Role:         models.RoleMaster,
		AccessLevel:  100,
		APIKey:       keys.NewMasterKey(),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = h.Exec(ctx, `
		INSERT INTO admins (id, email, name, password_hash, role, access_level, api_key, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		admin.ID, admin.Email, admin.Name, admin.PasswordHash, admin.Role,
		admin.AccessLevel, admin.APIKey, boolInt(admin.Active), admin.CreatedAt, admin.UpdatedAt)
	if err != nil {
		return nil, errs.SchemaDrift("bootstrap.SeedDefaultAdmin", h.ID(), err)
	}

	log.Info("seeded default administrator",
		zap.String("email", admin.Email),
		zap.String("api_key", admin.APIKey),
		zap.String("initial_password", password))
	return admin, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
