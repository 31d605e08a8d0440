package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/keys"
	"github.com/krapi/krapi/internal/registry"
	"github.com/krapi/krapi/pkg/models"
)

const accessKeyColumns = `id, key, class, name, project_id, scopes, rate_limit, expires_at, created_at`

// AccessKeySpec is the input for issuing an access key.
type AccessKeySpec struct {
	Class     string // models.KeyClassMaster | models.KeyClassTenant
	Name      string
	ProjectID string // required for tenant keys
	Scopes    []string
	RateLimit int
	ExpiresAt *time.Time
}

// CreateAccessKey issues a long-lived bearer credential. Control-plane keys
// live in the administrative store; tenant keys in their project's store.
// The generated value is returned once and stored for exact-value lookup.
func (s *Service) CreateAccessKey(ctx context.Context, spec AccessKeySpec) (*models.AccessKey, error) {
	const op = "service.CreateAccessKey"

	var (
		h   *registry.Handle
		err error
		key string
	)
	switch spec.Class {
	case models.KeyClassMaster:
		h, err = s.admin(ctx)
		key = keys.NewMasterKey()
	case models.KeyClassTenant:
		if spec.ProjectID == "" {
			return nil, errs.Validation(op, "tenant keys require a project id")
		}
		h, err = s.tenant(ctx, spec.ProjectID)
		key = keys.NewTenantKey()
	default:
		return nil, errs.Validation(op, "key class must be master or tenant")
	}
	if err != nil {
		return nil, err
	}

	ak := &models.AccessKey{
		ID:        uuid.NewString(),
		Key:       key,
		Class:     spec.Class,
		Name:      spec.Name,
		ProjectID: spec.ProjectID,
		Scopes:    spec.Scopes,
		RateLimit: spec.RateLimit,
		ExpiresAt: spec.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	err = s.withRepair(ctx, h, func() error {
		_, err := h.Exec(ctx, `
			INSERT INTO access_keys (id, key, class, name, project_id, scopes, rate_limit, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ak.ID, ak.Key, ak.Class, ak.Name, ak.ProjectID, mustJSON(ak.Scopes),
			ak.RateLimit, ak.ExpiresAt, ak.CreatedAt)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, h.ID(), err)
	}
	return ak, nil
}

// LookupAccessKey resolves a key by exact value. Control-plane keys are
// found in the administrative store; anything else falls through to a
// linear scan of tenant stores. The scan is O(tenants) — a known scaling
// caveat, kept explicit rather than silently optimized away.
func (s *Service) LookupAccessKey(ctx context.Context, key string) (*models.AccessKey, error) {
	const op = "service.LookupAccessKey"

	if keys.IsMaster(key) {
		admin, err := s.admin(ctx)
		if err != nil {
			return nil, err
		}
		ak, err := lookupKeyIn(ctx, admin, key)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
		}
		if ak != nil {
			return ak, nil
		}
		return nil, errs.NotFound(op, "admin", "")
	}

	projects, err := s.ListProjects(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if !s.reg.TenantExists(p.ID) {
			continue
		}
		tenant, err := s.tenant(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		ak, err := lookupKeyIn(ctx, tenant, key)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, errs.Wrap(errs.CodeConnection, op, p.ID, err)
		}
		if ak != nil {
			ak.ProjectID = p.ID
			return ak, nil
		}
	}
	return nil, errs.NotFound(op, "", "")
}

// ListAccessKeys returns keys from the administrative store when projectID
// is empty, otherwise from that project's store.
func (s *Service) ListAccessKeys(ctx context.Context, projectID string) ([]*models.AccessKey, error) {
	const op = "service.ListAccessKeys"
	var (
		h   *registry.Handle
		err error
	)
	if projectID == "" {
		h, err = s.admin(ctx)
	} else {
		h, err = s.tenant(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}

	var result []*models.AccessKey
	err = s.withRepair(ctx, h, func() error {
		rows, err := h.Query(ctx, `SELECT `+accessKeyColumns+` FROM access_keys ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = result[:0]
		for rows.Next() {
			ak, err := scanAccessKey(rows)
			if err != nil {
				return err
			}
			result = append(result, ak)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, h.ID(), err)
	}
	if result == nil {
		result = []*models.AccessKey{}
	}
	return result, nil
}

// DeleteAccessKey removes a key by identifier from the administrative store
// (empty projectID) or a project's store.
func (s *Service) DeleteAccessKey(ctx context.Context, projectID, id string) (bool, error) {
	const op = "service.DeleteAccessKey"
	var (
		h   *registry.Handle
		err error
	)
	if projectID == "" {
		h, err = s.admin(ctx)
	} else {
		h, err = s.tenant(ctx, projectID)
	}
	if err != nil {
		return false, err
	}

	res, err := h.Exec(ctx, `DELETE FROM access_keys WHERE id = ?`, id)
	if err != nil {
		return false, errs.Wrap(errs.CodeConnection, op, h.ID(), err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func lookupKeyIn(ctx context.Context, h *registry.Handle, key string) (*models.AccessKey, error) {
	row := h.QueryRow(ctx, `SELECT `+accessKeyColumns+` FROM access_keys WHERE key = ?`, key)
	ak, err := scanAccessKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	if ak.ExpiresAt != nil && ak.ExpiresAt.Before(time.Now().UTC()) {
		return nil, sql.ErrNoRows
	}
	return ak, nil
}

func scanAccessKey(row rowScanner) (*models.AccessKey, error) {
	var (
		ak        models.AccessKey
		scopes    string
		expiresAt sql.NullTime
	)
	err := row.Scan(&ak.ID, &ak.Key, &ak.Class, &ak.Name, &ak.ProjectID, &scopes,
		&ak.RateLimit, &expiresAt, &ak.CreatedAt)
	if err != nil {
		return nil, err
	}
	ak.Scopes = lenientStrings(scopes)
	if expiresAt.Valid {
		t := expiresAt.Time
		ak.ExpiresAt = &t
	}
	return &ak, nil
}
