package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/keys"
	"github.com/krapi/krapi/internal/registry"
	"github.com/krapi/krapi/pkg/models"
)

const projectColumns = `id, name, description, api_key, settings, active, owner_id,
	storage_bytes, call_count, last_call_at, created_at, updated_at`

// CreateProject allocates an identifier and access key, writes the project
// row to the administrative store, then eagerly creates and bootstraps the
// project's dedicated store.
func (s *Service) CreateProject(ctx context.Context, spec models.ProjectSpec) (*models.Project, error) {
	const op = "service.CreateProject"
	if spec.Name == "" {
		return nil, errs.Validation(op, "project name is required")
	}

	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &models.Project{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		Description: spec.Description,
		APIKey:      keys.NewTenantKey(),
		Settings:    spec.Settings,
		Active:      true,
		OwnerID:     spec.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.withRepair(ctx, admin, func() error {
		_, err := admin.Exec(ctx, `
			INSERT INTO projects (id, name, description, api_key, settings, active, owner_id,
				storage_bytes, call_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
			p.ID, p.Name, p.Description, p.APIKey, mustJSON(p.Settings),
			boolInt(p.Active), p.OwnerID, p.CreatedAt, p.UpdatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.DuplicateName(op, "admin", spec.Name)
		}
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}

	// Eager bootstrap: the dedicated store exists before the first data call.
	tenant, err := s.tenant(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	s.appendChange(ctx, tenant, p.OwnerID, "project.created", "project", p.ID, "")

	s.log.Info("project created", zap.String("project_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// GetProject returns one project by identifier.
func (s *Service) GetProject(ctx context.Context, id string) (*models.Project, error) {
	const op = "service.GetProject"
	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	var p *models.Project
	err = s.withRepair(ctx, admin, func() error {
		row := admin.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
		p, err = scanProject(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, "admin", id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	return p, nil
}

// ListProjects returns all projects, optionally filtered by a substring
// match on the name.
func (s *Service) ListProjects(ctx context.Context, search string) ([]*models.Project, error) {
	const op = "service.ListProjects"
	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if search != "" {
		query += ` WHERE name LIKE ?`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY created_at DESC, id ASC`

	var projects []*models.Project
	err = s.withRepair(ctx, admin, func() error {
		rows, err := admin.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		projects = projects[:0]
		for rows.Next() {
			p, err := scanProject(rows)
			if err != nil {
				return err
			}
			projects = append(projects, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	return projects, nil
}

// UpdateProject applies a patch to a project. Nil patch fields are left
// unchanged. Returns the updated project or NotFound. The read and the
// write share one transaction so concurrent patches to the same project
// never overwrite each other.
func (s *Service) UpdateProject(ctx context.Context, id string, patch models.ProjectPatch) (*models.Project, error) {
	const op = "service.UpdateProject"
	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	var p *models.Project
	err = inTx(ctx, admin, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
		var err error
		p, err = scanProject(row)
		if err != nil {
			return err
		}

		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Settings != nil {
			p.Settings = *patch.Settings
		}
		if patch.Active != nil {
			p.Active = *patch.Active
		}
		p.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx, `
			UPDATE projects SET name = ?, description = ?, settings = ?, active = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.Description, mustJSON(p.Settings), boolInt(p.Active), p.UpdatedAt, id)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, "admin", id)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.DuplicateName(op, "admin", p.Name)
		}
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	return p, nil
}

// DeleteProject removes a project and its dedicated store. Steps run in
// recovery order: tenant table contents first, then the store file, then
// the administrative row last, so a partial failure always leaves the
// administrative row as the recoverable anchor.
func (s *Service) DeleteProject(ctx context.Context, id string) (bool, error) {
	const op = "service.DeleteProject"
	admin, err := s.admin(ctx)
	if err != nil {
		return false, err
	}

	if _, err := s.GetProject(ctx, id); err != nil {
		if errs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if s.reg.TenantExists(id) {
		tenant, err := s.tenant(ctx, id)
		if err != nil {
			return false, err
		}
		if err := wipeTenantTables(ctx, tenant); err != nil {
			return false, errs.Wrap(errs.CodeConnection, op, id, err)
		}
		if err := s.reg.DestroyTenant(id); err != nil {
			return false, err
		}
	}

	res, err := admin.Exec(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return false, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	n, _ := res.RowsAffected()

	s.log.Info("project deleted", zap.String("project_id", id))
	return n > 0, nil
}

// RegenerateProjectKey replaces a project's access key and returns the new
// value.
func (s *Service) RegenerateProjectKey(ctx context.Context, id string) (string, error) {
	const op = "service.RegenerateProjectKey"
	admin, err := s.admin(ctx)
	if err != nil {
		return "", err
	}

	key := keys.NewTenantKey()
	res, err := admin.Exec(ctx, `UPDATE projects SET api_key = ?, updated_at = ? WHERE id = ?`,
		key, time.Now().UTC(), id)
	if err != nil {
		return "", errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", errs.NotFound(op, "admin", id)
	}
	return key, nil
}

// ProjectStats returns usage counters for a project, refreshing the stored
// size from the store file.
func (s *Service) ProjectStats(ctx context.Context, id string) (*models.UsageStats, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &models.UsageStats{
		ProjectID:  p.ID,
		CallCount:  p.CallCount,
		LastCallAt: p.LastCallAt,
	}

	if info, err := os.Stat(s.reg.TenantPath(id)); err == nil {
		stats.StorageBytes = info.Size()
	}

	tenant, err := s.tenant(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.withRepair(ctx, tenant, func() error {
		if err := tenant.QueryRow(ctx, `SELECT COUNT(*) FROM collections`).Scan(&stats.Collections); err != nil {
			return err
		}
		if err := tenant.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE deleted = 0`).Scan(&stats.Documents); err != nil {
			return err
		}
		return tenant.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.Users)
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, "service.ProjectStats", id, err)
	}

	admin, err := s.admin(ctx)
	if err == nil {
		_, _ = admin.Exec(ctx, `UPDATE projects SET storage_bytes = ? WHERE id = ?`, stats.StorageBytes, id)
	}
	return stats, nil
}

// touchUsage bumps a project's call counters. Best effort: a usage-counter
// failure never fails the data call that triggered it.
func (s *Service) touchUsage(ctx context.Context, projectID string) {
	admin, err := s.reg.OpenAdmin()
	if err != nil {
		return
	}
	_, _ = admin.Exec(ctx, `
		UPDATE projects SET call_count = call_count + 1, last_call_at = ? WHERE id = ?`,
		time.Now().UTC(), projectID)
}

// wipeTenantTables deletes all contents of a tenant store's tables before
// the store file itself is removed.
func wipeTenantTables(ctx context.Context, h *registry.Handle) error {
	for _, table := range []string{"documents", "collections", "users", "access_keys", "change_log"} {
		if _, err := h.Exec(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	var (
		p          models.Project
		settings   string
		active     int
		lastCallAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.APIKey, &settings, &active, &p.OwnerID,
		&p.StorageBytes, &p.CallCount, &lastCallAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	lenientJSON(settings, &p.Settings)
	p.Active = active == 1
	if lastCallAt.Valid {
		t := lastCallAt.Time
		p.LastCallAt = &t
	}
	return &p, nil
}
