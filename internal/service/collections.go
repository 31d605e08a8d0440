package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/registry"
	"github.com/krapi/krapi/pkg/models"
)

const collectionColumns = `id, name, fields, indexes, created_at, updated_at`

// CreateCollection defines a new collection in the project's store. Field
// and index definitions are stored verbatim; value validation against the
// schema is a caller concern.
func (s *Service) CreateCollection(ctx context.Context, projectID, name string, fields []models.Field, indexes []models.Index) (*models.Collection, error) {
	const op = "service.CreateCollection"
	if name == "" {
		return nil, errs.Validation(op, "collection name is required")
	}

	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &models.Collection{
		ID:        uuid.NewString(),
		Name:      name,
		Fields:    fields,
		Indexes:   indexes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.withRepair(ctx, tenant, func() error {
		_, err := tenant.Exec(ctx, `
			INSERT INTO collections (id, name, fields, indexes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, mustJSON(c.Fields), mustJSON(c.Indexes), c.CreatedAt, c.UpdatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.DuplicateName(op, projectID, name)
		}
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}

	s.appendChange(ctx, tenant, "", "collection.created", "collection", c.ID, name)
	return c, nil
}

// GetCollection returns one collection by name.
func (s *Service) GetCollection(ctx context.Context, projectID, name string) (*models.Collection, error) {
	const op = "service.GetCollection"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var c *models.Collection
	err = s.withRepair(ctx, tenant, func() error {
		row := tenant.QueryRow(ctx, `SELECT `+collectionColumns+` FROM collections WHERE name = ?`, name)
		c, err = scanCollection(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, projectID, name)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	return c, nil
}

// ListCollections returns all collections in a project, oldest first.
func (s *Service) ListCollections(ctx context.Context, projectID string) ([]*models.Collection, error) {
	const op = "service.ListCollections"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var collections []*models.Collection
	err = s.withRepair(ctx, tenant, func() error {
		rows, err := tenant.Query(ctx,
			`SELECT `+collectionColumns+` FROM collections ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		collections = collections[:0]
		for rows.Next() {
			c, err := scanCollection(rows)
			if err != nil {
				return err
			}
			collections = append(collections, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	if collections == nil {
		collections = []*models.Collection{}
	}
	return collections, nil
}

// UpdateCollection patches a collection definition. Renames keep documents
// attached because documents reference the collection identifier, not the
// name.
func (s *Service) UpdateCollection(ctx context.Context, projectID, name string, patch models.CollectionPatch) (*models.Collection, error) {
	const op = "service.UpdateCollection"
	c, err := s.GetCollection(ctx, projectID, name)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Fields != nil {
		c.Fields = patch.Fields
	}
	if patch.Indexes != nil {
		c.Indexes = patch.Indexes
	}
	c.UpdatedAt = time.Now().UTC()

	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}
	_, err = tenant.Exec(ctx, `
		UPDATE collections SET name = ?, fields = ?, indexes = ?, updated_at = ? WHERE id = ?`,
		c.Name, mustJSON(c.Fields), mustJSON(c.Indexes), c.UpdatedAt, c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.DuplicateName(op, projectID, c.Name)
		}
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}

	s.appendChange(ctx, tenant, "", "collection.updated", "collection", c.ID, c.Name)
	return c, nil
}

// DeleteCollection removes a collection and its documents. Documents are
// deleted explicitly before the collection row, independent of any
// engine-enforced cascade.
func (s *Service) DeleteCollection(ctx context.Context, projectID, name string) (bool, error) {
	const op = "service.DeleteCollection"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return false, err
	}

	collectionID, err := s.resolveCollection(ctx, tenant, projectID, name)
	if err != nil {
		if errs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if _, err := tenant.Exec(ctx, `DELETE FROM documents WHERE collection_id = ?`, collectionID); err != nil {
		return false, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	res, err := tenant.Exec(ctx, `DELETE FROM collections WHERE id = ?`, collectionID)
	if err != nil {
		return false, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	n, _ := res.RowsAffected()

	s.appendChange(ctx, tenant, "", "collection.deleted", "collection", collectionID, name)
	return n > 0, nil
}

// resolveCollection maps a collection name to its identifier. Every document
// operation resolves the name first so a later rename never orphans
// documents.
func (s *Service) resolveCollection(ctx context.Context, tenant *registry.Handle, projectID, name string) (string, error) {
	var id string
	err := s.withRepair(ctx, tenant, func() error {
		return tenant.QueryRow(ctx, `SELECT id FROM collections WHERE name = ?`, name).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.NotFound("service.resolveCollection", projectID, name)
	}
	if err != nil {
		return "", errs.Wrap(errs.CodeConnection, "service.resolveCollection", projectID, err)
	}
	return id, nil
}

func scanCollection(row rowScanner) (*models.Collection, error) {
	var (
		c       models.Collection
		fields  string
		indexes string
	)
	if err := row.Scan(&c.ID, &c.Name, &fields, &indexes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	lenientJSON(fields, &c.Fields)
	lenientJSON(indexes, &c.Indexes)
	return &c, nil
}
