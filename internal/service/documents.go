package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/registry"
	"github.com/krapi/krapi/pkg/models"
)

const documentColumns = `id, collection_id, data, created_by, updated_by, version, deleted, created_at, updated_at`

// Payload fields known to hold numbers; ordering by one of these compares
// numerically instead of lexicographically.
var numericOrderFields = map[string]bool{
	"priority": true,
	"score":    true,
	"rating":   true,
	"count":    true,
}

// Built-in sortable columns.
var builtinOrderColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"id":         "id",
}

// CreateDocument stores one payload in a collection. The payload round-trips
// through serialization; audit metadata records the actor.
func (s *Service) CreateDocument(ctx context.Context, projectID, collection string, data map[string]any, actor string) (*models.Document, error) {
	const op = "service.CreateDocument"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		Data:         data,
		CreatedBy:    actor,
		UpdatedBy:    actor,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.withRepair(ctx, tenant, func() error {
		_, err := tenant.Exec(ctx, `
			INSERT INTO documents (id, collection_id, data, created_by, updated_by, version, deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, 0, ?, ?)`,
			doc.ID, doc.CollectionID, mustJSON(doc.Data), doc.CreatedBy, doc.UpdatedBy,
			doc.CreatedAt, doc.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}

	s.appendChange(ctx, tenant, actor, "document.created", "document", doc.ID, collection)
	s.touchUsage(ctx, projectID)
	return doc, nil
}

// GetDocument returns one document by identifier. Soft-deleted documents are
// not found.
func (s *Service) GetDocument(ctx context.Context, projectID, collection, id string) (*models.Document, error) {
	const op = "service.GetDocument"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return nil, err
	}

	var doc *models.Document
	err = s.withRepair(ctx, tenant, func() error {
		row := tenant.QueryRow(ctx, `
			SELECT `+documentColumns+` FROM documents
			WHERE id = ? AND collection_id = ? AND deleted = 0`, id, collectionID)
		doc, err = scanDocument(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, projectID, id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}

	s.touchUsage(ctx, projectID)
	return doc, nil
}

// ListDocuments returns one page of documents plus the total matching count.
// Equality filters extract payload fields and are ANDed; ordering accepts a
// built-in column or an arbitrary payload field.
func (s *Service) ListDocuments(ctx context.Context, projectID, collection string, filter models.DocumentFilter) (*models.DocumentPage, error) {
	const op = "service.ListDocuments"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return nil, err
	}

	where, args := buildDocumentFilter(collectionID, filter.Equals)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	orderBy, err := orderClause(filter)
	if err != nil {
		return nil, err
	}

	result := &models.DocumentPage{Page: page, Limit: limit}
	err = s.withRepair(ctx, tenant, func() error {
		// Count first, then the page: consumers get both in one call.
		if err := tenant.QueryRow(ctx,
			`SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&result.Total); err != nil {
			return err
		}

		dataQuery := fmt.Sprintf(
			`SELECT %s FROM documents WHERE %s ORDER BY %s LIMIT ? OFFSET ?`,
			documentColumns, where, orderBy)
		rows, err := tenant.Query(ctx, dataQuery, append(append([]any{}, args...), limit, offset)...)
		if err != nil {
			return err
		}
		defer rows.Close()

		result.Documents = result.Documents[:0]
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				return err
			}
			result.Documents = append(result.Documents, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	if result.Documents == nil {
		result.Documents = []*models.Document{}
	}

	s.touchUsage(ctx, projectID)
	return result, nil
}

// SearchDocuments substring-matches either the named payload fields (OR'd)
// or, when none are given, the raw serialized payload.
func (s *Service) SearchDocuments(ctx context.Context, projectID, collection, term string, fields []string) ([]*models.Document, error) {
	const op = "service.SearchDocuments"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return nil, err
	}

	where := `collection_id = ? AND deleted = 0`
	args := []any{collectionID}
	pattern := "%" + escapeLike(term) + "%"

	if len(fields) == 0 {
		where += ` AND data LIKE ? ESCAPE '\'`
		args = append(args, pattern)
	} else {
		var ors []string
		for _, f := range fields {
			if !validFieldName(f) {
				return nil, errs.Validation(op, fmt.Sprintf("invalid search field %q", f))
			}
			ors = append(ors, `json_extract(data, ?) LIKE ? ESCAPE '\'`)
			args = append(args, "$."+f, pattern)
		}
		where += ` AND (` + strings.Join(ors, " OR ") + `)`
	}

	var docs []*models.Document
	err = s.withRepair(ctx, tenant, func() error {
		rows, err := tenant.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM documents WHERE %s ORDER BY created_at ASC, id ASC`,
			documentColumns, where), args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		docs = docs[:0]
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	if docs == nil {
		docs = []*models.Document{}
	}

	s.touchUsage(ctx, projectID)
	return docs, nil
}

// CountDocuments returns the number of live documents in a collection.
func (s *Service) CountDocuments(ctx context.Context, projectID, collection string) (int, error) {
	const op = "service.CountDocuments"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return 0, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.withRepair(ctx, tenant, func() error {
		return tenant.QueryRow(ctx,
			`SELECT COUNT(*) FROM documents WHERE collection_id = ? AND deleted = 0`,
			collectionID).Scan(&count)
	})
	if err != nil {
		return 0, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}

	s.touchUsage(ctx, projectID)
	return count, nil
}

// updateRetryLimit bounds the optimistic-concurrency retry loop in
// UpdateDocument. Each retry means another writer committed between the
// read and the guarded write, so the loop makes progress overall.
const updateRetryLimit = 16

// UpdateDocument merges the patch into the stored payload, bumps the
// version, and records the actor. The identifier never changes. The write
// is guarded on the version read, so a concurrent writer's patch is never
// silently overwritten; on a lost race the read-merge-write is retried.
func (s *Service) UpdateDocument(ctx context.Context, projectID, collection, id string, patch map[string]any, actor string) (*models.Document, error) {
	const op = "service.UpdateDocument"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < updateRetryLimit; attempt++ {
		var doc *models.Document
		err = s.withRepair(ctx, tenant, func() error {
			row := tenant.QueryRow(ctx, `
				SELECT `+documentColumns+` FROM documents
				WHERE id = ? AND collection_id = ? AND deleted = 0`, id, collectionID)
			doc, err = scanDocument(row)
			return err
		})
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound(op, projectID, id)
		}
		if err != nil {
			return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
		}

		prev := doc.Version
		for k, v := range patch {
			doc.Data[k] = v
		}
		doc.Version = prev + 1
		doc.UpdatedBy = actor
		doc.UpdatedAt = time.Now().UTC()

		res, err := tenant.Exec(ctx, `
			UPDATE documents SET data = ?, updated_by = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ? AND deleted = 0`,
			mustJSON(doc.Data), doc.UpdatedBy, doc.Version, doc.UpdatedAt, doc.ID, prev)
		if err != nil {
			return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			s.appendChange(ctx, tenant, actor, "document.updated", "document", doc.ID, collection)
			s.touchUsage(ctx, projectID)
			return doc, nil
		}
	}
	return nil, errs.Wrap(errs.CodeConnection, op, projectID,
		fmt.Errorf("document %s: update contention not resolved after %d attempts", id, updateRetryLimit))
}

// DeleteDocument soft-deletes one document. All reads exclude soft-deleted
// documents; the row remains for audit until its collection is deleted.
func (s *Service) DeleteDocument(ctx context.Context, projectID, collection, id string) (bool, error) {
	const op = "service.DeleteDocument"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return false, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return false, err
	}

	var n int64
	err = s.withRepair(ctx, tenant, func() error {
		res, err := tenant.Exec(ctx, `
			UPDATE documents SET deleted = 1, updated_at = ?
			WHERE id = ? AND collection_id = ? AND deleted = 0`,
			time.Now().UTC(), id, collectionID)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return false, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	if n > 0 {
		s.appendChange(ctx, tenant, "", "document.deleted", "document", id, collection)
	}
	s.touchUsage(ctx, projectID)
	return n > 0, nil
}

// BulkCreateDocuments stores several payloads in one transaction.
func (s *Service) BulkCreateDocuments(ctx context.Context, projectID, collection string, payloads []map[string]any, actor string) ([]*models.Document, error) {
	const op = "service.BulkCreateDocuments"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	docs := make([]*models.Document, 0, len(payloads))
	for _, data := range payloads {
		docs = append(docs, &models.Document{
			ID:           uuid.NewString(),
			CollectionID: collectionID,
			Data:         data,
			CreatedBy:    actor,
			UpdatedBy:    actor,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	err = s.withRepair(ctx, tenant, func() error {
		return inTx(ctx, tenant, func(tx *sql.Tx) error {
			for _, doc := range docs {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO documents (id, collection_id, data, created_by, updated_by, version, deleted, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, 1, 0, ?, ?)`,
					doc.ID, doc.CollectionID, mustJSON(doc.Data), doc.CreatedBy, doc.UpdatedBy,
					doc.CreatedAt, doc.UpdatedAt)
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}

	s.appendChange(ctx, tenant, actor, "document.bulk_created", "collection", collectionID, collection)
	s.touchUsage(ctx, projectID)
	return docs, nil
}

// BulkUpdateDocuments applies several payload patches in one transaction.
// Unknown identifiers are skipped; the returned count is the number of
// documents actually updated.
func (s *Service) BulkUpdateDocuments(ctx context.Context, projectID, collection string, items []models.BulkUpdateItem, actor string) (int, error) {
	const op = "service.BulkUpdateDocuments"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return 0, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	updated := 0
	err = s.withRepair(ctx, tenant, func() error {
		updated = 0
		return inTx(ctx, tenant, func(tx *sql.Tx) error {
			for _, item := range items {
				var raw string
				var version int
				err := tx.QueryRowContext(ctx, `
					SELECT data, version FROM documents
					WHERE id = ? AND collection_id = ? AND deleted = 0`,
					item.ID, collectionID).Scan(&raw, &version)
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				if err != nil {
					return err
				}

				data := lenientMap(raw)
				for k, v := range item.Data {
					data[k] = v
				}
				_, err = tx.ExecContext(ctx, `
					UPDATE documents SET data = ?, updated_by = ?, version = ?, updated_at = ? WHERE id = ?`,
					mustJSON(data), actor, version+1, now, item.ID)
				if err != nil {
					return err
				}
				updated++
			}
			return nil
		})
	})
	if err != nil {
		return 0, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}

	s.appendChange(ctx, tenant, actor, "document.bulk_updated", "collection", collectionID, collection)
	s.touchUsage(ctx, projectID)
	return updated, nil
}

// BulkDeleteDocuments soft-deletes the given identifiers in one transaction
// and returns the number actually deleted.
func (s *Service) BulkDeleteDocuments(ctx context.Context, projectID, collection string, ids []string) (int, error) {
	const op = "service.BulkDeleteDocuments"
	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return 0, err
	}
	collectionID, err := s.resolveCollection(ctx, tenant, projectID, collection)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	deleted := 0
	err = s.withRepair(ctx, tenant, func() error {
		deleted = 0
		return inTx(ctx, tenant, func(tx *sql.Tx) error {
			for _, id := range ids {
				res, err := tx.ExecContext(ctx, `
					UPDATE documents SET deleted = 1, updated_at = ?
					WHERE id = ? AND collection_id = ? AND deleted = 0`,
					now, id, collectionID)
				if err != nil {
					return err
				}
				if n, _ := res.RowsAffected(); n > 0 {
					deleted++
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}

	s.appendChange(ctx, tenant, "", "document.bulk_deleted", "collection", collectionID, collection)
	s.touchUsage(ctx, projectID)
	return deleted, nil
}

// buildDocumentFilter compiles equality filters into a WHERE fragment.
// Filter keys are sorted for deterministic SQL; values are always
// parameterized, never interpolated.
func buildDocumentFilter(collectionID string, equals map[string]any) (string, []any) {
	conditions := []string{"collection_id = ?", "deleted = 0"}
	args := []any{collectionID}

	fields := make([]string, 0, len(equals))
	for k := range equals {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	for _, f := range fields {
		conditions = append(conditions, "json_extract(data, ?) = ?")
		args = append(args, "$."+f, equals[f])
	}
	return strings.Join(conditions, " AND "), args
}

// orderClause compiles the filter's ordering into SQL. Built-in columns sort
// natively; payload fields sort numerically when well known to hold numbers,
// lexicographically as extracted text otherwise. The identifier tiebreak
// keeps pagination deterministic.
func orderClause(filter models.DocumentFilter) (string, error) {
	dir := "ASC"
	if filter.Descending {
		dir = "DESC"
	}

	field := filter.OrderBy
	if field == "" {
		field = "created_at"
	}

	if col, ok := builtinOrderColumns[field]; ok {
		return fmt.Sprintf("%s %s, id ASC", col, dir), nil
	}
	if !validFieldName(field) {
		return "", errs.Validation("service.ListDocuments", fmt.Sprintf("invalid order field %q", field))
	}
	if numericOrderFields[field] {
		return fmt.Sprintf("CAST(json_extract(data, '$.%s') AS REAL) %s, id ASC", field, dir), nil
	}
	return fmt.Sprintf("CAST(json_extract(data, '$.%s') AS TEXT) %s, id ASC", field, dir), nil
}

// escapeLike escapes LIKE wildcards so a search term matches literally.
// Queries using the result must carry an ESCAPE '\' clause.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

// validFieldName restricts payload field names that get embedded into SQL
// expressions. Values never take this path; they are parameterized.
func validFieldName(f string) bool {
	if f == "" {
		return false
	}
	for _, r := range f {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// inTx runs fn inside a transaction on the handle.
func inTx(ctx context.Context, h *registry.Handle, fn func(*sql.Tx) error) error {
	tx, err := h.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc     models.Document
		raw     string
		deleted int
	)
	err := row.Scan(&doc.ID, &doc.CollectionID, &raw, &doc.CreatedBy, &doc.UpdatedBy,
		&doc.Version, &deleted, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Data = lenientMap(raw)
	doc.Deleted = deleted == 1
	return &doc, nil
}
