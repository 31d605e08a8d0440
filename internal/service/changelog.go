package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/registry"
	"github.com/krapi/krapi/pkg/models"
)

// appendChange writes one append-only audit record to a tenant store. Best
// effort: audit must never fail the mutation it describes.
func (s *Service) appendChange(ctx context.Context, tenant *registry.Handle, actor, action, entityType, entityID, detail string) {
	_, err := tenant.Exec(ctx, `
		INSERT INTO change_log (id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), actor, action, entityType, entityID, detail, time.Now().UTC())
	if err != nil {
		s.log.Warn("change log append failed",
			zap.String("store", tenant.ID()),
			zap.String("action", action),
			zap.Error(err))
	}
}

// ListChanges returns the most recent change-log entries for a project,
// newest first.
func (s *Service) ListChanges(ctx context.Context, projectID string, limit int) ([]*models.ChangeEntry, error) {
	const op = "service.ListChanges"
	if limit <= 0 {
		limit = 50
	}

	tenant, err := s.tenant(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var entries []*models.ChangeEntry
	err = s.withRepair(ctx, tenant, func() error {
		rows, err := tenant.Query(ctx, `
			SELECT id, actor, action, entity_type, entity_id, detail, created_at
			FROM change_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			var e models.ChangeEntry
			if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID,
				&e.Detail, &e.CreatedAt); err != nil {
				return err
			}
			entries = append(entries, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, projectID, err)
	}
	if entries == nil {
		entries = []*models.ChangeEntry{}
	}
	return entries, nil
}
