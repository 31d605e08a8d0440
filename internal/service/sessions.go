package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/krapi/krapi/internal/errs"
	"github.com/krapi/krapi/internal/keys"
	"github.com/krapi/krapi/pkg/models"
)

const sessionColumns = `id, token, subject_id, subject, project_id, scopes, expires_at, consumed, consumed_at, created_at`

// SessionSpec is the input for minting a session.
type SessionSpec struct {
	Subject   string // models.SubjectAdministrator | models.SubjectUser
	SubjectID string
	ProjectID string // required for user subjects
	Scopes    []string
	TTL       time.Duration
}

// CreateSession mints a short-lived, single-use bearer credential. Sessions
// always live in the administrative store regardless of subject.
func (s *Service) CreateSession(ctx context.Context, spec SessionSpec) (*models.Session, error) {
	const op = "service.CreateSession"
	if spec.SubjectID == "" {
		return nil, errs.Validation(op, "subject id is required")
	}
	if spec.Subject != models.SubjectAdministrator && spec.Subject != models.SubjectUser {
		return nil, errs.Validation(op, "subject must be administrator or user")
	}
	if spec.TTL <= 0 {
		spec.TTL = time.Hour
	}

	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		Token:     keys.NewSessionToken(),
		SubjectID: spec.SubjectID,
		Subject:   spec.Subject,
		ProjectID: spec.ProjectID,
		Scopes:    spec.Scopes,
		ExpiresAt: now.Add(spec.TTL),
		CreatedAt: now,
	}

	err = s.withRepair(ctx, admin, func() error {
		_, err := admin.Exec(ctx, `
			INSERT INTO sessions (id, token, subject_id, subject, project_id, scopes, expires_at, consumed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			sess.ID, sess.Token, sess.SubjectID, sess.Subject, sess.ProjectID,
			mustJSON(sess.Scopes), sess.ExpiresAt, sess.CreatedAt)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	return sess, nil
}

// GetSession returns a session by token, consumed or not.
func (s *Service) GetSession(ctx context.Context, token string) (*models.Session, error) {
	const op = "service.GetSession"
	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	var sess *models.Session
	err = s.withRepair(ctx, admin, func() error {
		row := admin.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token)
		sess, err = scanSession(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, "admin", "")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	return sess, nil
}

// ConsumeSession flips the one-way consumed flag and returns the session.
// Succeeds exactly once per session; an expired or already-consumed token
// is not found.
func (s *Service) ConsumeSession(ctx context.Context, token string) (*models.Session, error) {
	const op = "service.ConsumeSession"
	admin, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var n int64
	err = s.withRepair(ctx, admin, func() error {
		res, err := admin.Exec(ctx, `
			UPDATE sessions SET consumed = 1, consumed_at = ?
			WHERE token = ? AND consumed = 0 AND expires_at > ?`,
			now, token, now)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	if n == 0 {
		return nil, errs.NotFound(op, "admin", "")
	}
	return s.GetSession(ctx, token)
}

// DeleteExpiredSessions removes sessions past expiry and returns the count.
func (s *Service) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const op = "service.DeleteExpiredSessions"
	admin, err := s.admin(ctx)
	if err != nil {
		return 0, err
	}
	res, err := admin.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, errs.Wrap(errs.CodeConnection, op, "admin", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess       models.Session
		scopes     string
		consumed   int
		consumedAt sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.Token, &sess.SubjectID, &sess.Subject, &sess.ProjectID,
		&scopes, &sess.ExpiresAt, &consumed, &consumedAt, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	sess.Scopes = lenientStrings(scopes)
	sess.Consumed = consumed == 1
	if consumedAt.Valid {
		t := consumedAt.Time
		sess.ConsumedAt = &t
	}
	return &sess, nil
}
