package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/model"
)

// SessionRepo defines the interface for session repository operations.
// API keys reuse the same rows with never_expires = true.
type SessionRepo interface {
	Create(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID, tokenHash string, expiresAt *time.Time, neverExpires bool) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Session, error)
	FindActiveByTokenHash(ctx context.Context, tokenHash string) (model.Session, error)
	SetDevice(ctx context.Context, sessionID, deviceID uuid.UUID) error
	Revoke(ctx context.Context, sessionID uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// Create inserts a new session
func (r *sessionRepo) Create(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID, tokenHash string, expiresAt *time.Time, neverExpires bool) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, device_id, refresh_token_hash, expires_at, never_expires)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, userID, uuidPtr(deviceID), tokenHash, expiresAt, neverExpires).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session ID: %w", err)
	}
	return id, nil
}

const sessionColumns = `id, user_id, device_id, refresh_token_hash, never_expires, expires_at, revoked_at, created_at`

func scanSession(row *sql.Row) (model.Session, error) {
	var s model.Session
	var idStr, userIDStr string
	var deviceIDStr sql.NullString
	err := row.Scan(
		&idStr,
		&userIDStr,
		&deviceIDStr,
		&s.RefreshTokenHash,
		&s.NeverExpires,
		&s.ExpiresAt,
		&s.RevokedAt,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("query session: %w", err)
	}
	s.ID, _ = uuid.Parse(idStr)
	s.UserID, _ = uuid.Parse(userIDStr)
	if deviceIDStr.Valid && deviceIDStr.String != "" {
		d, _ := uuid.Parse(deviceIDStr.String)
		s.DeviceID = &d
	}
	return s, nil
}

// GetByID returns the session regardless of revocation; callers check RevokedAt.
func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

// FindActiveByTokenHash returns the session if it exists, is not revoked, and
// is either non-expiring or not yet expired.
func (r *sessionRepo) FindActiveByTokenHash(ctx context.Context, tokenHash string) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE refresh_token_hash = $1
		  AND revoked_at IS NULL
		  AND (never_expires OR expires_at > now())
	`, tokenHash)
	return scanSession(row)
}

// SetDevice binds a session to a registered device.
func (r *sessionRepo) SetDevice(ctx context.Context, sessionID, deviceID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET device_id = $2 WHERE id = $1
	`, sessionID, deviceID)
	if err != nil {
		return fmt.Errorf("set session device: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke sets revoked_at for the session. Irreversible.
func (r *sessionRepo) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL
	`, sessionID)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser revokes every active session owned by the user, API keys
// included.
func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke all sessions for user: %w", err)
	}
	return nil
}
