package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/orvio/server/internal/model"
)

// ErrDuplicateKeyName is returned when the user already has a key by that name.
var ErrDuplicateKeyName = errors.New("api key name already in use")

// ApiKeyRepo defines the interface for API key descriptor operations
type ApiKeyRepo interface {
	Create(ctx context.Context, userID, sessionID uuid.UUID, name string) (model.ApiKey, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.ApiKey, error)
	GetBySession(ctx context.Context, sessionID uuid.UUID) (model.ApiKey, error)
	DeleteBySession(ctx context.Context, sessionID uuid.UUID) error
	TouchLastUsed(ctx context.Context, sessionID uuid.UUID) error
}

type apiKeyRepo struct {
	db *sql.DB
}

// NewApiKeyRepo creates a new ApiKeyRepo instance
func NewApiKeyRepo(db *sql.DB) ApiKeyRepo {
	return &apiKeyRepo{db: db}
}

// Create inserts a descriptor row pointing at the key's backing session.
func (r *apiKeyRepo) Create(ctx context.Context, userID, sessionID uuid.UUID, name string) (model.ApiKey, error) {
	var k model.ApiKey
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (user_id, session_id, name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, userID, sessionID, name).Scan(&idStr, &k.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return model.ApiKey{}, ErrDuplicateKeyName
		}
		return model.ApiKey{}, fmt.Errorf("insert api key: %w", err)
	}
	k.ID, _ = uuid.Parse(idStr)
	k.UserID = userID
	k.SessionID = sessionID
	k.Name = name
	return k, nil
}

// ListByUser returns all key descriptors of the user, newest first.
func (r *apiKeyRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.ApiKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, name, created_at, last_used_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.ApiKey
	for rows.Next() {
		var k model.ApiKey
		var idStr, userIDStr, sessionIDStr string
		if err := rows.Scan(&idStr, &userIDStr, &sessionIDStr, &k.Name, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		k.ID, _ = uuid.Parse(idStr)
		k.UserID, _ = uuid.Parse(userIDStr)
		k.SessionID, _ = uuid.Parse(sessionIDStr)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// GetBySession returns the descriptor of the key backed by the session.
func (r *apiKeyRepo) GetBySession(ctx context.Context, sessionID uuid.UUID) (model.ApiKey, error) {
	var k model.ApiKey
	var idStr, userIDStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at, last_used_at
		FROM api_keys
		WHERE session_id = $1
	`, sessionID).Scan(&idStr, &userIDStr, &k.Name, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ApiKey{}, ErrNotFound
		}
		return model.ApiKey{}, fmt.Errorf("get api key: %w", err)
	}
	k.ID, _ = uuid.Parse(idStr)
	k.UserID, _ = uuid.Parse(userIDStr)
	k.SessionID = sessionID
	return k, nil
}

// DeleteBySession removes the descriptor when the key is revoked.
func (r *apiKeyRepo) DeleteBySession(ctx context.Context, sessionID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM api_keys WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUsed records key activity for the stats aggregation.
func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = now() WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}
