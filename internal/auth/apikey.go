package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/repo"
)

var (
	// ErrApiKeyNotFound is returned when a key does not exist or does not
	// belong to the caller.
	ErrApiKeyNotFound = errors.New("api key not found")

	// ErrDuplicateKeyName is returned when the user already has a key with
	// the requested name.
	ErrDuplicateKeyName = errors.New("api key name already in use")
)

// ApiKeyDescriptor is the user-facing view of an API key. The key string is
// only shown once, at creation; the server keeps a hash.
type ApiKeyDescriptor struct {
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// ApiKeyService manages long-lived credentials. Each key is backed by a
// never-expiring session, so revocation shares the session code path.
type ApiKeyService struct {
	sessions   *SessionService
	apiKeyRepo repo.ApiKeyRepo
	sessRepo   repo.SessionRepo
}

// NewApiKeyService creates a new API key manager
func NewApiKeyService(sessions *SessionService, apiKeyRepo repo.ApiKeyRepo, sessRepo repo.SessionRepo) *ApiKeyService {
	return &ApiKeyService{
		sessions:   sessions,
		apiKeyRepo: apiKeyRepo,
		sessRepo:   sessRepo,
	}
}

// Create makes a named non-expiring session and returns its token as the key.
// Names are unique per user, not globally.
func (s *ApiKeyService) Create(ctx context.Context, userID uuid.UUID, name string) (string, error) {
	key, sessionID, err := s.sessions.CreateNonExpiringSession(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("create key session: %w", err)
	}

	if _, err := s.apiKeyRepo.Create(ctx, userID, sessionID, name); err != nil {
		// Undo the orphaned session so the key never half-exists.
		_ = s.sessRepo.Revoke(ctx, sessionID)
		if errors.Is(err, repo.ErrDuplicateKeyName) {
			return "", ErrDuplicateKeyName
		}
		return "", fmt.Errorf("create key descriptor: %w", err)
	}

	return key, nil
}

// ListAll returns the caller's key descriptors. The key string itself cannot
// be reconstructed from the stored hash, so listings identify keys by name.
func (s *ApiKeyService) ListAll(ctx context.Context, userID uuid.UUID) ([]ApiKeyDescriptor, error) {
	keys, err := s.apiKeyRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	descriptors := make([]ApiKeyDescriptor, 0, len(keys))
	for _, k := range keys {
		descriptors = append(descriptors, ApiKeyDescriptor{
			Name:       k.Name,
			CreatedAt:  k.CreatedAt,
			LastUsedAt: k.LastUsedAt,
		})
	}
	return descriptors, nil
}

// Revoke revokes the key's backing session and removes the descriptor.
// A key that does not belong to userID fails with ErrApiKeyNotFound.
func (s *ApiKeyService) Revoke(ctx context.Context, userID uuid.UUID, key string) error {
	tokenHash := HashRefreshToken(key)
	session, err := s.sessRepo.FindActiveByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrApiKeyNotFound
		}
		return fmt.Errorf("find key session: %w", err)
	}
	if session.UserID != userID || !session.NeverExpires {
		return ErrApiKeyNotFound
	}

	if err := s.apiKeyRepo.DeleteBySession(ctx, session.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrApiKeyNotFound
		}
		return fmt.Errorf("delete key descriptor: %w", err)
	}
	if err := s.sessRepo.Revoke(ctx, session.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("revoke key session: %w", err)
	}
	return nil
}
