package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/repo"
)

var (
	// ErrInvalidRefreshToken covers unknown, revoked and expired refresh
	// tokens. Distinguishable from malformed-JWT failures, which surface as
	// ErrUnauthenticated.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrUnauthenticated covers missing, malformed, expired and revoked
	// access tokens. Always a client error, never a server error.
	ErrUnauthenticated = errors.New("unauthenticated")
)

const defaultRefreshTokenTTL = 30 * 24 * time.Hour

// SessionService issues, refreshes, authenticates and revokes sessions.
type SessionService struct {
	sessionRepo repo.SessionRepo
	apiKeyRepo  repo.ApiKeyRepo
	jwtService  *JWTService
	refreshTTL  time.Duration
}

// NewSessionService creates a new session manager. refreshTTL <= 0 selects
// the default.
func NewSessionService(sessionRepo repo.SessionRepo, apiKeyRepo repo.ApiKeyRepo, jwtService *JWTService, refreshTTL time.Duration) *SessionService {
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTokenTTL
	}
	return &SessionService{
		sessionRepo: sessionRepo,
		apiKeyRepo:  apiKeyRepo,
		jwtService:  jwtService,
		refreshTTL:  refreshTTL,
	}
}

// CreateSession mints an access and refresh token pair bound to a new session.
func (s *SessionService) CreateSession(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID) (accessToken, refreshToken string, sessionID uuid.UUID, err error) {
	refreshToken, tokenHash, err := GenerateRefreshToken()
	if err != nil {
		return "", "", uuid.Nil, fmt.Errorf("generate refresh token: %w", err)
	}

	expiresAt := time.Now().Add(s.refreshTTL)
	sessionID, err = s.sessionRepo.Create(ctx, userID, deviceID, tokenHash, &expiresAt, false)
	if err != nil {
		return "", "", uuid.Nil, fmt.Errorf("create session: %w", err)
	}

	accessToken, err = s.jwtService.SignAccessToken(userID, sessionID)
	if err != nil {
		return "", "", uuid.Nil, fmt.Errorf("sign access token: %w", err)
	}

	return accessToken, refreshToken, sessionID, nil
}

// CreateNonExpiringSession creates the session backing an API key and returns
// its refresh token, which doubles as the key string.
func (s *SessionService) CreateNonExpiringSession(ctx context.Context, userID uuid.UUID) (refreshToken string, sessionID uuid.UUID, err error) {
	refreshToken, tokenHash, err := GenerateRefreshToken()
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("generate refresh token: %w", err)
	}

	sessionID, err = s.sessionRepo.Create(ctx, userID, nil, tokenHash, nil, true)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("create session: %w", err)
	}

	return refreshToken, sessionID, nil
}

// Refresh mints a new access token for the session owning the refresh token.
// The refresh token itself is not rotated.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	tokenHash := HashRefreshToken(refreshToken)
	session, err := s.sessionRepo.FindActiveByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrInvalidRefreshToken
		}
		return "", fmt.Errorf("find session: %w", err)
	}

	accessToken, err := s.jwtService.SignAccessToken(session.UserID, session.ID)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	if session.NeverExpires {
		// API-key refresh counts as key usage for the stats aggregation.
		// Stats bookkeeping must not fail the exchange itself.
		if err := s.apiKeyRepo.TouchLastUsed(ctx, session.ID); err != nil {
			log.Printf("Failed to touch api key for session %s: %v", session.ID, err)
		}
	}

	return accessToken, nil
}

// Authenticate validates the access token signature and expiry, then checks
// the referenced session is still live. A revoked session fails with
// ErrUnauthenticated even while the token's own expiry has not passed.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (*JWTClaims, error) {
	claims, err := s.jwtService.VerifyToken(accessToken)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessionRepo.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.RevokedAt != nil {
		return nil, ErrUnauthenticated
	}
	if session.UserID != claims.UserID {
		return nil, ErrUnauthenticated
	}

	return claims, nil
}

// Revoke revokes one session; subsequent Authenticate and Refresh against it
// fail. Irreversible.
func (s *SessionService) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.sessionRepo.Revoke(ctx, sessionID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAll revokes every session owned by the user, API keys included.
func (s *SessionService) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.sessionRepo.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke all sessions: %w", err)
	}
	return nil
}
