package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyAccessToken(t *testing.T) {
	svc := NewJWTService("test-secret-at-least-32-characters!!", 15*time.Minute)
	userID := uuid.New()
	sessionID := uuid.New()

	token, err := svc.SignAccessToken(userID, sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, sessionID, claims.SessionID)
	assert.NotNil(t, claims.ExpiresAt)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	svc := NewJWTService("secret-one-secret-one-secret-one!!!!", 15*time.Minute)
	other := NewJWTService("secret-two-secret-two-secret-two!!!!", 15*time.Minute)

	token, err := svc.SignAccessToken(uuid.New(), uuid.New())
	require.NoError(t, err)

	_, err = other.VerifyToken(token)
	assert.Error(t, err, "token signed with a different secret must fail")
}

func TestVerifyToken_Expired(t *testing.T) {
	svc := NewJWTService("test-secret-at-least-32-characters!!", time.Millisecond)

	token, err := svc.SignAccessToken(uuid.New(), uuid.New())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = svc.VerifyToken(token)
	assert.Error(t, err, "expired token must fail verification")
}

func TestVerifyToken_Garbage(t *testing.T) {
	svc := NewJWTService("test-secret-at-least-32-characters!!", 15*time.Minute)
	_, err := svc.VerifyToken("not.a.jwt")
	assert.Error(t, err)
}
