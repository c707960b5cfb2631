package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowWithinLimit(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("ip:1.2.3.4"), "request %d must be allowed", i+1)
	}
	assert.False(t, rl.Allow("ip:1.2.3.4"), "request over the limit must be denied")
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)

	require.True(t, rl.Allow("ip:1.1.1.1"))
	assert.False(t, rl.Allow("ip:1.1.1.1"))
	assert.True(t, rl.Allow("ip:2.2.2.2"), "a different key must not share the budget")
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(50*time.Millisecond, 1)

	require.True(t, rl.Allow("ip:1.2.3.4"))
	require.False(t, rl.Allow("ip:1.2.3.4"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("ip:1.2.3.4"), "budget must recover after the window passes")
}

func TestRateLimitMiddlewareRejectsWith429(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	handler := RateLimitMiddleware(rl, GetIPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}
