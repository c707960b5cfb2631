package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is an in-memory sliding-window limiter keyed by client IP.
// Per-phone OTP send throttling lives in the cooldown store; this layer only
// shields the unauthenticated endpoints from a single noisy address.
type RateLimiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	window  time.Duration
	maxHits int
}

// NewRateLimiter creates a limiter allowing maxHits requests per window per key
func NewRateLimiter(window time.Duration, maxHits int) *RateLimiter {
	rl := &RateLimiter{
		hits:    make(map[string][]time.Time),
		window:  window,
		maxHits: maxHits,
	}

	go rl.evictLoop()

	return rl
}

// Allow records a request for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rl.maxHits {
		rl.hits[key] = kept
		return false
	}

	rl.hits[key] = append(kept, now)
	return true
}

// evictLoop drops idle keys so the map does not grow without bound.
func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window)
		for key, hits := range rl.hits {
			live := false
			for _, t := range hits {
				if t.After(cutoff) {
					live = true
					break
				}
			}
			if !live {
				delete(rl.hits, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware rejects over-limit requests with 429 and a Retry-After
// hint sized to the limiter's window.
func RateLimitMiddleware(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(limiter.window / time.Second))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r)) {
				w.Header().Set("Retry-After", retryAfter)
				respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey extracts the client address for rate limiting. Behind a proxy the
// first X-Forwarded-For entry wins.
func GetIPKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return "ip:" + forwarded
	}
	return "ip:" + r.RemoteAddr
}
