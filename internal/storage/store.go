// Package storage holds the OTP send-cooldown store. Redis backs it in
// production; the in-memory client exists for dev and tests without Redis.
package storage

import (
	"context"
	"time"
)

// CooldownStore limits how often an OTP may be dispatched per phone number.
// Implementations: redis.Client, memory.Client.
type CooldownStore interface {
	// AllowSend counts a send for the phone and reports whether it stays
	// within max sends per window. Counting and checking are one atomic step.
	AllowSend(ctx context.Context, phone string, max int, window time.Duration) (allowed bool, err error)
	Close() error
}
