package memory

import (
	"context"
	"sync"
	"time"
)

// Client is the in-memory cooldown store used when REDIS_URL is not set.
// Suitable for a single process only.
type Client struct {
	mu    sync.Mutex
	sends map[string][]time.Time
}

// New creates an empty in-memory cooldown store.
func New() *Client {
	return &Client{sends: make(map[string][]time.Time)}
}

func (c *Client) Close() error {
	return nil
}

// AllowSend keeps a sliding window of send timestamps per phone.
func (c *Client) AllowSend(_ context.Context, phone string, max int, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	kept := c.sends[phone][:0]
	for _, t := range c.sends[phone] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= max {
		c.sends[phone] = kept
		return false, nil
	}
	c.sends[phone] = append(kept, now)
	return true, nil
}
