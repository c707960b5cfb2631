package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the Redis-backed cooldown store.
type Client struct {
	cli *redis.Client
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// AllowSend increments otp_send:{phone} and sets the window expiry on the
// first hit. INCR is atomic, so two racing sends never both see count 1.
func (c *Client) AllowSend(ctx context.Context, phone string, max int, window time.Duration) (bool, error) {
	key := "otp_send:" + phone
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		if err := c.cli.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("redis expire: %w", err)
		}
	}
	return n <= int64(max), nil
}
