package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowSend_WithinLimit(t *testing.T) {
	c := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := c.AllowSend(ctx, "+491234567890", 3, 10*time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "send %d must be allowed", i+1)
	}

	allowed, err := c.AllowSend(ctx, "+491234567890", 3, 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "4th send within the window must be rejected")
}

func TestAllowSend_PerPhone(t *testing.T) {
	c := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.AllowSend(ctx, "+491111111111", 3, 10*time.Minute)
		require.NoError(t, err)
	}

	allowed, err := c.AllowSend(ctx, "+492222222222", 3, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "a different phone must have its own window")
}

func TestAllowSend_WindowExpiry(t *testing.T) {
	c := New()
	ctx := context.Background()

	_, err := c.AllowSend(ctx, "+491234567890", 1, 10*time.Millisecond)
	require.NoError(t, err)

	allowed, _ := c.AllowSend(ctx, "+491234567890", 1, 10*time.Millisecond)
	assert.False(t, allowed)

	time.Sleep(20 * time.Millisecond)

	allowed, err = c.AllowSend(ctx, "+491234567890", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed, "send after the window elapsed must be allowed")
}
