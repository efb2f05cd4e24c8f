package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsBurst(t *testing.T) {
	l := NewLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("client-a"), "burst request %d should pass", i)
	}
	assert.False(t, l.Allow("client-a"), "request past burst should be rejected")
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow("client-a"))
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}

func TestRetryAfter(t *testing.T) {
	l := NewLimiter(10, 1)

	assert.Equal(t, time.Duration(0), l.RetryAfter("fresh"))

	require.True(t, l.Allow("busy"))
	assert.Greater(t, l.RetryAfter("busy"), time.Duration(0))
}

func TestWaitHonorsContext(t *testing.T) {
	l := NewLimiter(0.1, 1)
	require.True(t, l.Allow("k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, "k")
	assert.Error(t, err)
}

func TestPerMinute(t *testing.T) {
	l := PerMinute(60, 2)

	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}

func TestReset(t *testing.T) {
	l := NewLimiter(1, 1)
	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	l.Reset()
	assert.Equal(t, 0, l.Size())
	assert.True(t, l.Allow("k"))
}
