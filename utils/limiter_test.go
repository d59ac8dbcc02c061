package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestAttemptLimiter_Allow(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewAttemptLimiter(client, "test", 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, "login:10.0.0.1"))
	}
	assert.ErrorIs(t, l.Allow(ctx, "login:10.0.0.1"), ErrRateLimited)

	// other keys have their own budget
	assert.NoError(t, l.Allow(ctx, "login:10.0.0.2"))

	ttl := mr.TTL("test:login:10.0.0.1")
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, l.Allow(ctx, "login:10.0.0.1"))
}

func TestAttemptLimiter_ArmsMissingExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewAttemptLimiter(client, "test", 3, time.Minute)

	// a counter left without a TTL must not lock the key out forever
	require.NoError(t, mr.Set("test:login:10.0.0.9", "5"))
	assert.ErrorIs(t, l.Allow(context.Background(), "login:10.0.0.9"), ErrRateLimited)
	assert.Equal(t, time.Minute, mr.TTL("test:login:10.0.0.9"))

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, l.Allow(context.Background(), "login:10.0.0.9"))
}

func TestAttemptLimiter_Reset(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewAttemptLimiter(client, "", 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "k"))
	require.ErrorIs(t, l.Allow(ctx, "k"), ErrRateLimited)
	require.NoError(t, l.Reset(ctx, "k"))
	assert.NoError(t, l.Allow(ctx, "k"))
}

func TestAttemptLimiter_BackendDown(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewAttemptLimiter(client, "test", 3, time.Minute)
	mr.Close()

	err := l.Allow(context.Background(), "k")
	assert.ErrorIs(t, err, ErrLimiterBackend)
}
