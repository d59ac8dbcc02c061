package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited    = errors.New("rate limited")
	ErrLimiterBackend = errors.New("limiter backend unavailable")
)

// AttemptLimiter counts attempts per key in fixed windows stored in Redis.
type AttemptLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	window      time.Duration
}

func NewAttemptLimiter(client redis.UniversalClient, prefix string, maxAttempts int, window time.Duration) *AttemptLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &AttemptLimiter{
		redis:       client,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Allow records one attempt for key and returns ErrRateLimited once the
// window's budget is spent. The counter and its expiry are written in one
// transaction; EXPIRE NX only arms the window on a key that has none.
func (l *AttemptLimiter) Allow(ctx context.Context, key string) error {
	k := l.prefix + ":" + key

	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterBackend, err)
	}

	if incr.Val() > int64(l.maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the attempts recorded for key.
func (l *AttemptLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterBackend, err)
	}
	return nil
}
