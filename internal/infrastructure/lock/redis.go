package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"stockrecon/internal/core/apperror"
	"stockrecon/pkg/logger"
)

// Redis is a distributed lock built on redislock. The TTL bounds how long a
// crashed holder can block a document.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	prefix string
}

// NewRedis creates a lock with the given TTL that retries for up to wait.
func NewRedis(rdb *redis.Client, ttl, wait time.Duration) *Redis {
	return &Redis{
		client: redislock.New(rdb),
		ttl:    ttl,
		wait:   wait,
		prefix: "lock:",
	}
}

// Lock obtains key. A lock still held by someone else after the wait reports
// ConcurrentModification.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	step := 50 * time.Millisecond
	var retry redislock.RetryStrategy = redislock.NoRetry()
	if r.wait > 0 {
		retry = redislock.LimitRetry(redislock.LinearBackoff(step), int(r.wait/step))
	}

	l, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{RetryStrategy: retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, apperror.NewConcurrentModification("lock", key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		// Release must succeed even when the request context is already cancelled.
		if err := l.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.Warn(ctx, "failed to release lock", "key", key, "error", err)
		}
	}, nil
}
