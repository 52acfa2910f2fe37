// Package ratelimit enforces fixed-window request limits in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"coderun/internal/common/cache"
	appErr "coderun/pkg/errors"
)

const defaultRedisTimeout = 500 * time.Millisecond

// Counter is the cache surface the limiter needs.
type Counter interface {
	cache.CounterOps
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Limiter counts hits per key inside a fixed window.
type Limiter struct {
	cache        Counter
	window       time.Duration
	redisTimeout time.Duration
}

// NewLimiter creates a limiter. window is used when Allow gets a zero window.
func NewLimiter(counter Counter, window, redisTimeout time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if redisTimeout <= 0 {
		redisTimeout = defaultRedisTimeout
	}
	return &Limiter{cache: counter, window: window, redisTimeout: redisTimeout}
}

// Allow records one hit on key and fails with TooManyRequests above max.
// A non-positive max disables the check.
func (l *Limiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l == nil || l.cache == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = l.window
	}

	ctx, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	first, err := l.cache.SetNX(ctx, key, 1, window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !first {
		count, err = l.cache.Incr(ctx, key)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
		}
		// A key that lost its ttl would never reset.
		if remaining, err := l.cache.TTL(ctx, key); err == nil && remaining < 0 {
			_ = l.cache.Expire(ctx, key, window)
		}
	}
	if count > int64(max) {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}
