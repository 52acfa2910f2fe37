package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"coderun/internal/common/cache"
	"coderun/internal/common/ratelimit"
	appErr "coderun/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return ratelimit.NewLimiter(rc, time.Minute, time.Second), mr
}

func TestLimiterAllowsUpToMax(t *testing.T) {
	t.Parallel()
	l, mr := newLimiter(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "k", 3, 0); err != nil {
			t.Fatalf("hit %d rejected: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, "k", 3, 0); !appErr.Is(err, appErr.TooManyRequests) {
		t.Fatalf("expected TooManyRequests, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Allow(ctx, "k", 3, 0); err != nil {
		t.Fatalf("window must reset: %v", err)
	}
}

func TestLimiterRestoresLostTTL(t *testing.T) {
	t.Parallel()
	l, mr := newLimiter(t)
	_ = mr.Set("k", "5")
	if err := l.Allow(context.Background(), "k", 100, 10*time.Second); err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if ttl := mr.TTL("k"); ttl != 10*time.Second {
		t.Fatalf("expected ttl restored, got %v", ttl)
	}
}

func TestLimiterDisabledAndUnavailable(t *testing.T) {
	t.Parallel()
	l, mr := newLimiter(t)
	if err := l.Allow(context.Background(), "k", 0, 0); err != nil {
		t.Fatalf("zero max must disable: %v", err)
	}
	mr.SetError("ERR down")
	if err := l.Allow(context.Background(), "k", 1, 0); !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("expected CacheError, got %v", err)
	}
	var nilLimiter *ratelimit.Limiter
	if err := nilLimiter.Allow(context.Background(), "k", 1, 0); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}
