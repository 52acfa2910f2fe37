package worker

import (
	"context"
	"time"
)

const (
	defaultBackoffBase = 100 * time.Millisecond
	defaultBackoffMax  = 5 * time.Second
)

// ComputeBackoff doubles base once per retry and clamps the result to max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount <= 0 {
		if max > 0 && base > max {
			return max
		}
		return base
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// backoff tracks consecutive failures of one loop. Not safe for concurrent use.
type backoff struct {
	base     time.Duration
	max      time.Duration
	failures int
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	return &backoff{base: base, max: max}
}

// Next returns the delay for the current failure streak and extends it.
func (b *backoff) Next() time.Duration {
	d := ComputeBackoff(b.failures, b.base, b.max)
	b.failures++
	return d
}

func (b *backoff) Reset() {
	b.failures = 0
}

// sleepCtx waits for d or until ctx is done. It reports whether the full delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
