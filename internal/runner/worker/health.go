package worker

import (
	"sync"
	"time"
)

// DefaultReadyWindow is how recent a broker round-trip must be for readiness.
const DefaultReadyWindow = 30 * time.Second

// Health records the last successful broker interaction of the worker loops in a process.
type Health struct {
	mu      sync.RWMutex
	started time.Time
	lastOK  time.Time
	window  time.Duration
	now     func() time.Time
}

// NewHealth creates a tracker. A zero window means DefaultReadyWindow.
func NewHealth(window time.Duration) *Health {
	return newHealthWithClock(window, time.Now)
}

func newHealthWithClock(window time.Duration, now func() time.Time) *Health {
	if window <= 0 {
		window = DefaultReadyWindow
	}
	return &Health{started: now(), window: window, now: now}
}

// MarkOK records a successful broker round-trip.
func (h *Health) MarkOK() {
	if h == nil {
		return
	}
	now := h.now()
	h.mu.Lock()
	h.lastOK = now
	h.mu.Unlock()
}

// LastOK returns the time of the last successful round-trip, zero if none.
func (h *Health) LastOK() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastOK
}

// Ready reports whether a broker round-trip succeeded within the window.
func (h *Health) Ready() bool {
	last := h.LastOK()
	if last.IsZero() {
		return false
	}
	return h.now().Sub(last) <= h.window
}

// Uptime returns how long the tracker has existed.
func (h *Health) Uptime() time.Duration {
	return h.now().Sub(h.started)
}
