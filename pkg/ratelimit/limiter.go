package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter answers whether another request under key is allowed right now.
// Implementations count within a fixed window.
type Limiter interface {
	// Allow records one request under key and reports whether the count is
	// still within limit for the current window.
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

type window struct {
	count int
	start time.Time
}

// WindowLimiter is an in-process fixed-window counter. It is the default
// limiter for single-instance deployments.
type WindowLimiter struct {
	duration time.Duration
	now      func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewWindowLimiter creates a limiter with the given window duration.
func NewWindowLimiter(duration time.Duration) *WindowLimiter {
	if duration <= 0 {
		duration = time.Hour
	}
	return &WindowLimiter{
		duration: duration,
		now:      time.Now,
		windows:  make(map[string]*window),
	}
}

// WithClock overrides the time source (useful for tests).
func (l *WindowLimiter) WithClock(fn func() time.Time) *WindowLimiter {
	if fn != nil {
		l.now = fn
	}
	return l
}

// Allow implements Limiter.
func (l *WindowLimiter) Allow(_ context.Context, key string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.duration {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= limit, nil
}

// Prune drops windows that expired before now. The janitor calls this
// periodically so idle keys do not accumulate.
func (l *WindowLimiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.duration {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
