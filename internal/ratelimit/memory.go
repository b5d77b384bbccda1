package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a single-process fixed-window limiter for tests and local
// development. Stale windows are dropped lazily on access.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	window  time.Duration
	limit   int

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func NewMemoryLimiter(windowSize time.Duration, limit int) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		window:  windowSize,
		limit:   limit,
		Now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}

	w.count++
	if w.count > l.limit {
		return Result{Allowed: false, Remaining: 0, RetryAfter: w.resetAt.Sub(now)}, nil
	}
	return Result{Allowed: true, Remaining: l.limit - w.count}, nil
}
