// Package ratelimit enforces a fixed-window per-client request budget.
package ratelimit

import (
	"context"
	"time"
)

// Result reports a single admission decision.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long the client should wait before retrying.
	// Zero when the request was allowed.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
