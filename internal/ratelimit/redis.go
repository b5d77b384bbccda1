package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter and stamps the expiry on
// first hit, returning the count and the remaining window in one round trip.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// RedisLimiter is a fixed-window limiter backed by a shared Redis, so the
// budget holds across receiver replicas.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	limit  int
	prefix string
}

func NewRedisLimiter(client *redis.Client, window time.Duration, limit int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		window: window,
		limit:  limit,
		prefix: "mooring:ratelimit:",
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	vals, err := fixedWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check for %q: %w", key, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("rate limit check for %q: unexpected script reply %v", key, vals)
	}

	count, ttl := vals[0], vals[1]
	if count > int64(l.limit) {
		retryAfter := time.Duration(ttl) * time.Millisecond
		if retryAfter <= 0 {
			retryAfter = l.window
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}
	return Result{Allowed: true, Remaining: l.limit - int(count)}, nil
}
