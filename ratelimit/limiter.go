// Package ratelimit implements fixed-window rate limiting on Redis.
//
// Each check is one Lua script that increments the window counter, starts
// its expiry on first use, and returns the count with the remaining window.
// No counter state is kept in process, so limits hold across any number of
// server instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every backend failure. Callers must deny the
// request when they see it.
var ErrRedisUnavailable = errors.New("rate limit backend unavailable")

const incrementScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var incrementLua = redis.NewScript(incrementScript)

// Result is the outcome of one CheckAndIncrement call. RetryAfter is set
// only when the call was not allowed.
type Result struct {
	Allowed    bool
	Limit      int
	Count      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per key in fixed windows.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a [Limiter]. now may be nil.
func New(rdb redis.UniversalClient, prefix string, now func() time.Time) *Limiter {
	if prefix == "" {
		prefix = "authcore:rl"
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{redis: rdb, prefix: prefix, now: now}
}

func (l *Limiter) key(key string) string {
	return l.prefix + ":" + key
}

// CheckAndIncrement counts one request against key and reports whether it
// fits within limit for the current window. The increment and the check
// are a single atomic operation.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window < time.Millisecond {
		return Result{}, fmt.Errorf("invalid rate limit rule: limit=%d window=%s", limit, window)
	}

	res, err := incrementLua.Run(ctx, l.redis, []string{l.key(key)}, window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return Result{}, fmt.Errorf("%w: invalid script response", ErrRedisUnavailable)
	}
	count, ok1 := parts[0].(int64)
	ttlMS, ok2 := parts[1].(int64)
	if !ok1 || !ok2 {
		return Result{}, fmt.Errorf("%w: invalid script response", ErrRedisUnavailable)
	}

	ttl := time.Duration(ttlMS) * time.Millisecond
	out := Result{
		Allowed: count <= int64(limit),
		Limit:   limit,
		Count:   int(count),
		ResetAt: l.now().Add(ttl),
	}
	if out.Allowed {
		out.Remaining = limit - int(count)
	} else {
		out.RetryAfter = ttl
	}
	return out, nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
