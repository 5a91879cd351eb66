package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter implements distributed fixed-window rate limiting using Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter allows limit requests per key per window across all replicas
// sharing client.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "supporter:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if window < time.Second {
		window = time.Second
	}

	return &RedisLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limit,
		window: window,
	}
}

func (r *RedisLimiter) key(subject string) string {
	return fmt.Sprintf("%s:%s", r.prefix, strings.TrimSpace(subject))
}

// Allow increments key's counter for the current window.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if r == nil || r.client == nil || r.limit <= 0 || strings.TrimSpace(key) == "" {
		return Decision{Allowed: true}, nil
	}

	windowMs := r.window.Milliseconds()
	rawResult, err := fixedWindowScript.Run(ctx, r.client, []string{r.key(key)}, windowMs).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	count, ok := values[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	remaining := r.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	decision := Decision{
		Allowed:   int(count) <= r.limit,
		Limit:     r.limit,
		Remaining: remaining,
	}
	if !decision.Allowed {
		decision.RetryAfter = time.Duration(ttlMs) * time.Millisecond
	}
	return decision, nil
}
