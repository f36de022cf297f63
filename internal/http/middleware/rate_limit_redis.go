package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] counter, ARGV[1] window in ms, ARGV[2] limit.
// Returns {count, pttl, allowed}.
var redisFixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
local allowed = 0
if count <= tonumber(ARGV[2]) then
  allowed = 1
end
return {count, ttl, allowed}
`)

var errNilRedisClient = errors.New("redis client is nil")

// RedisFixedWindowLimiter shares counters between API instances so a quota
// holds across the whole deployment.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if l.client == nil {
		return Decision{}, errNilRedisClient
	}
	if key == "" {
		key = "unknown"
	}
	if window < time.Millisecond {
		window = time.Second
	}

	vals, err := redisFixedWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis fixed window: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("redis fixed window: expected 3 values, got %d", len(vals))
	}
	count, ttl, allowed := vals[0], time.Duration(vals[1])*time.Millisecond, vals[2] == 1

	d := Decision{
		Allowed:   allowed,
		Remaining: int(max(int64(limit)-count, 0)),
		ResetAt:   l.now().Add(ttl),
	}
	if !allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}
