package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] state hash
// ARGV now_ms, base_ms, multiplier, max_ms, reset_ms, free_attempts
var redisAbuseFailureScript = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local base_ms = tonumber(ARGV[2])
local multiplier = tonumber(ARGV[3])
local max_ms = tonumber(ARGV[4])
local reset_ms = tonumber(ARGV[5])
local free_attempts = tonumber(ARGV[6])

local key = KEYS[1]
local failures = tonumber(redis.call("HGET", key, "failures") or "0")
local last_ms = tonumber(redis.call("HGET", key, "last_failure_ms") or "0")

if last_ms == 0 or (now_ms - last_ms) > reset_ms then
  failures = 0
end
failures = failures + 1

local delay = 0
if failures > free_attempts then
  delay = math.floor(base_ms * (multiplier ^ (failures - free_attempts - 1)))
end
if delay > max_ms then
  delay = max_ms
end

redis.call("HSET", key, "failures", tostring(failures), "last_failure_ms", tostring(now_ms), "cooldown_until_ms", tostring(now_ms + delay))
redis.call("PEXPIRE", key, reset_ms + delay + 60000)
return delay
`)

// RedisAuthAbuseGuard shares cooldown state between replicas. Identities
// and addresses are stored hashed.
type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
	now    func() time.Time
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{
		client: client,
		prefix: prefix,
		policy: policy.normalized(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	nowMS := g.now().UnixMilli()
	var longest time.Duration
	for _, key := range abuseKeys(scope, identity, ip) {
		remaining, err := g.remaining(ctx, g.redisKey(key), nowMS)
		if err != nil {
			return 0, err
		}
		longest = max(longest, remaining)
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	nowMS := g.now().UnixMilli()
	var longest time.Duration
	for _, key := range abuseKeys(scope, identity, ip) {
		result, err := redisAbuseFailureScript.Run(
			ctx,
			g.client,
			[]string{g.redisKey(key)},
			nowMS,
			g.policy.BaseDelay.Milliseconds(),
			g.policy.Multiplier,
			g.policy.MaxDelay.Milliseconds(),
			g.policy.ResetWindow.Milliseconds(),
			g.policy.FreeAttempts,
		).Result()
		if err != nil {
			return 0, fmt.Errorf("register %s failure: %w", key.dim, err)
		}
		delayMS, err := redisInt64(result)
		if err != nil {
			return 0, err
		}
		longest = max(longest, time.Duration(max(delayMS, 0))*time.Millisecond)
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	keys := abuseKeys(scope, identity, ip)
	return g.client.Del(ctx, g.redisKey(keys[0]), g.redisKey(keys[1])).Err()
}

func (g *RedisAuthAbuseGuard) remaining(ctx context.Context, key string, nowMS int64) (time.Duration, error) {
	values, err := g.client.HMGet(ctx, key, "last_failure_ms", "cooldown_until_ms").Result()
	if err != nil {
		return 0, err
	}
	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return 0, nil
	}
	lastMS, err := redisInt64(values[0])
	if err != nil {
		return 0, err
	}
	untilMS, err := redisInt64(values[1])
	if err != nil {
		return 0, err
	}
	if nowMS-lastMS > g.policy.ResetWindow.Milliseconds() || untilMS <= nowMS {
		return 0, nil
	}
	return time.Duration(untilMS-nowMS) * time.Millisecond, nil
}

func (g *RedisAuthAbuseGuard) redisKey(k abuseKey) string {
	sum := sha256.Sum256([]byte(k.value))
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, k.scope, k.dim, hex.EncodeToString(sum[:]))
}

// redisInt64 accepts script integer replies and HMGET string replies.
func redisInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("redis response overflows int64")
		}
		return int64(n), nil
	case string:
		out, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse redis integer %q: %w", n, err)
		}
		return out, nil
	default:
		return 0, fmt.Errorf("unexpected redis response type %T", v)
	}
}
