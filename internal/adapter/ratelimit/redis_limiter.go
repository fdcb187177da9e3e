// Package ratelimit throttles outbound workflow calls with a token bucket
// kept in Redis, so every server and worker process shares one budget.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ubtguoyi/writing/internal/domain"
)

const keyPrefix = "writing:rate:"

// maxWaitStep bounds one sleep between bucket checks.
const maxWaitStep = 5 * time.Second

// BucketConfig is one token bucket: Capacity tokens refilled at RefillRate per second.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64
}

// NewBucketConfigFromPerMinute allows perMinute calls with a burst of the same size.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// RedisLimiter evaluates buckets atomically with a Lua script. Keys without a
// bucket, and Redis failures, are allowed through.
type RedisLimiter struct {
	rdb      redis.UniversalClient
	script   *redis.Script
	fallback BucketConfig
	now      func() time.Time

	mu      sync.RWMutex
	buckets map[string]BucketConfig
}

// NewRedisLimiter returns nil when rdb is nil. fallback applies to keys with no explicit bucket.
func NewRedisLimiter(rdb redis.UniversalClient, fallback BucketConfig) *RedisLimiter {
	if rdb == nil {
		return nil
	}
	return &RedisLimiter{
		rdb:      rdb,
		script:   redis.NewScript(tokenBucketScript),
		fallback: fallback,
		now:      time.Now,
		buckets:  map[string]BucketConfig{},
	}
}

const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)

local allowed = 0
local retry_after = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
elseif refill_rate > 0 then
  retry_after = (cost - tokens) / refill_rate
end

redis.call("HMSET", key, "tokens", tostring(tokens), "last_refill", tostring(now))
redis.call("EXPIRE", key, math.ceil(capacity / refill_rate) + 60)

return { allowed, tostring(retry_after) }
`

// SetBucketConfig overrides the bucket for key. It is safe for concurrent use.
func (l *RedisLimiter) SetBucketConfig(key string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[key] = cfg
}

func (l *RedisLimiter) bucket(key string) BucketConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if cfg, ok := l.buckets[key]; ok {
		return cfg
	}
	return l.fallback
}

// Allow takes cost tokens from key's bucket. When refused, retryAfter says
// how long until enough tokens accumulate.
func (l *RedisLimiter) Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error) {
	if l == nil || l.rdb == nil {
		return true, 0, nil
	}
	cfg := l.bucket(key)
	if cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}
	nowSec := float64(l.now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.rdb, []string{keyPrefix + key}, cfg.Capacity, cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("redis rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		slog.Error("redis rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return true, 0, nil
	}
	sec := toFloat64(vals[1])
	if math.IsNaN(sec) || sec < 0 {
		sec = 0
	}
	return toInt64(vals[0]) == 1, time.Duration(sec * float64(time.Second)), nil
}

// Wait blocks until key's bucket admits one call or ctx is done.
func (l *RedisLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, retryAfter, err := l.Allow(ctx, key, 1)
		if err != nil || allowed {
			return nil
		}
		if retryAfter <= 0 || retryAfter > maxWaitStep {
			retryAfter = maxWaitStep
		}
		t := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("op=ratelimit.Wait: %w: %w", domain.ErrUpstreamRateLimit, ctx.Err())
		case <-t.C:
		}
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		var f float64
		if _, err := fmt.Sscan(t, &f); err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
