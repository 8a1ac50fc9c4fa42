package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces rate limit counters in a shared Redis.
const redisKeyPrefix = "ratelimit:"

// fixedWindowScript increments the counter for a key, starting its window on
// the first hit, and returns the new count and the window's remaining TTL in ms.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisRateLimitStore implements RateLimitStore with a fixed window counter in
// Redis, so that every API replica shares the same limits.
// It fails open: when Redis is unavailable the request is allowed.
type RedisRateLimitStore struct {
	client  redis.Scripter
	metrics *Metrics
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client redis.Scripter) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// WithMetrics counts Redis failures on m.
func (s *RedisRateLimitStore) WithMetrics(m *Metrics) *RedisRateLimitStore {
	s.metrics = m
	return s
}

// Allow implements RateLimitStore.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	window := config.WindowDuration.Milliseconds()
	if window <= 0 {
		window = 1
	}

	result, err := fixedWindowScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, window).Int64Slice()
	if err != nil || len(result) != 2 {
		if s.metrics != nil {
			s.metrics.IncRateLimitRedisErrors()
		}
		slog.WarnContext(ctx, "rate limit store unavailable, allowing request", "error", err)
		return true, 0
	}

	count, ttl := result[0], result[1]
	if count <= int64(config.RequestsPerWindow) {
		return true, 0
	}

	retryAfter := int((time.Duration(ttl)*time.Millisecond + time.Second - 1) / time.Second)
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, retryAfter
}
