package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims entries older than the window, counts the rest and
// records the request only when under the limit. Returns -1 when limited.
// KEYS[1]=key ARGV[1]=now ms ARGV[2]=window start ms ARGV[3]=ttl ms ARGV[4]=member ARGV[5]=limit
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local member = ARGV[4]
local limit = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, ttl)
  return count + 1
end
return -1
`

// Evaler is the subset of the go-redis client used by RedisLimiter.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLimiter is a sliding-window limiter backed by a Redis sorted set per key.
type RedisLimiter struct {
	client Evaler
	limit  int
	window time.Duration
	prefix string
	clock  func() time.Time
}

// RedisOption customises a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix namespaces limiter keys. Defaults to "ratelimit:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithRedisClock overrides the clock used for window scores.
func WithRedisClock(clock func() time.Time) RedisOption {
	return func(l *RedisLimiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client Evaler, limit int, window time.Duration, opts ...RedisOption) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("ratelimit: limit and window must be positive")
	}
	l := &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Allow implements Limiter. Callers decide whether to fail open on error.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.clock()
	nowMs := now.UnixMilli()
	windowMs := l.window.Milliseconds()
	member := strconv.FormatInt(now.UnixNano(), 10)

	res, err := l.client.Eval(ctx, slidingWindowScript, []string{l.prefix + normaliseKey(key)},
		nowMs, nowMs-windowMs, windowMs, member, l.limit).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	return res >= 0, nil
}
