package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the refill-and-consume step atomically.
// KEYS[1] bucket key; ARGV rate/sec, capacity, cost, now (unix seconds, float).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)

return {allowed, math.floor(tokens)}
`)

// RedisStore shares buckets across instances through Redis.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	clock  func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, prefix: "roseglass:limiter:", clock: time.Now}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(rawURL string) (*RedisStore, *redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("limiter: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisStore(client), client, nil
}

// WithClock overrides the clock for deterministic testing.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

func (s *RedisStore) Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error) {
	now := float64(s.clock().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + actorID},
		policy.RatePerSecond(), policy.Capacity(), cost, now).Slice()
	if err != nil {
		return false, fmt.Errorf("limiter: redis: %w", err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("limiter: unexpected script reply %v", res)
	}
	allowed, _ := res[0].(int64)
	return allowed == 1, nil
}
