package kernel

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisFixedWindowScript increments the actor's window counter atomically.
// The key carries a TTL equal to the window length, so windows self-expire.
// KEYS[1] = window key (e.g. "limiter:key:abcd1234")
// ARGV[1] = limit (max requests per window)
// ARGV[2] = window length in seconds
// Returns {allowed, ttl_seconds}.
var redisFixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local count = redis.call("INCR", key)
if count == 1 then
    redis.call("EXPIRE", key, window)
end

local ttl = redis.call("TTL", key)
if ttl < 0 then
    redis.call("EXPIRE", key, window)
    ttl = window
end

local allowed = 0
if count <= limit then
    allowed = 1
end

return {allowed, ttl}
`)

// RedisLimiterStore implements LimiterStore on Redis, giving correct
// cross-instance enforcement for scaled-out deployments.
type RedisLimiterStore struct {
	client *redis.Client
}

// NewRedisLimiterStore creates a store backed by Redis.
func NewRedisLimiterStore(addr, password string, db int) *RedisLimiterStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiterStore{client: rdb}
}

// NewRedisLimiterStoreWithClient wraps an existing client (tests).
func NewRedisLimiterStoreWithClient(client *redis.Client) *RedisLimiterStore {
	return &RedisLimiterStore{client: client}
}

// Allow executes the fixed-window script.
func (s *RedisLimiterStore) Allow(ctx context.Context, actorID string, policy WindowPolicy) (bool, int, error) {
	if policy.Limit <= 0 || policy.Window <= 0 {
		return false, 0, fmt.Errorf("kernel: invalid window policy %+v", policy)
	}

	key := fmt.Sprintf("limiter:%s", actorID)
	res, err := redisFixedWindowScript.Run(ctx, s.client,
		[]string{key}, policy.Limit, int(policy.Window.Seconds())).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("kernel: redis limiter: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("kernel: redis limiter: unexpected reply %v", res)
	}

	allowed, _ := res[0].(int64)
	ttl, _ := res[1].(int64)
	return allowed == 1, int(ttl), nil
}
