package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"klarogeo/internal/ratelimit/models"
)

// slidingWindowScript trims the window, admits the request if it fits and
// reports {allowed, count, reset_ms}. Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count + cost <= limit then
  for i = 1, cost do
    redis.call('ZADD', key, now, member .. ':' .. i)
  end
  count = count + cost
  allowed = 1
end

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
if count > 0 then
  redis.call('PEXPIRE', key, window)
end
return {allowed, count, reset}
`)

// RedisBucketStore shares sliding windows between server replicas.
type RedisBucketStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed store. Keys are namespaced under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *RedisBucketStore {
	return &RedisBucketStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

// AllowN checks a request with a custom cost atomically on the server.
func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error) {
	if err := checkArgs(key, cost, limit, window); err != nil {
		return nil, err
	}

	now := s.now()
	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), cost, limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}

	allowed := res[0] == 1
	resetAt := time.UnixMilli(res[2])
	return &models.Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  limit - int(res[1]),
		ResetAt:    resetAt,
		RetryAfter: models.RetryAfterSeconds(allowed, now, resetAt),
	}, nil
}

// Reset clears the counter for key.
func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
