package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"certledger/internal/ratelimit/models"
)

// RedisBucketStore keeps each sliding window in a sorted set scored by the
// request time so every replica shares one budget.
type RedisBucketStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisBucketStore(client *redis.Client, prefix string) *RedisBucketStore {
	if prefix == "" {
		prefix = "certledger:ratelimit"
	}
	return &RedisBucketStore{client: client, prefix: prefix, now: time.Now}
}

// slidingWindow trims the window, counts it and admits the request only when
// there is room, all in one server-side step.
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  count = count + 1
  if oldest[2] == nil then
    oldest = {ARGV[4], ARGV[2]}
  end
  return {1, count, oldest[2]}
end
return {0, count, oldest[2]}
`)

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error) {
	now := s.now()
	cutoff := now.Add(-limit.Window).UnixMilli()
	raw, err := slidingWindow.Run(ctx, s.client, []string{s.prefix + ":" + key},
		cutoff,
		now.UnixMilli(),
		limit.Requests,
		uuid.NewString(),
		limit.Window.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit window %s: %w", key, err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit window %s: unexpected reply %v", key, raw)
	}

	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	resetAt := now.Add(limit.Window)
	if oldest, ok := raw[2].(string); ok {
		if ms, err := strconv.ParseInt(oldest, 10, 64); err == nil {
			resetAt = time.UnixMilli(ms).Add(limit.Window)
		}
	}

	res := &models.RateLimitResult{
		Allowed: allowed == 1,
		Limit:   limit.Requests,
		ResetAt: resetAt,
	}
	if res.Allowed {
		res.Remaining = limit.Requests - int(count)
	} else {
		res.RetryAfter = retryAfter(resetAt, now)
	}
	return res, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+":"+key).Err()
}
