package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitScript applies the whole bump transition server-side so that
// concurrent attempts against the same key cannot undercount. Field layout:
// c = attempts in window, r = window reset (ms), l = locked-until (ms).
var rateLimitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local lockout = tonumber(ARGV[3])
local max = tonumber(ARGV[4])
local c = tonumber(redis.call('HGET', KEYS[1], 'c') or '0')
local r = tonumber(redis.call('HGET', KEYS[1], 'r') or '0')
local l = tonumber(redis.call('HGET', KEYS[1], 'l') or '0')
if l > 0 and now < l then
  return {c, r, l, 0}
end
local allowed = 1
if r == 0 or now > r then
  c = 1
  r = now + window
  l = 0
else
  c = c + 1
  if c > max then
    l = now + lockout
    allowed = 0
  end
end
redis.call('HSET', KEYS[1], 'c', c, 'r', r, 'l', l)
local ttl = r - now
if l > now then
  ttl = l - now
end
redis.call('PEXPIRE', KEYS[1], ttl + 60000)
return {c, r, l, allowed}
`)

// RedisRateLimitStore shares the login throttle across instances.
type RedisRateLimitStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimitStore(client redis.UniversalClient, prefix string) *RedisRateLimitStore {
	if prefix == "" {
		prefix = "login_rate"
	}
	return &RedisRateLimitStore{client: client, prefix: prefix}
}

func (s *RedisRateLimitStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func (s *RedisRateLimitStore) Bump(ctx context.Context, key string, policy LoginRatePolicy, now time.Time) (RateLimitState, error) {
	res, err := rateLimitScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(),
		policy.Window.Milliseconds(),
		policy.Lockout.Milliseconds(),
		policy.MaxAttempts,
	).Slice()
	if err != nil {
		return RateLimitState{}, fmt.Errorf("rate limit bump: %w", err)
	}
	if len(res) != 4 {
		return RateLimitState{}, fmt.Errorf("rate limit bump: unexpected script reply of %d values", len(res))
	}
	vals := make([]int64, 4)
	for i, v := range res {
		n, ok := v.(int64)
		if !ok {
			return RateLimitState{}, fmt.Errorf("rate limit bump: non-integer script reply at %d", i)
		}
		vals[i] = n
	}
	state := RateLimitState{
		Count:   int(vals[0]),
		ResetAt: time.UnixMilli(vals[1]),
		Allowed: vals[3] == 1,
	}
	if vals[2] > 0 {
		state.LockedUntil = time.UnixMilli(vals[2])
	}
	return state, nil
}

func (s *RedisRateLimitStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("rate limit clear: %w", err)
	}
	return nil
}
