package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/repairdesk-core/models"
)

const (
	windowPrefix    = "ratelimit:window:"
	violationPrefix = "ratelimit:violations:"
	blockPrefix     = "ratelimit:block:"
)

// incrWithExpiry increments KEYS[1], sets its expiry on creation and
// returns the count with the remaining TTL in milliseconds.
var incrWithExpiry = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares windows and blocks between processes. Entries expire
// through Redis TTLs, so Sweep has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a RedisStore
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (models.RateWindow, error) {
	count, ttl, err := s.incr(ctx, windowPrefix+key, window)
	if err != nil {
		return models.RateWindow{}, err
	}
	return models.RateWindow{Key: key, Count: count, ResetAt: now.Add(ttl)}, nil
}

func (s *RedisStore) AddViolation(ctx context.Context, key string, lifetime time.Duration, _ time.Time) (int, error) {
	count, _, err := s.incr(ctx, violationPrefix+key, lifetime)
	return count, err
}

func (s *RedisStore) Block(ctx context.Context, key string, d time.Duration, _ time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, blockPrefix+key, "1", d)
		pipe.Del(ctx, violationPrefix+key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("block %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) BlockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error) {
	ttl, err := s.client.PTTL(ctx, blockPrefix+key).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("block ttl %s: %w", key, err)
	}
	if ttl <= 0 {
		return time.Time{}, false, nil
	}
	return now.Add(ttl), true, nil
}

func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) incr(ctx context.Context, key string, ttl time.Duration) (int, time.Duration, error) {
	res, err := incrWithExpiry.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("increment %s: unexpected reply %v", key, res)
	}
	return int(res[0]), time.Duration(res[1]) * time.Millisecond, nil
}
