package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeartbeatTTL bounds how long a heartbeat survives a dead scheduler.
const HeartbeatTTL = 30 * time.Minute

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)

	Beat(ctx context.Context, at time.Time) error
	LastBeat(ctx context.Context) (time.Time, bool, error)
	Claim(ctx context.Context, scheduledJobID int64, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, scheduledJobID int64) error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Beat records that a scheduler loop ticked at at.
func (c *RedisCache) Beat(ctx context.Context, at time.Time) error {
	return c.client.Set(ctx, SchedulerHeartbeatKey(), at.UTC().Format(time.RFC3339Nano), HeartbeatTTL).Err()
}

// LastBeat returns the most recent scheduler heartbeat, if any.
func (c *RedisCache) LastBeat(ctx context.Context) (time.Time, bool, error) {
	val, err := c.client.Get(ctx, SchedulerHeartbeatKey()).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

// Claim takes an exclusive claim on a scheduled job so two schedulers never
// execute the same entry. It reports false when another holder has it. Claims
// on entries that ran expire after ttl.
func (c *RedisCache) Claim(ctx context.Context, scheduledJobID int64, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, ScheduledJobClaimKey(scheduledJobID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// ReleaseClaim drops the claim on an entry that was left pending.
func (c *RedisCache) ReleaseClaim(ctx context.Context, scheduledJobID int64) error {
	return c.client.Del(ctx, ScheduledJobClaimKey(scheduledJobID)).Err()
}
