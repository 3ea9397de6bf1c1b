package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache abstracts the Redis operations used for recognition memoisation.
// Get returns redis.Nil on a miss.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoopCache is used when no Redis address is configured; every lookup misses.
type NoopCache struct{}

func (NoopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (NoopCache) Get(context.Context, string) (string, error)                   { return "", redis.Nil }
func (NoopCache) Incr(context.Context, string) (int64, error)                   { return 0, nil }
