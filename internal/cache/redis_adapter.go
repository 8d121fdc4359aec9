package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// GoRedisAdapter wraps a go-redis client to implement RedisClient.
type GoRedisAdapter struct {
	client redis.UniversalClient
}

// NewGoRedisAdapter wraps an existing client. The adapter owns the client
// only if the caller closes it through the cache.
func NewGoRedisAdapter(client redis.UniversalClient) *GoRedisAdapter {
	return &GoRedisAdapter{client: client}
}

// Get returns ErrCacheMiss for absent keys.
func (a *GoRedisAdapter) Get(ctx context.Context, key string) (string, error) {
	val, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (a *GoRedisAdapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return a.client.Set(ctx, key, value, ttl).Err()
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.client.Del(ctx, keys...).Err()
}

// Keys walks the keyspace with SCAN so large databases are not blocked.
func (a *GoRedisAdapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := a.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (a *GoRedisAdapter) Close() error {
	return a.client.Close()
}

// NewRedisCacheFromClient creates a RedisCache backed by client, or a
// memory-only cache when client is nil.
func NewRedisCacheFromClient(client redis.UniversalClient, config *CacheConfig) *RedisCache {
	if client == nil {
		return NewRedisCache(config)
	}
	return NewRedisCacheWithClient(NewGoRedisAdapter(client), config)
}
