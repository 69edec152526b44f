package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a CacheBackend over one Redis client. Keys are namespaced
// under prefix, so the four content stores can share a client.
type RedisCache struct {
	client     *redis.Client
	prefix     string
	ownsClient bool
}

const (
	redisPoolSize     = 10
	redisMinIdle      = 2
	redisDialTimeout  = 5 * time.Second
	redisCallTimeout  = 3 * time.Second
	redisPingDeadline = 5 * time.Second
)

// NewRedisClient parses a redis:// URL and pings the server before
// returning, so an unreachable cache is reported at startup.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.PoolSize = redisPoolSize
	opts.MinIdleConns = redisMinIdle
	opts.DialTimeout = redisDialTimeout
	opts.ReadTimeout = redisCallTimeout
	opts.WriteTimeout = redisCallTimeout

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), redisPingDeadline)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// NewRedisCache dials its own client, closed by Close.
func NewRedisCache(redisURL, prefix string) (*RedisCache, error) {
	client, err := NewRedisClient(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: client, prefix: prefix, ownsClient: true}, nil
}

// NewRedisCacheFromClient namespaces a shared client. Close leaves it open.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) key(k string) string {
	return r.prefix + k
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return data, true, nil
}

// Set relies on Redis key expiry for the TTL.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// GetMultiple is a single MGET. Absent and expired keys come back nil and
// are left out of the result.
func (r *RedisCache) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = r.key(k)
	}

	values, err := r.client.MGet(ctx, namespaced...).Result()
	if err != nil {
		return nil, err
	}
	found := make(map[string][]byte, len(keys))
	for i, v := range values {
		if str, ok := v.(string); ok {
			found[keys[i]] = []byte(str)
		}
	}
	return found, nil
}

// SetMultiple writes every item in one pipeline round trip.
func (r *RedisCache) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range items {
			pipe.Set(ctx, r.key(k), v, ttl)
		}
		return nil
	})
	return err
}

// SweepExpired is a no-op: Redis expires keys server side.
func (r *RedisCache) SweepExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// Clear deletes every key under the prefix.
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (r *RedisCache) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}
