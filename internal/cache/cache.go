// Package cache provides the router's key-value cache and the single-flight
// request coalescer built on top of it. Values are opaque byte payloads;
// callers JSON-encode what they store.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aidin1998/dexroute_unified/pkg/metrics"
)

// Cache is the expiring key-value store consumed by the coalescer and the
// route engine. A ttl of zero or less means the value is not stored.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
}

// RedisCache is the production Cache backend.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string

	hits   int64
	misses int64
	sets   int64
	errors int64
}

// NewRedisCache wraps a redis client as a Cache.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: "dexroute:cache:",
	}
}

// Get retrieves a value. A missing key is (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			atomic.AddInt64(&c.misses, 1)
			metrics.CacheMisses.WithLabelValues(CacheType(key)).Inc()
			return nil, false, nil
		}
		atomic.AddInt64(&c.errors, 1)
		metrics.CacheErrors.WithLabelValues(CacheType(key)).Inc()
		return nil, false, err
	}
	atomic.AddInt64(&c.hits, 1)
	metrics.CacheHits.WithLabelValues(CacheType(key)).Inc()
	return data, true, nil
}

// Set stores a value with the given ttl. Non-positive ttl and nil values are
// dropped without touching the backend.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || value == nil {
		return nil
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		metrics.CacheErrors.WithLabelValues(CacheType(key)).Inc()
		return err
	}
	atomic.AddInt64(&c.sets, 1)
	metrics.CacheSets.WithLabelValues(CacheType(key)).Inc()
	return nil
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key).Err()
}

// Has reports whether a key currently exists.
func (c *RedisCache) Has(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.keyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats returns the lifetime hit/miss/set/error counters.
func (c *RedisCache) Stats() (hits, misses, sets, errors int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses),
		atomic.LoadInt64(&c.sets), atomic.LoadInt64(&c.errors)
}
