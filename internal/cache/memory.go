package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Aidin1998/dexroute_unified/pkg/metrics"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache used in tests and as a fallback when no
// redis address is configured.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// NewMemoryCache creates an in-process cache with a background expiry sweep.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		items:       make(map[string]memoryItem),
		janitorStop: make(chan struct{}),
	}
	go c.janitor(30 * time.Second)
	return c
}

func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, it := range c.items {
				if now.After(it.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.janitorStop:
			return
		}
	}
}

// Close stops the expiry sweep.
func (c *MemoryCache) Close() {
	c.janitorOnce.Do(func() { close(c.janitorStop) })
}

// Get retrieves a value, honoring expiry lazily.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(it.expiresAt) {
		metrics.CacheMisses.WithLabelValues(CacheType(key)).Inc()
		return nil, false, nil
	}
	metrics.CacheHits.WithLabelValues(CacheType(key)).Inc()
	return it.value, true, nil
}

// Set stores a value with the given ttl. Non-positive ttl and nil values are
// dropped.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || value == nil {
		return nil
	}
	c.mu.Lock()
	c.items[key] = memoryItem{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	metrics.CacheSets.WithLabelValues(CacheType(key)).Inc()
	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Has reports whether a non-expired entry exists.
func (c *MemoryCache) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}
