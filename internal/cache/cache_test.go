package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aidin1998/dexroute_unified/internal/cache"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	err := c.Set(ctx, "quote:a:b:100:50", []byte("value"), time.Minute)
	assert.NoError(t, err)

	got, ok, err := c.Get(ctx, "quote:a:b:100:50")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), got)

	has, err := c.Has(ctx, "quote:a:b:100:50")
	assert.NoError(t, err)
	assert.True(t, has)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "route:a:b:100", []byte("v"), 30*time.Millisecond))

	_, ok, err := c.Get(ctx, "route:a:b:100")
	assert.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	_, ok, err = c.Get(ctx, "route:a:b:100")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheZeroTTLNotStored(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "token:x", []byte("v"), 0))
	_, ok, err := c.Get(ctx, "token:x")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, c.Set(ctx, "token:y", nil, time.Minute))
	_, ok, err = c.Get(ctx, "token:y")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := cache.NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "lock:k", []byte("v"), time.Minute))
	assert.NoError(t, c.Delete(ctx, "lock:k"))

	_, ok, _ := c.Get(ctx, "lock:k")
	assert.False(t, ok)
}

func TestKeyFingerprints(t *testing.T) {
	assert.Equal(t, "quote:in:out:1000:50", cache.QuoteKey("in", "out", "1000", 50))
	assert.Equal(t, "route:in:out:1000", cache.RouteKey("in", "out", "1000"))
	assert.Equal(t, "provider_quote:jupiter:in:out:1000:50", cache.ProviderQuoteKey("jupiter", "in", "out", "1000", 50))
	assert.Equal(t, "token:addr", cache.TokenKey("addr"))
	assert.Equal(t, "lock:route:in:out:1000", cache.LockKey("route:in:out:1000"))
}

func TestCacheTypeLabel(t *testing.T) {
	assert.Equal(t, "provider_quote", cache.CacheType("provider_quote:jupiter:a:b:1:50"))
	assert.Equal(t, "route", cache.CacheType("route:a:b:1"))
	assert.Equal(t, "other", cache.CacheType("no-separator"))
}
