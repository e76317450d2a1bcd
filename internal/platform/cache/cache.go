package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache is a typed TTL cache over ristretto. A nil *Cache is a valid, always-missing cache.
type Cache[V any] struct {
	inner *ristretto.Cache
	ttl   time.Duration
}

// New sizes the cache for maxEntries items, each costing 1.
func New[V any](maxEntries int64, ttl time.Duration) (*Cache[V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache: maxEntries must be positive, got %d", maxEntries)
	}
	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * maxEntries,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create: %w", err)
	}
	return &Cache[V]{inner: inner, ttl: ttl}, nil
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	raw, ok := c.inner.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := raw.(V)
	return value, ok
}

// Set stores value and waits for the write buffer so the next Get observes it.
func (c *Cache[V]) Set(key string, value V) {
	if c == nil {
		return
	}
	if c.ttl > 0 {
		c.inner.SetWithTTL(key, value, 1, c.ttl)
	} else {
		c.inner.Set(key, value, 1)
	}
	c.inner.Wait()
}

// Close stops the background goroutines.
func (c *Cache[V]) Close() {
	if c == nil {
		return
	}
	c.inner.Close()
}
