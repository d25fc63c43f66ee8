// Package cache provides the in-process tier of the explanation cache.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Stats reports hit and miss counters for a MemoryCache
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// MemoryCache is a size-bounded LRU with per-entry expiry. It is safe for
// concurrent use.
type MemoryCache[V any] struct {
	lru    *expirable.LRU[string, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates a cache holding at most maxItems entries, each living
// for ttl. A non-positive maxItems means unbounded; a non-positive ttl disables expiry.
func NewMemoryCache[V any](maxItems int, ttl time.Duration) *MemoryCache[V] {
	return &MemoryCache[V]{
		lru: expirable.NewLRU[string, V](maxItems, nil, ttl),
	}
}

// Get returns the cached value for key
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores value under key, evicting the least recently used entry when full
func (c *MemoryCache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Delete removes key from the cache
func (c *MemoryCache[V]) Delete(key string) {
	c.lru.Remove(key)
}

// Purge empties the cache
func (c *MemoryCache[V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries
func (c *MemoryCache[V]) Len() int {
	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters
func (c *MemoryCache[V]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.lru.Len(),
	}
}
