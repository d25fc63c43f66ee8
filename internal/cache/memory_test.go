package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache[string](10, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("CODEINE|CYP2D6", "explanation")
	v, ok := c.Get("CODEINE|CYP2D6")
	assert.True(t, ok)
	assert.Equal(t, "explanation", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache[int](2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache[string](10, 50*time.Millisecond)
	c.Set("k", "v")

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryCache_DeleteAndPurge(t *testing.T) {
	c := NewMemoryCache[string](10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache[int](100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			c.Set(key, i)
			c.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, c.Len())
	assert.Equal(t, int64(20), c.Stats().Hits+c.Stats().Misses)
}
