package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCache(t *testing.T) {
	t.Run("set then get round-trips", func(t *testing.T) {
		c := newQueryCache(time.Minute, 10)
		c.Set("q", "result")

		got, ok := c.Get("q")
		require.True(t, ok)
		assert.Equal(t, "result", got)
	})

	t.Run("miss on unknown key", func(t *testing.T) {
		c := newQueryCache(time.Minute, 10)
		_, ok := c.Get("missing")
		assert.False(t, ok)
	})

	t.Run("entries expire after the TTL", func(t *testing.T) {
		now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		c := newQueryCache(time.Minute, 10)
		c.now = func() time.Time { return now }

		c.Set("q", "result")

		now = now.Add(59 * time.Second)
		_, ok := c.Get("q")
		assert.True(t, ok)

		now = now.Add(2 * time.Second)
		_, ok = c.Get("q")
		assert.False(t, ok)
		assert.Zero(t, c.Len())
	})

	t.Run("oldest entry is evicted at capacity", func(t *testing.T) {
		now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		c := newQueryCache(time.Hour, 2)
		c.now = func() time.Time { return now }

		c.Set("first", 1)
		now = now.Add(time.Second)
		c.Set("second", 2)
		now = now.Add(time.Second)
		c.Set("third", 3)

		_, ok := c.Get("first")
		assert.False(t, ok)
		_, ok = c.Get("second")
		assert.True(t, ok)
		_, ok = c.Get("third")
		assert.True(t, ok)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("overwriting a key does not evict", func(t *testing.T) {
		c := newQueryCache(time.Hour, 2)
		c.Set("a", 1)
		c.Set("b", 2)
		c.Set("a", 3)

		got, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, 3, got)
		_, ok = c.Get("b")
		assert.True(t, ok)
	})

	t.Run("invalidate all drops every entry", func(t *testing.T) {
		c := newQueryCache(time.Hour, 10)
		c.Set("a", 1)
		c.Set("b", 2)
		c.InvalidateAll()

		assert.Zero(t, c.Len())
		_, ok := c.Get("a")
		assert.False(t, ok)
	})

	t.Run("invalidation advances the generation", func(t *testing.T) {
		c := newQueryCache(time.Hour, 10)
		gen := c.Generation()
		c.InvalidateAll()
		assert.NotEqual(t, gen, c.Generation())
	})

	t.Run("a fill from a stale generation is dropped", func(t *testing.T) {
		c := newQueryCache(time.Hour, 10)
		gen := c.Generation()
		c.InvalidateAll()

		c.SetAt("q", "computed before the invalidation", gen)
		_, ok := c.Get("q")
		assert.False(t, ok)
		assert.Zero(t, c.Len())
	})

	t.Run("a fill from the current generation is stored", func(t *testing.T) {
		c := newQueryCache(time.Hour, 10)
		c.SetAt("q", "fresh", c.Generation())

		got, ok := c.Get("q")
		require.True(t, ok)
		assert.Equal(t, "fresh", got)
	})

	t.Run("non-positive settings fall back to defaults", func(t *testing.T) {
		c := newQueryCache(0, 0)
		assert.Equal(t, defaultCacheTTL, c.ttl)
		assert.Equal(t, defaultCacheMaxSize, c.maxSize)
	})
}
