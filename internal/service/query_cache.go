package service

import (
	"sync"
	"time"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheMaxSize = 100
)

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// queryCache is a mutex-guarded TTL cache for knowledge base query results.
// Entries expire after the TTL; when full, the oldest entry is evicted.
// Mutations of the document corpus must invalidate the whole cache, stale
// context must never be served after the corpus changes. Each invalidation
// bumps a generation counter so that a fill computed before the mutation
// can be rejected after it.
type queryCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	generation uint64
	ttl        time.Duration
	maxSize    int
	now        func() time.Time
}

func newQueryCache(ttl time.Duration, maxSize int) *queryCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = defaultCacheMaxSize
	}
	return &queryCache{
		entries: map[string]cacheEntry{},
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *queryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Generation returns the current invalidation generation. Capture it before
// computing a result and pass it to SetAt so a result that raced with a
// corpus mutation is discarded instead of stored.
func (c *queryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Set stores a value unconditionally, evicting the oldest entry when at
// capacity.
func (c *queryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

// SetAt stores a value only when no invalidation happened since gen was
// captured. A stale fill is dropped.
func (c *queryCache) SetAt(key string, value any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.setLocked(key, value)
}

func (c *queryCache) setLocked(key string, value any) {
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[key] = cacheEntry{value: value, storedAt: c.now()}
}

// InvalidateAll drops every entry and advances the generation.
func (c *queryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = map[string]cacheEntry{}
}

// Len reports the current entry count, expired entries included.
func (c *queryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
