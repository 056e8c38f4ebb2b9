package ratelimit

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	// defaultResultCacheTTL bounds how long an allowed result is reused.
	defaultResultCacheTTL = 15 * time.Second
	// defaultResultCacheSize bounds the entry count before eviction.
	defaultResultCacheSize = 1000
)

type resultCacheEntry struct {
	result     Result
	insertedAt time.Time
}

// resultCache is the short-TTL cache for hot keys. Only allowed results are
// stored so a denied client is re-evaluated on its next attempt.
type resultCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]resultCacheEntry
}

func newResultCache(ttl time.Duration, capacity int) *resultCache {
	if ttl <= 0 {
		ttl = defaultResultCacheTTL
	}
	if capacity <= 0 {
		capacity = defaultResultCacheSize
	}
	return &resultCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]resultCacheEntry),
	}
}

// resultCacheKey combines the check inputs into the cache key.
func resultCacheKey(apiKey string, tokens int64) string {
	return apiKey + ":" + strconv.FormatInt(tokens, 10)
}

func (c *resultCache) get(key string, now time.Time) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if now.Sub(entry.insertedAt) > c.ttl {
		delete(c.entries, key)
		return Result{}, false
	}
	return entry.result, true
}

func (c *resultCache) put(key string, result Result, now time.Time) {
	if !result.Allowed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = resultCacheEntry{result: result, insertedAt: now}
	if len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
}

// evictOldestLocked drops the oldest fifth of the cache by insertion time.
func (c *resultCache) evictOldestLocked() {
	type aged struct {
		key        string
		insertedAt time.Time
	}
	ordered := make([]aged, 0, len(c.entries))
	for key, entry := range c.entries {
		ordered = append(ordered, aged{key: key, insertedAt: entry.insertedAt})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].insertedAt.Before(ordered[j].insertedAt)
	})
	drop := len(ordered) / 5
	if drop < 1 {
		drop = 1
	}
	for _, entry := range ordered[:drop] {
		delete(c.entries, entry.key)
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
