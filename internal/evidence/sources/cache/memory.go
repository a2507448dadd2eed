package cache

import (
	"context"
	"sync"
	"time"

	"verity/internal/evidence/sources"
)

type cachedResult struct {
	result    sources.Result
	expiresAt time.Time
}

// InMemoryCache is a TTL cache private to one source client.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedResult
	now     func() time.Time
}

// NewInMemoryCache creates an empty cache. now may be nil.
func NewInMemoryCache(now func() time.Time) *InMemoryCache {
	if now == nil {
		now = time.Now
	}
	return &InMemoryCache{
		entries: make(map[string]cachedResult),
		now:     now,
	}
}

// Get returns a copy of the cached result if it has not expired.
func (c *InMemoryCache) Get(_ context.Context, key string) (sources.Result, bool, error) {
	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return sources.Result{}, false, nil
	}
	if !c.now().Before(cached.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(cached.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return sources.Result{}, false, nil
	}
	return cached.result.Clone(), true, nil
}

// Set stores a copy of result for ttl. A non-positive ttl is a no-op.
func (c *InMemoryCache) Set(_ context.Context, key string, result sources.Result, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedResult{result: result.Clone(), expiresAt: c.now().Add(ttl)}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
