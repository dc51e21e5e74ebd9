package catalog

import (
	"sync"
	"time"
)

// Cache is a single-value TTL cache. Concurrent callers that miss at the
// same time may both refetch; last write wins, which is acceptable for
// an idempotent snapshot.
type Cache[T any] struct {
	mu      sync.Mutex
	value   T
	setAt   time.Time
	ttl     time.Duration
	present bool
}

// NewCache creates a Cache with the given TTL. A non-positive TTL
// disables caching entirely.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{ttl: ttl}
}

// Get returns the cached value if it is still fresh.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if !c.present || c.ttl <= 0 || time.Since(c.setAt) > c.ttl {
		return zero, false
	}
	return c.value, true
}

// Put stores a value, resetting its age.
func (c *Cache[T]) Put(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.setAt = time.Now()
	c.present = true
}

// Invalidate drops the cached value.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present = false
}
