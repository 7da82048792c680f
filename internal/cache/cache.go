// Package cache provides bounded in-process key-value caches.
//
// The eviction policy is deliberately "refuse new entries once full" rather
// than LRU: entries live until an explicit Clear. This matches the retrieval
// pipeline's append-once-until-full contract, where a bounded amount of
// recomputation is preferred over eviction bookkeeping on the hot path.
package cache

import "sync"

// DefaultCapacity is the per-cache entry cap used when none is configured.
const DefaultCapacity = 100

// Cache is a bounded, concurrency-safe string-keyed cache.
//
// Put is a no-op once the cache holds capacity entries; Clear resets it to
// empty. A zero capacity is replaced with DefaultCapacity.
type Cache[V any] struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]V
}

// New creates a Cache holding at most capacity entries.
func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[V]{
		capacity: capacity,
		entries:  make(map[string]V),
	}
}

// Get returns the cached value for key and whether it was present.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put stores value under key. It returns false when the cache is full and the
// key is not already present; overwriting an existing key always succeeds.
func (c *Cache[V]) Put(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.capacity {
		return false
	}
	c.entries[key] = value
	return true
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]V)
}
