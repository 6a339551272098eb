// Package cache provides a generic in-memory TTL cache.
//
// Reads never return an expired entry; expired entries are physically removed
// by a periodic sweep so Get only needs a read lock.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a thread-safe map whose entries expire after ttl.
//
// The room service keeps positive membership answers in it, keyed by
// "userID|roomID", so a busy conversation does not hit the store on every
// join. Every entry lives for the same ttl from its last Set; there is no
// size bound, the sweep is what keeps the map small.
//
//	c := cache.New[string, bool](30*time.Second, time.Minute)
//	defer c.Close()
//	c.Set("u1|conversation:7", true)
type TTLCache[K comparable, V any] struct {
	// mu guards entries. Get takes it for reading; Set and the sweep take
	// it for writing.
	mu      sync.RWMutex
	entries map[K]entry[V]

	// ttl is the lifetime of every entry.
	ttl time.Duration

	// now is time.Now outside tests, which replace it to move the clock.
	now func() time.Time

	// stopCleanup ends the sweep goroutine. closeOnce makes Close safe to
	// call twice.
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// New creates a cache and starts the sweep goroutine. cleanupInterval should be
// shorter than ttl.
func New[K comparable, V any](ttl, cleanupInterval time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		entries:     make(map[K]entry[V]),
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.evictExpired()
			case <-c.stopCleanup:
				return
			}
		}
	}()

	return c
}

// Get returns the value for key if it is present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for one ttl.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// GetOrLoad returns the cached value or calls load. The loaded value is cached
// only when keep reports true for it, so callers can cache positive answers
// and re-check negative ones every time.
func (c *TTLCache[K, V]) GetOrLoad(ctx context.Context, key K, load func(ctx context.Context) (V, error), keep func(V) bool) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if keep == nil || keep(v) {
		c.Set(key, v)
	}
	return v, nil
}

// Close stops the sweep goroutine.
func (c *TTLCache[K, V]) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
}

func (c *TTLCache[K, V]) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
