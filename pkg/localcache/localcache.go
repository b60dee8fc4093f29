// Package localcache is a small in-process TTL cache used for short-term
// memoization of query results.
package localcache

import (
	"sync"
	"time"
)

// DefaultTTL is the lifetime of an entry unless configured otherwise.
const DefaultTTL = 5 * time.Minute

type item[V any] struct {
	value      V
	expiration time.Time
	insertedAt time.Time
}

// Config configures a Cache.
type Config struct {
	// TTL of every entry. Zero means DefaultTTL.
	TTL time.Duration

	// MaxEntries bounds the cache; the oldest insertion is evicted first.
	// Zero means unbounded.
	MaxEntries int

	// CleanupInterval runs a janitor removing expired entries.
	// Zero disables the janitor.
	CleanupInterval time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Cache is a thread-safe in-memory cache with TTL support.
type Cache[K comparable, V any] struct {
	data  map[K]item[V]
	mutex sync.RWMutex

	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its janitor if configured.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Cache[K, V]{
		data:       make(map[K]item[V]),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
		stop:       make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go c.cleanupExpired(cfg.CleanupInterval)
	}

	return c
}

// Get retrieves a value. Expired entries are misses.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	it, exists := c.data[key]
	if !exists || !c.now().Before(it.expiration) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores a value with the cache TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	if _, exists := c.data[key]; !exists && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		c.evictLocked(now)
	}

	c.data[key] = item[V]{
		value:      value,
		expiration: now.Add(c.ttl),
		insertedAt: now,
	}
}

// evictLocked drops expired entries, then the oldest one if still full.
func (c *Cache[K, V]) evictLocked(now time.Time) {
	for k, it := range c.data {
		if !now.Before(it.expiration) {
			delete(c.data, k)
		}
	}
	if len(c.data) < c.maxEntries {
		return
	}

	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for k, it := range c.data {
		if !found || it.insertedAt.Before(oldest) {
			oldestKey, oldest, found = k, it.insertedAt, true
		}
	}
	if found {
		delete(c.data, oldestKey)
	}
}

// Delete removes a value.
func (c *Cache[K, V]) Delete(key K) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.data, key)
}

// DeleteFunc removes every entry whose key matches and returns how many were removed.
func (c *Cache[K, V]) DeleteFunc(match func(K) bool) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for k := range c.data {
		if match(k) {
			delete(c.data, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

// Clear removes all items from the cache.
func (c *Cache[K, V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.data = make(map[K]item[V])
}

// Close stops the janitor.
func (c *Cache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Purge removes expired entries and returns how many were removed.
func (c *Cache[K, V]) Purge() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for k, it := range c.data {
		if !now.Before(it.expiration) {
			delete(c.data, k)
			removed++
		}
	}
	return removed
}

func (c *Cache[K, V]) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}
