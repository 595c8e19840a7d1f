// Package statecache provides a keyed TTL cache for per-track correlation
// state. Entries expire lazily on read; there is no background janitor, the
// owner decides when to purge.
package statecache

import (
	"sync"
	"time"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Size    int     // entries currently held, including not yet purged expired ones
	Hits    uint64  // lookups answered from a fresh entry
	Misses  uint64  // lookups that found nothing usable
	Expired uint64  // entries removed because their TTL had passed
	HitRate float64 // Hits / (Hits + Misses), 0 when no lookups happened
}

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
	consumed bool
}

// Cache is a generic keyed TTL cache. A zero TTL entry never expires. All
// methods are safe for concurrent use.
type Cache[V any] struct {
	mu         sync.RWMutex
	entries    map[string]entry[V]
	defaultTTL time.Duration
	nowFunc    func() time.Time

	hits    uint64
	misses  uint64
	expired uint64
}

// New creates a cache whose entries expire defaultTTL after they were set.
func New[V any](defaultTTL time.Duration) *Cache[V] {
	return NewWithClock[V](defaultTTL, time.Now)
}

// NewWithClock creates a cache with an injectable time source, used by tests
// and by the engine to keep all stateful components on one clock.
func NewWithClock[V any](defaultTTL time.Duration, nowFunc func() time.Time) *Cache[V] {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Cache[V]{
		entries:    make(map[string]entry[V]),
		defaultTTL: defaultTTL,
		nowFunc:    nowFunc,
	}
}

// expiredAt reports whether the entry is no longer usable at the given time.
// An entry is unusable once its full TTL has elapsed, so a lookup exactly at
// the expiry instant misses.
func (e *entry[V]) expiredAt(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return !now.Before(e.storedAt.Add(e.ttl))
}

// Get returns the value stored under key if it is still fresh. Expired
// entries are removed on the way out and count as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.nowFunc()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !e.expiredAt(now) {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return e.value, true
	}

	c.mu.Lock()
	// Re-check under the write lock, the entry may have been replaced.
	if e, ok := c.entries[key]; ok && e.expiredAt(now) {
		delete(c.entries, key)
		c.expired++
	}
	c.misses++
	c.mu.Unlock()

	var zero V
	return zero, false
}

// Set stores value under key with the cache's default TTL, resetting the
// consumed marker.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an entry-specific TTL. A zero or
// negative ttl makes the entry permanent until deleted.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	now := c.nowFunc()

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, storedAt: now, ttl: ttl}
	c.mu.Unlock()
}

// Consume atomically marks the entry under key as consumed. It returns true
// only for the first call on a fresh entry, so concurrent consumers cannot
// both win.
func (c *Cache[V]) Consume(key string) bool {
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expiredAt(now) || e.consumed {
		return false
	}
	e.consumed = true
	c.entries[key] = e
	return true
}

// IsConsumed reports whether the entry under key exists, is fresh and has
// been consumed.
func (c *Cache[V]) IsConsumed(key string) bool {
	now := c.nowFunc()

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return ok && !e.expiredAt(now) && e.consumed
}

// Delete removes the entry under key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Flush removes all entries without touching the counters.
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// PurgeExpired removes all entries whose TTL has passed and returns how many
// were removed. The engine sweeper calls this alongside track eviction.
func (c *Cache[V]) PurgeExpired() int {
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.expiredAt(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.expired += uint64(removed)
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Size:    len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		Expired: c.expired,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
