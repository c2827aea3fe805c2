// Package cache provides a bounded in-memory cache with TTL expiry.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a cached value with its expiry.
type Entry[V any] struct {
	Key       string
	Value     V
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired. A zero ExpiresAt never
// expires.
func (e *Entry[V]) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// MemoryCache holds at most maxSize entries. When full, the least recently
// used entry is evicted.
type MemoryCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List // front = most recently used
	entries map[string]*list.Element
	now     func() time.Time

	hits   uint64
	misses uint64
}

// NewMemoryCache creates a cache. A non-positive maxSize means unbounded;
// a zero ttl means entries never expire.
func NewMemoryCache[V any](maxSize int, ttl time.Duration) *MemoryCache[V] {
	return &MemoryCache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Get retrieves a value and marks it recently used.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	entry := el.Value.(*Entry[V])
	if entry.IsExpired(c.now()) {
		c.removeElement(el)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return entry.Value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*Entry[V])
		entry.Value = value
		entry.ExpiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&Entry[V]{Key: key, Value: value, ExpiresAt: expires})
	c.entries[key] = el

	if c.maxSize > 0 {
		for c.order.Len() > c.maxSize {
			c.removeElement(c.order.Back())
		}
	}
}

// Invalidate removes an entry from the cache.
func (c *MemoryCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// InvalidateAll removes all entries from the cache.
func (c *MemoryCache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

func (c *MemoryCache[V]) removeElement(el *list.Element) {
	entry := el.Value.(*Entry[V])
	delete(c.entries, entry.Key)
	c.order.Remove(el)
}

// Len returns the number of entries in the cache.
func (c *MemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit and miss counts.
func (c *MemoryCache[V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
