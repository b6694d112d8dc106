// ABOUTME: Thread-safe TTL cache for deduplicating message identifiers.
// ABOUTME: Sliding expiration with lazy sweep-then-evict pruning on overflow.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the timestamp and list element for a cached key.
type cacheEntry struct {
	lastSeen time.Time
	element  *list.Element
}

// Cache tracks recently seen message identifiers. The servers deliver
// at-least-once, so the same identifier can arrive several times in quick
// succession; a bounded sliding-TTL set turns that into exactly-once
// processing. Uses a doubly-linked list to maintain recency order for O(1)
// eviction. Pruning is lazy: it runs only when an insert would exceed the
// size bound, never on a background timer.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in recency order, oldest at front
	ttl     time.Duration
	maxSize int
}

// New creates a dedup cache with the given TTL window and maximum entry count.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Seen reports whether key was recorded within the TTL window before this
// call, and records/refreshes the key's timestamp regardless of the answer.
// A repeat inside the window therefore both reports true and pushes the
// expiry forward.
func (c *Cache) Seen(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		seen := now.Sub(entry.lastSeen) < c.ttl
		entry.lastSeen = now
		c.order.MoveToBack(entry.element)
		return seen
	}

	if len(c.seen) >= c.maxSize {
		c.sweep(now)
		for len(c.seen) >= c.maxSize {
			c.evictOldest()
		}
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{lastSeen: now, element: elem}
	return false
}

// Len returns the current number of tracked keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// sweep removes all entries older than the TTL. Must be called with mu held.
func (c *Cache) sweep(now time.Time) {
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		key, _ := elem.Value.(string)
		if entry, ok := c.seen[key]; ok && now.Sub(entry.lastSeen) >= c.ttl {
			c.order.Remove(elem)
			delete(c.seen, key)
		}
		elem = next
	}
}

// evictOldest removes the least recently refreshed entry. Must be called
// with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
