// ABOUTME: Bounded generic TTL cache with get-or-compute and negative caching.
// ABOUTME: Lookup failures resolve to a cached nil sentinel, never an error.

package metacache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

// entry is one cached value. A nil value is a confirmed "not found".
type entry[T any] struct {
	value   *T
	expires time.Time
	element *list.Element
}

// FetchFunc loads a value on cache miss. Returning (nil, nil) means the
// entity definitively does not exist.
type FetchFunc[T any] func(ctx context.Context) (*T, error)

// Cache is a bounded TTL cache keyed by string. Expired entries are never
// returned; pruning is lazy (sweep expired, then evict oldest) and runs only
// when an insert would exceed the size bound.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	negTTL  time.Duration
	maxSize int
	logger  *slog.Logger
}

// New creates a cache. negTTL applies to not-found/error outcomes and is
// expected to be shorter than ttl. Pass nil logger for default.
func New[T any](ttl, negTTL time.Duration, maxSize int, logger *slog.Logger) *Cache[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache[T]{
		entries: make(map[string]*entry[T]),
		order:   list.New(),
		ttl:     ttl,
		negTTL:  negTTL,
		maxSize: maxSize,
		logger:  logger.With("component", "metacache"),
	}
}

// GetOrFetch returns the cached value for key, fetching on miss or expiry.
// Fetch errors degrade to the not-found sentinel (nil) and are logged at
// diagnostic verbosity only; they never propagate past this boundary.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[T]) *T {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expires) {
		v := e.value
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	value, err := fetch(ctx)
	ttl := c.ttl
	if err != nil {
		c.logger.Debug("metadata fetch failed, caching not-found", "key", key, "error", err)
		value = nil
	}
	if value == nil {
		ttl = c.negTTL
	}

	c.mu.Lock()
	c.store(key, value, now.Add(ttl))
	c.mu.Unlock()

	return value
}

// Len returns the current number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// store inserts or replaces an entry. Must be called with mu held.
func (c *Cache[T]) store(key string, value *T, expires time.Time) {
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = expires
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.sweep(time.Now())
		for len(c.entries) >= c.maxSize {
			c.evictOldest()
		}
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry[T]{value: value, expires: expires, element: elem}
}

// sweep drops expired entries. Must be called with mu held.
func (c *Cache[T]) sweep(now time.Time) {
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		key, _ := elem.Value.(string)
		if e, ok := c.entries[key]; ok && !now.Before(e.expires) {
			c.order.Remove(elem)
			delete(c.entries, key)
		}
		elem = next
	}
}

// evictOldest removes the oldest-inserted entry. Must be called with mu held.
func (c *Cache[T]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}
