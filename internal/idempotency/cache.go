// ABOUTME: Thread-safe TTL cache that remembers results by idempotency key.
// ABOUTME: Used by the messaging service so client retries never append a message twice.

package idempotency

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the result, timestamp and list element for a cached key.
// done is closed once the result is available.
type cacheEntry[V any] struct {
	value     V
	timestamp time.Time
	element   *list.Element
	done      chan struct{}
	ready     bool
}

// Cache is a TTL-based, size-limited map from idempotency key to result.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry[V]
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	stop    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache[V]{
		entries: make(map[string]*cacheEntry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		stop:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Do returns the stored result for key, or runs fn and stores its result.
// Concurrent calls for the same key wait for the first one instead of running
// fn again. Errors are not cached, so a failed attempt can be retried.
// replayed is true when the result came from the cache.
func (c *Cache[V]) Do(key string, fn func() (V, error)) (value V, replayed bool, err error) {
	for {
		c.mu.Lock()
		entry, ok := c.entries[key]
		if ok && c.expired(entry) && entry.ready {
			c.removeLocked(key, entry)
			ok = false
		}

		if ok && entry.ready {
			c.mu.Unlock()
			return entry.value, true, nil
		}

		if ok {
			// Another caller is producing the result
			done := entry.done
			c.mu.Unlock()
			<-done
			continue
		}

		entry = c.reserveLocked(key)
		c.mu.Unlock()
		break
	}

	value, err = fn()

	c.mu.Lock()
	entry := c.entries[key]
	if err != nil {
		if entry != nil && !entry.ready {
			c.removeLocked(key, entry)
			close(entry.done)
		}
		c.mu.Unlock()
		return value, false, err
	}
	if entry != nil && !entry.ready {
		entry.value = value
		entry.ready = true
		entry.timestamp = time.Now()
		close(entry.done)
	}
	c.mu.Unlock()

	return value, false, nil
}

// Len returns the number of entries, including in-flight ones.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// reserveLocked adds a pending entry. Must be called with mu held.
func (c *Cache[V]) reserveLocked(key string) *cacheEntry[V] {
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry[V]{
		timestamp: time.Now(),
		done:      make(chan struct{}),
	}
	entry.element = c.order.PushBack(key)
	c.entries[key] = entry
	return entry
}

func (c *Cache[V]) expired(entry *cacheEntry[V]) bool {
	return time.Since(entry.timestamp) >= c.ttl
}

// removeLocked drops an entry. Must be called with mu held.
func (c *Cache[V]) removeLocked(key string, entry *cacheEntry[V]) {
	c.order.Remove(entry.element)
	delete(c.entries, key)
}

// evictOldest removes the oldest completed entry. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	for e := c.order.Front(); e != nil; e = e.Next() {
		key, _ := e.Value.(string)
		entry := c.entries[key]
		if entry != nil && !entry.ready {
			continue
		}
		c.order.Remove(e)
		delete(c.entries, key)
		return
	}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.stop:
			return
		}
	}
}

// runCleanup removes all expired, completed entries from the cache.
func (c *Cache[V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if entry.ready && c.expired(entry) {
			c.removeLocked(key, entry)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.stop)
		c.closed = true
	}
}
