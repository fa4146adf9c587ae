// Package cache keeps expensively constructed objects (typically parsed
// record payloads) in memory behind exclusive checkouts.
//
// A single mutex guards the whole cache: table lookups, construction,
// checkout state and eviction. Construction runs while the mutex is held,
// so a key's provider runs at most once until that key is evicted or
// invalidated, and no caller ever sees a half-built object. Callers that
// find their entry checked out by someone else block until it is released.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// Provider constructs the object cached under key.
type Provider[T any] func(ctx context.Context, key string) (T, error)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 2

type entry[T any] struct {
	key        string
	value      T
	checkedOut bool
	drop       bool          // remove instead of re-inserting on release
	elem       *list.Element // position in released; nil while checked out
}

// Cache is a bounded cache of objects with exclusive checkout.
type Cache[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	provider Provider[T]
	capacity int

	entries  map[string]*entry[T]
	released *list.List // front = most recently released
}

// New creates a cache holding at most capacity entries.
// A capacity below 1 uses DefaultCapacity.
func New[T any](capacity int, provider Provider[T]) *Cache[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	c := &Cache[T]{
		provider: provider,
		capacity: capacity,
		entries:  make(map[string]*entry[T]),
		released: list.New(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Checkout returns an exclusive handle on the object cached under key,
// constructing it through the provider if needed.
//
// If another caller holds the entry, Checkout blocks until it is released.
// A provider error is returned as-is and nothing is cached. The handle
// must be released exactly once; a goroutine must not check out a key it
// already holds.
func (c *Cache[T]) Checkout(ctx context.Context, key string) (*Handle[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		e, ok := c.entries[key]
		if !ok {
			value, err := c.provider(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("construct %q: %w", key, err)
			}
			e = &entry[T]{key: key, value: value, checkedOut: true}
			c.entries[key] = e
			c.evictLocked()
			return &Handle[T]{cache: c, entry: e}, nil
		}

		if !e.checkedOut {
			c.released.Remove(e.elem)
			e.elem = nil
			e.checkedOut = true
			return &Handle[T]{cache: c, entry: e}, nil
		}

		c.cond.Wait()
	}
}

func (c *Cache[T]) release(e *entry[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.checkedOut = false
	if e.drop {
		if c.entries[e.key] == e {
			delete(c.entries, e.key)
		}
	} else {
		e.elem = c.released.PushFront(e)
		c.evictLocked()
	}
	c.cond.Broadcast()
}

// evictLocked drops least-recently released entries until the table fits.
// Checked-out entries are never evicted, so the table may stay over
// capacity while many entries are in use.
func (c *Cache[T]) evictLocked() {
	for len(c.entries) > c.capacity {
		back := c.released.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry[T])
		c.released.Remove(back)
		e.elem = nil
		delete(c.entries, e.key)
	}
}

// Invalidate removes key from the cache. If the entry is checked out, the
// call blocks until it is released. Calling Invalidate on a key held by the
// calling goroutine deadlocks; use Handle.Invalidate instead.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		e, ok := c.entries[key]
		if !ok {
			return
		}
		if !e.checkedOut {
			c.released.Remove(e.elem)
			e.elem = nil
			delete(c.entries, key)
			c.cond.Broadcast()
			return
		}
		c.cond.Wait()
	}
}

// Len returns the number of cached entries, checked out or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether key currently has an entry.
func (c *Cache[T]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Handle is an exclusive checkout of one cached object.
type Handle[T any] struct {
	cache *Cache[T]
	entry *entry[T]
	once  sync.Once
}

// Key returns the cache key.
func (h *Handle[T]) Key() string {
	return h.entry.key
}

// Value returns the cached object. It must not be used after Release.
func (h *Handle[T]) Value() T {
	return h.entry.value
}

// Invalidate marks the entry to be dropped when the handle is released.
func (h *Handle[T]) Invalidate() {
	h.cache.mu.Lock()
	h.entry.drop = true
	h.cache.mu.Unlock()
}

// Release returns the entry to the cache. Extra calls are no-ops.
func (h *Handle[T]) Release() {
	h.once.Do(func() {
		h.cache.release(h.entry)
	})
}
