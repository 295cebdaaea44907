// Package cache provides a small generic LRU used to remember lookups that
// are expensive to repeat, such as channel upserts against a remote store.
package cache

import (
	"container/list"
	"sync"
)

type item[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a fixed-size, thread-safe least recently used cache.
type LRU[K comparable, V any] struct {
	mu    sync.Mutex
	size  int
	order *list.List
	index map[K]*list.Element
}

// NewLRU returns a cache holding at most size entries. It panics when size is not positive.
func NewLRU[K comparable, V any](size int) *LRU[K, V] {
	if size <= 0 {
		panic("cache: LRU size must be positive")
	}
	return &LRU[K, V]{
		size:  size,
		order: list.New(),
		index: make(map[K]*list.Element, size),
	}
}

// Get returns the cached value and marks it as recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*item[K, V]).value, true
}

// Add stores value under key, evicting the oldest entry when full.
// It reports whether an entry was evicted.
func (c *LRU[K, V]) Add(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*item[K, V]).value = value
		c.order.MoveToFront(el)
		return false
	}

	c.index[key] = c.order.PushFront(&item[K, V]{key: key, value: value})
	if c.order.Len() <= c.size {
		return false
	}

	oldest := c.order.Back()
	c.order.Remove(oldest)
	delete(c.index, oldest.Value.(*item[K, V]).key)
	return true
}

// Remove drops key from the cache.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
