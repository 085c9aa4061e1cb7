package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Interface defines the public API for a keyed cache.
type Interface[K comparable, V any] interface {
	Put(key K, value V)
	Get(key K) (value V, ok bool)
	Remove(key K) bool
	Clear()
	GetHitRate() float64
	Len() int
}

// cacheEntry holds the key and value for a cache item.
type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRUCache implements a fixed-size LRU cache safe for concurrent use.
// A capacity of zero or less disables it: Put is a no-op and Get always misses.
type LRUCache[K comparable, V any] struct {
	mu         sync.Mutex
	capacity   int
	lruList    *list.List
	cacheItems map[K]*list.Element
	onEvicted  func(key K, value V) // Optional callback on eviction
	onHit      func(key K)          // Optional: called on a cache hit.
	onMiss     func(key K)          // Optional: called on a cache miss.

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Interface[int32, struct{}] = (*LRUCache[int32, struct{}])(nil)

// NewLRUCache creates a new LRUCache.
func NewLRUCache[K comparable, V any](capacity int, onEvicted func(key K, value V), onHit, onMiss func(key K)) *LRUCache[K, V] {
	if capacity < 0 {
		capacity = 0
	}
	return &LRUCache[K, V]{
		capacity:   capacity,
		lruList:    list.New(),
		cacheItems: make(map[K]*list.Element),
		onEvicted:  onEvicted,
		onHit:      onHit,
		onMiss:     onMiss,
	}
}

// Capacity returns the maximum number of entries.
func (c *LRUCache[K, V]) Capacity() int { return c.capacity }

// Get retrieves a value from the cache.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	if c.capacity == 0 {
		return value, false
	}

	c.mu.Lock()
	elem, ok := c.cacheItems[key]
	if ok {
		c.lruList.MoveToFront(elem)
		value = elem.Value.(*cacheEntry[K, V]).value
	}
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
		if c.onHit != nil {
			c.onHit(key)
		}
		return value, true
	}
	c.misses.Add(1)
	if c.onMiss != nil {
		c.onMiss(key)
	}
	return value, false
}

// Put adds a value to the cache, evicting the least recently used entry when full.
func (c *LRUCache[K, V]) Put(key K, value V) {
	if c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cacheItems[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*cacheEntry[K, V]).value = value
		return
	}

	if c.lruList.Len() >= c.capacity {
		c.evict()
	}
	c.cacheItems[key] = c.lruList.PushFront(&cacheEntry[K, V]{key: key, value: value})
}

// Remove drops key and reports whether it was present. onEvicted is not called.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.cacheItems[key]
	if !ok {
		return false
	}
	c.lruList.Remove(elem)
	delete(c.cacheItems, key)
	return true
}

// Len returns the current number of items in the cache.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// evict removes the least recently used item from the cache.
// Must be called with c.mu locked.
func (c *LRUCache[K, V]) evict() {
	if elem := c.lruList.Back(); elem != nil {
		removed := c.lruList.Remove(elem).(*cacheEntry[K, V])
		delete(c.cacheItems, removed.key)
		if c.onEvicted != nil {
			c.onEvicted(removed.key, removed.value)
		}
	}
}

// Clear removes all entries and resets the hit counters.
// onEvicted is called for every entry so pooled values can be returned.
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvicted != nil {
		for e := c.lruList.Back(); e != nil; e = e.Prev() {
			entry := e.Value.(*cacheEntry[K, V])
			c.onEvicted(entry.key, entry.value)
		}
	}
	c.lruList.Init()
	c.cacheItems = make(map[K]*list.Element)
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats returns the hit and miss counters.
func (c *LRUCache[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// GetHitRate calculates the cache hit rate.
func (c *LRUCache[K, V]) GetHitRate() float64 {
	hits, misses := c.Stats()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}
