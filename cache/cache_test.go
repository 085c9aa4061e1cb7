package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLRUCache(t *testing.T) {
	c := NewLRUCache[int32, string](10, nil, nil, nil)
	require.NotNil(t, c)
	assert.Equal(t, 10, c.Capacity())
	assert.Zero(t, c.Len())

	disabled := NewLRUCache[int32, string](-3, nil, nil, nil)
	assert.Equal(t, 0, disabled.Capacity())
	disabled.Put(1, "one")
	_, ok := disabled.Get(1)
	assert.False(t, ok)
	assert.Zero(t, disabled.Len())
	hits, misses := disabled.Stats()
	assert.Zero(t, hits+misses, "a disabled cache records nothing")
}

func TestLRUCache_PutAndGetEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []int32
	c := NewLRUCache[int32, string](3, func(k int32, _ string) { evicted = append(evicted, k) }, nil, nil)

	c.Put(1, "one")
	c.Put(2, "two")
	c.Put(3, "three")
	require.Equal(t, 3, c.Len())

	v, ok := c.Get(3)
	require.True(t, ok)
	assert.Equal(t, "three", v)
	_, ok = c.Get(1)
	require.True(t, ok)
	_, ok = c.Get(42)
	assert.False(t, ok)

	// 2 is now least recently used.
	c.Put(4, "four")
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []int32{2}, evicted)
	_, ok = c.Get(2)
	assert.False(t, ok)
	v, ok = c.Get(4)
	require.True(t, ok)
	assert.Equal(t, "four", v)
}

func TestLRUCache_PutUpdatesInPlace(t *testing.T) {
	c := NewLRUCache[string, int](2, nil, nil, nil)
	c.Put("k", 1)
	c.Put("k", 2)
	assert.Equal(t, 1, c.Len())
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRUCache_RemoveAndClear(t *testing.T) {
	var evicted int
	c := NewLRUCache[int32, []byte](4, func(int32, []byte) { evicted++ }, nil, nil)
	for i := int32(0); i < 4; i++ {
		c.Put(i, []byte{byte(i)})
	}
	assert.True(t, c.Remove(2))
	assert.False(t, c.Remove(2))
	assert.Zero(t, evicted, "Remove does not invoke the eviction callback")

	c.Get(0)
	c.Get(9)
	assert.InDelta(t, 0.5, c.GetHitRate(), 1e-9)

	c.Clear()
	assert.Equal(t, 3, evicted)
	assert.Zero(t, c.Len())
	assert.Zero(t, c.GetHitRate())
}

func TestLRUCache_HitMissCallbacks(t *testing.T) {
	var hits, misses []int32
	c := NewLRUCache[int32, int](2,
		nil,
		func(k int32) { hits = append(hits, k) },
		func(k int32) { misses = append(misses, k) },
	)
	c.Put(7, 70)
	c.Get(7)
	c.Get(8)
	c.Get(7)
	assert.Equal(t, []int32{7, 7}, hits)
	assert.Equal(t, []int32{8}, misses)
	h, m := c.Stats()
	assert.Equal(t, int64(2), h)
	assert.Equal(t, int64(1), m)
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	c := NewLRUCache[int, int](64, nil, nil, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := (g*31 + i) % 100
				c.Put(k, i)
				c.Get(k)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}
