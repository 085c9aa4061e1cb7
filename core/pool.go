package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// PoolStats is a snapshot of a recycling pool's counters.
type PoolStats struct {
	Hits    uint64 // Get served from the free list.
	Misses  uint64 // Get had to allocate.
	Created uint64 // Total items allocated by the pool.
	Idle    int64  // Items currently on the free list.
}

// RecyclePool is a free-list pool protected by a mutex. Unlike sync.Pool its
// contents are not cleared by the garbage collector, so buffers recycled
// during a long build keep their capacity between rounds.
type RecyclePool[T any] struct {
	mu      sync.Mutex
	items   []T
	newFunc func() T
	reset   func(T) T

	hits    atomic.Uint64
	misses  atomic.Uint64
	created atomic.Uint64
	idle    atomic.Int64
}

// NewRecyclePool creates a pool. reset is applied to items on Put and may
// return a modified value (e.g. a slice truncated to zero length); it may be nil.
func NewRecyclePool[T any](newItem func() T, reset func(T) T) *RecyclePool[T] {
	p := &RecyclePool[T]{reset: reset}
	p.newFunc = func() T {
		p.created.Add(1)
		return newItem()
	}
	return p
}

// Get retrieves an item from the pool. If the pool is empty, it creates a new one.
func (p *RecyclePool[T]) Get() T {
	p.mu.Lock()
	if len(p.items) == 0 {
		p.mu.Unlock()
		p.misses.Add(1)
		return p.newFunc()
	}
	item := p.items[len(p.items)-1]
	var zero T
	p.items[len(p.items)-1] = zero
	p.items = p.items[:len(p.items)-1]
	p.mu.Unlock()
	p.hits.Add(1)
	p.idle.Add(-1)
	return item
}

// Put returns an item to the pool. It is never discarded.
func (p *RecyclePool[T]) Put(item T) {
	if p.reset != nil {
		item = p.reset(item)
	}
	p.mu.Lock()
	p.items = append(p.items, item)
	p.mu.Unlock()
	p.idle.Add(1)
}

// Stats returns the current counters for the pool.
func (p *RecyclePool[T]) Stats() PoolStats {
	return PoolStats{
		Hits:    p.hits.Load(),
		Misses:  p.misses.Load(),
		Created: p.created.Load(),
		Idle:    p.idle.Load(),
	}
}

// DefaultRecordBufferSize is the initial capacity of pooled encode buffers,
// large enough for a typical centroided spectrum.
const DefaultRecordBufferSize = 32 * 1024

// BufferPool holds scratch buffers used when encoding records and journal frames.
var BufferPool = NewBufferPool(DefaultRecordBufferSize)

// NewBufferPool creates a pool of bytes.Buffer with the given initial capacity.
func NewBufferPool(capacity int) *RecyclePool[*bytes.Buffer] {
	return NewRecyclePool(
		func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, capacity)) },
		func(b *bytes.Buffer) *bytes.Buffer { b.Reset(); return b },
	)
}
