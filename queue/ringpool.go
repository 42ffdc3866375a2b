// Package queue provides the depot's shared concurrency primitives: a
// generic fixed-capacity object ring (used to pre-warm VIO buffers), a
// bucketed O(1) priority table for slab selection, and a
// per-thread work queue implementing the completion-passing style the
// allocator core uses to bounce work between zone threads.
package queue

import (
	"sync"

	"github.com/vdostore/slabdepot/bits"
)

// RingPool is a fixed-capacity pool of pre-allocated T values, handed out
// and returned through a channel-backed free list. It is the generic
// form of the teacher's TypedRingBuffer: get blocks until a slot is
// free, return never blocks. A Bitfield tracks which slots are checked
// out, for diagnostics that need an occupancy count without draining the
// free-list channel.
type RingPool[T any] struct {
	items []T
	free  chan uint16

	mu       sync.Mutex
	occupied bits.Bitfield
}

// NewRingPool pre-allocates n zero-valued T and marks every slot free.
func NewRingPool[T any](n int) *RingPool[T] {
	items := make([]T, n)

	free := make(chan uint16, n)
	for i := 0; i < n; i++ {
		free <- uint16(i)
	}

	return &RingPool[T]{items: items, free: free}
}

// Get blocks until a slot is available and returns a pointer into the
// pool's backing array plus the slot id needed to return it.
func (p *RingPool[T]) Get() (*T, uint16) {
	id := <-p.free
	p.markOccupied(id)
	return &p.items[id], id
}

// TryGet returns immediately with ok=false if no slot is free, for
// callers on a non-blocking path (allocate_block must never sleep).
func (p *RingPool[T]) TryGet() (*T, uint16, bool) {
	select {
	case id := <-p.free:
		p.markOccupied(id)
		return &p.items[id], id, true
	default:
		return nil, 0, false
	}
}

// Return releases a slot back to the pool.
func (p *RingPool[T]) Return(id uint16) {
	p.mu.Lock()
	p.occupied.Clear(int(id))
	p.mu.Unlock()
	p.free <- id
}

func (p *RingPool[T]) markOccupied(id uint16) {
	p.mu.Lock()
	p.occupied.Set(int(id))
	p.mu.Unlock()
}

// Cap reports the pool's fixed capacity.
func (p *RingPool[T]) Cap() int {
	return cap(p.free)
}

// InUse reports how many slots are currently checked out.
func (p *RingPool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.occupied.Count()
}
