package allocator

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/vdostore/slabdepot/queue"
)

// VIOPool is a zone-local, bounded pool of fixed-size I/O buffers. It
// bounds concurrent metadata I/O the way the real allocator bounds
// in-flight VIOs: a semaphore admits at most Capacity concurrent holders,
// and the backing RingPool hands out the actual buffer. An exhausted pool
// blocks the requester in Acquire rather than growing, matching the
// "bounded, waiter queue drained on return" resource policy.
type VIOPool struct {
	sem  *semaphore.Weighted
	ring *queue.RingPool[[]byte]
}

// NewVIOPool creates a pool of n buffers, each bufferSize bytes.
func NewVIOPool(n, bufferSize int) *VIOPool {
	ring := queue.NewRingPool[[]byte](n)
	for i := 0; i < n; i++ {
		buf, id := ring.Get()
		*buf = make([]byte, bufferSize)
		ring.Return(id)
	}

	return &VIOPool{
		sem:  semaphore.NewWeighted(int64(n)),
		ring: ring,
	}
}

// Acquire blocks until a buffer is available or ctx is cancelled.
func (p *VIOPool) Acquire(ctx context.Context) (*[]byte, uint16, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	buf, id := p.ring.Get()
	return buf, id, nil
}

// Release returns a buffer to the pool, waking one parked Acquire caller.
func (p *VIOPool) Release(id uint16) {
	p.ring.Return(id)
	p.sem.Release(1)
}

// Cap reports the pool's fixed capacity.
func (p *VIOPool) Cap() int { return p.ring.Cap() }

// InUse reports how many buffers are currently checked out. Drain
// asserts this is zero once a zone's metadata I/O has finished flushing.
func (p *VIOPool) InUse() int { return p.ring.InUse() }
