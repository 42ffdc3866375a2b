// Package allocator implements the per-zone block allocator: the
// allocate_block state machine, its priority-table-backed slab selection,
// and the zone-local resources (PBN locks, VIO pool, scrubber) it owns.
package allocator

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/vdostore/slabdepot/admin"
	"github.com/vdostore/slabdepot/lock"
	"github.com/vdostore/slabdepot/pbn"
	"github.com/vdostore/slabdepot/queue"
	"github.com/vdostore/slabdepot/refcount"
	"github.com/vdostore/slabdepot/scrub"
	"github.com/vdostore/slabdepot/slab"
)

// ErrNoSpace is returned by AllocateBlock when the zone has no free block
// available even after opening a new slab.
var ErrNoSpace = errors.New("allocator: zone has no free block")

// ErrQuiescent is returned by AllocateBlock once the allocator has entered
// draining: new requests fail immediately, in-flight ones still complete.
var ErrQuiescent = errors.New("allocator: allocator is draining")

// maxPriorityLevels bounds the priority table; a slab's priority is
// 1+floor(log2(free_blocks)), which for any realistic slab size fits well
// inside 63.
const maxPriorityLevels = 63

// defaultVIOCapacity bounds how many metadata I/Os (journal flushes and
// reads) a single zone may have outstanding at once.
const defaultVIOCapacity = 8

// defaultVIOBufferSize is the scratch buffer size handed out by the VIO
// pool; comfortably larger than any slab journal block this simulation
// encodes.
const defaultVIOBufferSize = 8192

// runtime bundles one slab's live state: the Slab record plus its
// ref-counts array. The slab journal is not held here; the depot keeps
// each slab's journal in its own per-slab entry.
type runtime struct {
	slab *slab.Slab
	refs *refcount.RefCounts
}

// Allocator is one physical zone's block allocator.
type Allocator struct {
	ZoneNumber int
	ThreadID   int

	slabs      map[uint32]*runtime
	prioritized *queue.PriorityTable[*runtime]
	openSlab   *runtime

	Locks    *lock.Pool
	Scrubber *scrub.Scrubber
	Admin    *admin.Machine
	VIO      *VIOPool

	allocatedBlocks atomic.Int64
	draining        bool
}

// New creates an empty allocator for one zone.
func New(zoneNumber, threadID int) *Allocator {
	return &Allocator{
		ZoneNumber:  zoneNumber,
		ThreadID:    threadID,
		slabs:       make(map[uint32]*runtime),
		prioritized: queue.NewPriorityTable[*runtime](maxPriorityLevels),
		Locks:       lock.NewPool(),
		Scrubber:    scrub.New(),
		Admin:       admin.New(),
		VIO:         NewVIOPool(defaultVIOCapacity, defaultVIOBufferSize),
	}
}

// AddSlab admits a slab (already loaded and marked clean, or newly
// constructed) into the zone's priority table for allocation.
func (a *Allocator) AddSlab(s *slab.Slab, refs *refcount.RefCounts) {
	rt := &runtime{slab: s, refs: refs}
	a.slabs[s.Number] = rt
	a.queueSlab(rt)
}

func (a *Allocator) queueSlab(rt *runtime) {
	rt.slab.RecomputePriority()
	a.prioritized.Enqueue(rt.slab.Priority, rt)
}

// QueueSlabByNumber re-admits a previously scrubbed slab, looked up by
// number, for allocation. It is the concrete form of the spec's
// queue_slab operation used as the scrubber's re-admission callback.
func (a *Allocator) QueueSlabByNumber(number uint32) {
	if rt, ok := a.slabs[number]; ok {
		a.queueSlab(rt)
	}
}

// Drain marks the allocator as draining: further AllocateBlock calls fail
// with ErrQuiescent, though in-flight requests already past this check
// still complete.
func (a *Allocator) Drain() { a.draining = true }

// AllocateBlock implements the four-step allocation path: try the open
// slab, on exhaustion re-queue it and open the next highest-priority slab,
// retry once, and report NoSpace if that also fails.
func (a *Allocator) AllocateBlock() (pbn.PBN, error) {
	if a.draining {
		return pbn.Zero, ErrQuiescent
	}
	if a.Admin.IsReadOnly() {
		return pbn.Zero, fmt.Errorf("allocator: zone %d is read-only", a.ZoneNumber)
	}

	if a.openSlab != nil {
		if p, err := a.tryReserve(a.openSlab); err == nil {
			return p, nil
		}
		a.requeueOpenSlab()
	}

	if !a.openNextSlab() {
		return pbn.Zero, ErrNoSpace
	}

	p, err := a.tryReserve(a.openSlab)
	if err != nil {
		return pbn.Zero, ErrNoSpace
	}
	return p, nil
}

func (a *Allocator) tryReserve(rt *runtime) (pbn.PBN, error) {
	p, err := rt.refs.ReserveFree()
	if err != nil {
		return pbn.Zero, err
	}
	rt.slab.FreeCount = rt.refs.FreeCount()
	rt.slab.RecomputePriority()
	a.allocatedBlocks.Add(1)
	return p, nil
}

func (a *Allocator) requeueOpenSlab() {
	if a.openSlab == nil {
		return
	}
	a.queueSlab(a.openSlab)
	a.openSlab = nil
}

func (a *Allocator) openNextSlab() bool {
	rt, ok := a.prioritized.DequeueHighest()
	if !ok {
		return false
	}
	rt.slab.Opened = true
	rt.slab.State = slab.StateOpen
	a.openSlab = rt
	return true
}

// AllocatedBlocks returns the running count of blocks handed out by this
// allocator since construction. Safe to call from any thread; depot.
// AllocatedBlocks sums every zone's counter concurrently with zone
// threads still allocating.
func (a *Allocator) AllocatedBlocks() int64 { return a.allocatedBlocks.Load() }

// EnqueueWaiter parks a caller that ran out of zones to try until this
// allocator's scrubber makes progress.
func (a *Allocator) EnqueueWaiter(w func()) {
	a.Scrubber.EnqueueWaiter(w)
}

// Slab looks up a slab runtime by number, for tests and diagnostics.
func (a *Allocator) Slab(number uint32) (*slab.Slab, *refcount.RefCounts, bool) {
	rt, ok := a.slabs[number]
	if !ok {
		return nil, nil, false
	}
	return rt.slab, rt.refs, true
}
