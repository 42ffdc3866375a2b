// Package scrub implements the per-allocator slab scrubber: it replays a
// dirty slab's journal against its ref-counts in priority order, without
// blocking the allocation path, and wakes waiters as slabs become clean.
package scrub

import (
	"errors"
	"fmt"

	"github.com/vdostore/slabdepot/journal"
	"github.com/vdostore/slabdepot/queue"
	"github.com/vdostore/slabdepot/refcount"
	"github.com/vdostore/slabdepot/slab"
	"github.com/vdostore/slabdepot/wire"
)

// ErrReadOnly is returned by ScrubNext when a slab's ref-counts are found
// corrupted during replay; the caller must put the owning zone read-only.
var ErrReadOnly = errors.New("scrub: corrupted ref-counts, entering read-only mode")

// Target is one slab queued for scrubbing, bundling the state ScrubNext
// needs to replay its journal.
type Target struct {
	Slab      *slab.Slab
	RefCounts *refcount.RefCounts
	Journal   *journal.Journal
	Entries   []wire.JournalEntry // decoded on-disk entries not yet reflected in ref-counts
}

const (
	priorityNormal = 0
	priorityHigh   = 1
)

// Scrubber holds one allocator's high- and normal-priority scrub queues.
// High-priority slabs block allocation from proceeding (prepare_to_allocate
// gates on that queue draining); normal-priority slabs scrub in the
// background.
type Scrubber struct {
	queue     *queue.PriorityTable[*Target]
	highCount int
	waiters   []func()

	// QueueSlab, if non-nil, is called with each scrubbed slab. Neither
	// allocator.New nor the depot sets it (the depot re-admits scrubbed
	// slabs itself), so it is nil unless a caller assigns it.
	QueueSlab func(*slab.Slab)
}

// New creates an empty scrubber.
func New() *Scrubber {
	return &Scrubber{queue: queue.NewPriorityTable[*Target](priorityHigh)}
}

// EnqueueHigh queues t on the high-priority queue, blocking allocation
// until it and every other high-priority slab has been scrubbed.
func (s *Scrubber) EnqueueHigh(t *Target) {
	s.queue.Enqueue(priorityHigh, t)
	s.highCount++
}

// EnqueueNormal queues t on the background scrub queue.
func (s *Scrubber) EnqueueNormal(t *Target) {
	s.queue.Enqueue(priorityNormal, t)
}

// HighPriorityPending reports whether any high-priority slab remains
// unscrubbed. prepare_to_allocate gates on this being false.
func (s *Scrubber) HighPriorityPending() bool {
	return s.highCount > 0
}

// EnqueueWaiter parks a caller until any slab becomes clean; ScrubNext
// wakes exactly one waiter per slab scrubbed.
func (s *Scrubber) EnqueueWaiter(w func()) {
	s.waiters = append(s.waiters, w)
}

func (s *Scrubber) wakeOneWaiter() {
	if len(s.waiters) == 0 {
		return
	}
	w := s.waiters[0]
	s.waiters = s.waiters[1:]
	w()
}

// ScrubNext pops the highest-priority queued slab, replays every entry not
// yet reflected in its ref-counts, rewrites its summary status via
// updateSummary, and re-admits it for allocation via QueueSlab. It returns
// the slab scrubbed, or ok=false if the queue was empty.
func (s *Scrubber) ScrubNext(updateSummary func(*slab.Slab) error) (*slab.Slab, bool, error) {
	wasHigh := s.highCount > 0

	t, ok := s.queue.DequeueHighest()
	if !ok {
		return nil, false, nil
	}
	if wasHigh {
		s.highCount--
	}

	err := t.Journal.Replay(t.Entries, func(e wire.JournalEntry) error {
		return t.RefCounts.Modify(e.PBN, refcount.FromWire(e.Op))
	})
	if err != nil {
		return t.Slab, true, fmt.Errorf("%w: slab %d: %v", ErrReadOnly, t.Slab.Number, err)
	}

	t.Slab.State = slab.StateClean
	t.RefCounts.Recompute()
	t.Slab.FreeCount = t.RefCounts.FreeCount()
	t.Slab.RecomputePriority()

	if updateSummary != nil {
		if err := updateSummary(t.Slab); err != nil {
			return t.Slab, true, err
		}
	}

	if s.QueueSlab != nil {
		s.QueueSlab(t.Slab)
	}

	s.wakeOneWaiter()

	return t.Slab, true, nil
}

// Len reports the total number of slabs queued for scrubbing.
func (s *Scrubber) Len() int { return s.queue.Len() }
