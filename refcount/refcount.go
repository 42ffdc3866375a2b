// Package refcount implements a single slab's ref-counts array: the
// per-block 8-bit reference counters, their invariants, and the
// mutations the allocator applies to them. Every method here runs on the
// owning zone's thread; there is no internal locking.
package refcount

import (
	"errors"
	"fmt"

	"github.com/vdostore/slabdepot/pbn"
	"github.com/vdostore/slabdepot/scan"
	"github.com/vdostore/slabdepot/wire"
)

const (
	// Free marks a counter with no references.
	Free uint8 = 0
	// Saturated is the maximum reference count; it is pinned and never
	// decremented.
	Saturated uint8 = 254
	// Provisional marks a counter reserved by an in-flight write that
	// has not yet committed or aborted.
	Provisional uint8 = 255
)

var (
	// ErrNoSpace is returned by ReserveFree when every counter in the
	// slab is non-zero.
	ErrNoSpace = errors.New("refcount: no free block in slab")
	// ErrCorrupt marks an operation that would violate a ref-count
	// invariant (decrementing a free counter, incrementing a
	// provisional slot from a path other than commit, and so on).
	ErrCorrupt = errors.New("refcount: invariant violation")
)

// RefCounts is the in-memory ref-counts array for one slab, plus the
// origin PBN needed to translate counter index to a PBN and back.
type RefCounts struct {
	origin  pbn.PBN
	counts  []uint8
	free    int
	scratch []int // reusable scan output buffer, sized once
}

// New allocates a ref-counts array of dataBlocks counters, all free, for
// a slab whose first data block is at origin.
func New(origin pbn.PBN, dataBlocks int) *RefCounts {
	return &RefCounts{
		origin:  origin,
		counts:  make([]uint8, dataBlocks),
		free:    dataBlocks,
		scratch: make([]int, dataBlocks),
	}
}

// Load rebuilds a RefCounts from a raw on-disk counter array, as read by
// the summary/scrubber load path. free_count is recomputed from the data
// rather than trusted, matching invariant I1.
func Load(origin pbn.PBN, counts []uint8) *RefCounts {
	rc := &RefCounts{
		origin:  origin,
		counts:  append([]uint8(nil), counts...),
		scratch: make([]int, len(counts)),
	}
	rc.free = scan.Count(rc.counts, Free)
	return rc
}

// Len returns the number of data blocks tracked.
func (rc *RefCounts) Len() int { return len(rc.counts) }

// FreeCount returns the number of counters at Free, satisfying invariant
// I1 by construction: every mutation below updates it in lockstep with
// the counters it touches.
func (rc *RefCounts) FreeCount() int { return rc.free }

// Bytes exposes the raw counter array for persistence. Callers must not
// mutate it outside this package.
func (rc *RefCounts) Bytes() []byte { return rc.counts }

func (rc *RefCounts) index(p pbn.PBN) (int, error) {
	if p < rc.origin {
		return 0, fmt.Errorf("%w: pbn %d precedes slab origin %d", ErrCorrupt, p, rc.origin)
	}
	idx := int(p - rc.origin)
	if idx >= len(rc.counts) {
		return 0, fmt.Errorf("%w: pbn %d out of range for slab of %d blocks", ErrCorrupt, p, len(rc.counts))
	}
	return idx, nil
}

// ReserveFree finds a free counter, stamps it Provisional, decrements
// free_count, and returns its PBN. It never allocates on the hot path:
// scan.FirstEqual searches the counters in place.
func (rc *RefCounts) ReserveFree() (pbn.PBN, error) {
	if rc.free == 0 {
		return pbn.Zero, ErrNoSpace
	}

	idx := scan.FirstEqual(rc.counts, Free)
	if idx < 0 {
		// free counter says otherwise: the bookkeeping has drifted
		// from the data, which is corruption, not NoSpace.
		return pbn.Zero, fmt.Errorf("%w: free_count=%d but no free counter found", ErrCorrupt, rc.free)
	}

	rc.counts[idx] = Provisional
	rc.free--

	return rc.origin + pbn.PBN(idx), nil
}

// Op is the ref-count mutation kind applied by Modify.
type Op uint8

const (
	OpIncrement Op = iota
	OpDecrement
	OpBlockMapIncrement
)

// ToWire maps an Op to its on-disk JournalOp encoding.
func (o Op) ToWire() wire.JournalOp {
	switch o {
	case OpIncrement:
		return wire.JournalIncrement
	case OpDecrement:
		return wire.JournalDecrement
	default:
		return wire.JournalBlockMapIncrement
	}
}

// FromWire maps an on-disk JournalOp back to an Op.
func FromWire(op wire.JournalOp) Op {
	switch op {
	case wire.JournalIncrement:
		return OpIncrement
	case wire.JournalDecrement:
		return OpDecrement
	default:
		return OpBlockMapIncrement
	}
}

// Modify applies op to the counter for pbn. Callers are responsible for
// appending the corresponding slab journal entry before calling Modify,
// per the "journal before ref-counts" ordering invariant — this function
// only ever updates the in-memory array.
func (rc *RefCounts) Modify(p pbn.PBN, op Op) error {
	idx, err := rc.index(p)
	if err != nil {
		return err
	}

	switch op {
	case OpIncrement:
		return rc.increment(idx)
	case OpDecrement:
		return rc.decrement(idx)
	case OpBlockMapIncrement:
		return rc.blockMapIncrement(idx)
	default:
		return fmt.Errorf("%w: unknown op %d", ErrCorrupt, op)
	}
}

func (rc *RefCounts) increment(idx int) error {
	switch v := rc.counts[idx]; {
	case v == Provisional:
		// commit path: the reservation becomes a real, single
		// reference.
		rc.counts[idx] = 1
	case v == Saturated:
		// already pinned, increments beyond saturation are no-ops.
	case v == Free:
		return fmt.Errorf("%w: increment of a free counter at offset %d", ErrCorrupt, idx)
	case v < Saturated:
		rc.counts[idx] = v + 1
	}
	return nil
}

func (rc *RefCounts) decrement(idx int) error {
	switch v := rc.counts[idx]; {
	case v == Provisional:
		// abort path: the reservation is returned to the slab.
		rc.counts[idx] = Free
		rc.free++
	case v == Free:
		return fmt.Errorf("%w: decrement of a free counter at offset %d", ErrCorrupt, idx)
	case v == Saturated:
		return fmt.Errorf("%w: saturated counter at offset %d is never decremented", ErrCorrupt, idx)
	case v == 1:
		rc.counts[idx] = Free
		rc.free++
	default:
		rc.counts[idx] = v - 1
	}
	return nil
}

func (rc *RefCounts) blockMapIncrement(idx int) error {
	if rc.counts[idx] == Free {
		rc.free--
	}
	rc.counts[idx] = Saturated
	return nil
}

// AssignProvisional stamps the counter for pbn as Provisional, used when
// a PBN lock pool records a provisional reference that a ref-counts reload
// must reconcile against (see lock.Pool.AssignProvisional). A counter that
// was Free leaves free_count one lower, keeping invariant I1.
func (rc *RefCounts) AssignProvisional(p pbn.PBN) error {
	idx, err := rc.index(p)
	if err != nil {
		return err
	}
	if rc.counts[idx] == Free {
		rc.free--
	}
	rc.counts[idx] = Provisional
	return nil
}

// ClearProvisional returns a provisional reservation to Free, mirroring
// the PBN lock pool's release-without-commit path (invariant I2).
func (rc *RefCounts) ClearProvisional(p pbn.PBN) error {
	idx, err := rc.index(p)
	if err != nil {
		return err
	}
	if rc.counts[idx] != Provisional {
		return fmt.Errorf("%w: clear-provisional on non-provisional counter at offset %d (value %d)", ErrCorrupt, idx, rc.counts[idx])
	}
	rc.counts[idx] = Free
	rc.free++
	return nil
}

// At returns the raw counter value for pbn, for tests and diagnostics.
func (rc *RefCounts) At(p pbn.PBN) (uint8, error) {
	idx, err := rc.index(p)
	if err != nil {
		return 0, err
	}
	return rc.counts[idx], nil
}

// Recompute rebuilds free_count from the counter array from scratch,
// used after a scrub replay to guard against drift (invariant I1).
func (rc *RefCounts) Recompute() {
	rc.free = scan.Count(rc.counts, Free)
}
