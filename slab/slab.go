// Package slab defines the Slab type: its lifecycle state, and the
// priority function the block allocator uses to rank slabs for opening.
package slab

import (
	"math/bits"

	"github.com/vdostore/slabdepot/pbn"
)

// State is a slab's position in its lifecycle.
type State uint8

const (
	StateUnrecovered State = iota
	StateClean
	StateOpen
	StateDirty
	StateResuming
	StateQuiescent
)

func (s State) String() string {
	switch s {
	case StateUnrecovered:
		return "unrecovered"
	case StateClean:
		return "clean"
	case StateOpen:
		return "open"
	case StateDirty:
		return "dirty"
	case StateResuming:
		return "resuming"
	case StateQuiescent:
		return "quiescent"
	default:
		return "unknown"
	}
}

// Slab is one physical zone's unit of allocation bookkeeping. The ref
// counts, journal, and summary state it owns live in their own packages;
// Slab itself only tracks identity, lifecycle, and the numbers the
// priority function needs.
type Slab struct {
	Number     uint32
	Zone       int
	Origin     pbn.PBN
	DataBlocks int

	State      State
	Priority   int
	FreeCount  int
	JournalHead uint64
	JournalTail uint64
	OpenEpoch  uint64

	// Opened is true once the allocator has opened this slab for
	// allocation. A previously-opened slab is preferred over an unopened
	// one while its own priority is at or above the unopened priority;
	// once its free count drops below that level, the unopened slab is
	// preferred (see computePriority).
	Opened bool
}

// unopenedPriority computes 1 + floor(log2(dataBlocks*3/4)), the priority
// assigned to a slab that has never been opened, so that an unopened slab
// ranks below previously-opened slabs that still have that many free
// blocks.
func unopenedPriority(dataBlocks int) int {
	threshold := dataBlocks * 3 / 4
	if threshold < 1 {
		return 1
	}
	return 1 + floorLog2(threshold)
}

func floorLog2(v int) int {
	if v <= 0 {
		return 0
	}
	return bits.Len(uint(v)) - 1
}

// computePriority computes the priority a slab should have in the
// allocator's priority table given its current free count. Full slabs
// sink to priority 0; otherwise slabs are bucketed by order of magnitude
// of their free block count, with previously-opened slabs strictly
// preferred to unopened ones below the three-quarters-full threshold.
func (s *Slab) computePriority() int {
	if s.FreeCount == 0 {
		return 0
	}

	unopened := unopenedPriority(s.DataBlocks)
	if !s.Opened {
		return unopened
	}

	p := 1 + floorLog2(s.FreeCount)
	if p >= unopened {
		return p + 1
	}
	return p
}

// RecomputePriority updates Priority from the slab's current free count
// and opened state, mirroring what the allocator does after every
// reservation or release.
func (s *Slab) RecomputePriority() {
	s.Priority = s.computePriority()
}

// New creates a slab in the unrecovered state, as it exists immediately
// after depot construction and before load assigns it clean or dirty.
func New(number uint32, zone int, origin pbn.PBN, dataBlocks int) *Slab {
	s := &Slab{
		Number:     number,
		Zone:       zone,
		Origin:     origin,
		DataBlocks: dataBlocks,
		State:      StateUnrecovered,
		FreeCount:  dataBlocks,
	}
	s.RecomputePriority()
	return s
}
