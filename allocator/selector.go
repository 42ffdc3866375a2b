package allocator

import "sync/atomic"

// Selector is the stateless per-write helper that hands out a starting
// zone for a write's zone walk, rotating round-robin across Z zones with
// a per-logical-zone starting offset so concurrent logical zones don't all
// pile onto physical zone 0.
type Selector struct {
	zoneCount int
	counters  []atomic.Uint32
}

// NewSelector creates a selector for zoneCount physical zones and
// logicalZones independently-rotating logical zones.
func NewSelector(zoneCount, logicalZones int) *Selector {
	s := &Selector{zoneCount: zoneCount, counters: make([]atomic.Uint32, logicalZones)}
	for i := range s.counters {
		s.counters[i].Store(uint32(i % zoneCount))
	}
	return s
}

// NextZone returns the next physical zone to try for a write on the given
// logical zone, advancing that logical zone's rotation by one.
func (s *Selector) NextZone(logicalZone int) int {
	c := &s.counters[logicalZone%len(s.counters)]
	for {
		old := c.Load()
		next := (old + 1) % uint32(s.zoneCount)
		if c.CompareAndSwap(old, next) {
			return int(old)
		}
	}
}
