// Package summary implements one zone's slab summary: the write-through,
// batched digest of every slab's clean/dirty status that lets the admin
// load path decide which slabs need scrubbing without reading every
// slab's ref-counts and journal from disk.
package summary

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vdostore/slabdepot/wire"
)

// BlockStore is the narrow persistence surface the summary needs: reading
// and writing whole fixed-size summary blocks by index. The allocator's
// I/O adapter implements this against the real backing device; tests use
// an in-memory fake.
type BlockStore interface {
	ReadBlock(index int) ([]byte, error)
	WriteBlock(index int, data []byte) error
}

// Status is one slab's decoded summary entry, returned by ReadAllStatuses.
type Status struct {
	SlabNumber uint32
	wire.SummaryEntry
}

// Summary is one zone's in-memory view of the slab summary, backed by
// BlockStore. Updates are write-through but coalesced: multiple updates to
// the same slab before Drain only cost one write.
type Summary struct {
	zone  int
	store BlockStore

	mu      sync.Mutex
	entries map[uint32]wire.SummaryEntry
	dirty   map[uint32]bool

	loadGroup singleflight.Group
}

// New creates a summary for the given zone, backed by store.
func New(zone int, store BlockStore) *Summary {
	return &Summary{
		zone:    zone,
		store:   store,
		entries: make(map[uint32]wire.SummaryEntry),
		dirty:   make(map[uint32]bool),
	}
}

func blockAndOffset(slabNumber uint32) (block int, offset int) {
	block = int(slabNumber) / wire.SummaryEntriesPerBlock
	offset = int(slabNumber) % wire.SummaryEntriesPerBlock
	return
}

// Update records slabNumber's new status in memory and marks it dirty.
// The actual disk write is deferred and coalesced by Drain; a slab
// updated twice before the next drain is written once, with its latest
// status.
func (s *Summary) Update(slabNumber uint32, tailOffset uint16, isClean, loadRefCounts bool, freeHint uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[slabNumber] = wire.SummaryEntry{
		TailBlockOffset: tailOffset,
		IsClean:         isClean,
		LoadRefCounts:   loadRefCounts,
		FreeBlocksHint:  freeHint,
	}
	s.dirty[slabNumber] = true
}

// ReadAllStatuses loads every slab's status for slabCount slabs, reading
// each summary block at most once even under concurrent callers via
// singleflight, and returns them in slab-number order. Used at admin load
// time to decide, per slab, clean vs dirty.
func (s *Summary) ReadAllStatuses(slabCount uint32) ([]Status, error) {
	if slabCount == 0 {
		return nil, nil
	}

	lastBlock, _ := blockAndOffset(slabCount - 1)

	for block := 0; block <= lastBlock; block++ {
		if err := s.loadBlock(block); err != nil {
			return nil, fmt.Errorf("summary: zone %d: loading block %d: %w", s.zone, block, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]Status, slabCount)
	for slabNumber := uint32(0); slabNumber < slabCount; slabNumber++ {
		statuses[slabNumber] = Status{SlabNumber: slabNumber, SummaryEntry: s.entries[slabNumber]}
	}
	return statuses, nil
}

func (s *Summary) loadBlock(block int) error {
	key := fmt.Sprintf("%d:%d", s.zone, block)

	_, err, _ := s.loadGroup.Do(key, func() (any, error) {
		s.mu.Lock()
		firstSlab := uint32(block * wire.SummaryEntriesPerBlock)
		_, alreadyLoaded := s.entries[firstSlab]
		s.mu.Unlock()
		if alreadyLoaded {
			return nil, nil
		}

		raw, err := s.store.ReadBlock(block)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		for i := 0; i < wire.SummaryEntriesPerBlock; i++ {
			off := i * wire.SummaryEntrySize
			if off+wire.SummaryEntrySize > len(raw) {
				break
			}
			entry, decodeErr := wire.DecodeSummaryEntry(raw[off : off+wire.SummaryEntrySize])
			if decodeErr != nil {
				return nil, decodeErr
			}
			slabNumber := firstSlab + uint32(i)
			if _, exists := s.entries[slabNumber]; !exists {
				s.entries[slabNumber] = entry
			}
		}
		return nil, nil
	})

	return err
}

// Drain flushes every dirty slab's status to disk, batched one write per
// touched block, and clears the dirty set. It returns the number of
// blocks written.
func (s *Summary) Drain() (int, error) {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return 0, nil
	}

	touchedBlocks := make(map[int]bool)
	for slabNumber := range s.dirty {
		block, _ := blockAndOffset(slabNumber)
		touchedBlocks[block] = true
	}
	entriesSnapshot := make(map[uint32]wire.SummaryEntry, len(s.entries))
	for k, v := range s.entries {
		entriesSnapshot[k] = v
	}
	s.mu.Unlock()

	for block := range touchedBlocks {
		buf := make([]byte, wire.SummaryBlockBytes)
		firstSlab := uint32(block * wire.SummaryEntriesPerBlock)
		for i := 0; i < wire.SummaryEntriesPerBlock; i++ {
			slabNumber := firstSlab + uint32(i)
			entry := entriesSnapshot[slabNumber]
			entry.Encode(buf[i*wire.SummaryEntrySize:])
		}
		if err := s.store.WriteBlock(block, buf); err != nil {
			return 0, fmt.Errorf("summary: zone %d: writing block %d: %w", s.zone, block, err)
		}
	}

	s.mu.Lock()
	s.dirty = make(map[uint32]bool)
	s.mu.Unlock()

	return len(touchedBlocks), nil
}
