package summary

import (
	"sync"
	"testing"

	"github.com/vdostore/slabdepot/wire"
)

type fakeStore struct {
	mu     sync.Mutex
	blocks map[int][]byte
	reads  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{blocks: make(map[int][]byte)}
}

func (f *fakeStore) ReadBlock(index int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if b, ok := f.blocks[index]; ok {
		return append([]byte(nil), b...), nil
	}
	return make([]byte, wire.SummaryBlockBytes), nil
}

func (f *fakeStore) WriteBlock(index int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[index] = append([]byte(nil), data...)
	return nil
}

func TestUpdateThenDrainWritesOneBlock(t *testing.T) {
	store := newFakeStore()
	s := New(0, store)

	s.Update(3, 42, true, false, 10)
	s.Update(4, 7, false, true, 5)

	n, err := s.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 1 {
		t.Fatalf("Drain wrote %d blocks, want 1 (both slabs share block 0)", n)
	}

	if len(store.blocks) != 1 {
		t.Fatalf("expected 1 block persisted, got %d", len(store.blocks))
	}
}

func TestDrainIsNoOpWhenClean(t *testing.T) {
	store := newFakeStore()
	s := New(0, store)

	n, err := s.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no-op drain, wrote %d blocks", n)
	}
}

func TestReadAllStatusesRoundTripsThroughDrain(t *testing.T) {
	store := newFakeStore()
	s := New(0, store)

	s.Update(0, 1, true, false, 63)
	s.Update(1, 2, false, true, 0)
	if _, err := s.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	s2 := New(0, store)
	statuses, err := s2.ReadAllStatuses(2)
	if err != nil {
		t.Fatalf("ReadAllStatuses: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if !statuses[0].IsClean || statuses[0].TailBlockOffset != 1 {
		t.Fatalf("slab 0 mismatch: %+v", statuses[0])
	}
	if statuses[1].IsClean || !statuses[1].LoadRefCounts || statuses[1].TailBlockOffset != 2 {
		t.Fatalf("slab 1 mismatch: %+v", statuses[1])
	}
}

func TestReadAllStatusesCoalescesConcurrentLoads(t *testing.T) {
	store := newFakeStore()
	store.WriteBlock(0, make([]byte, wire.SummaryBlockBytes))

	s := New(0, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ReadAllStatuses(4); err != nil {
				t.Errorf("ReadAllStatuses: %v", err)
			}
		}()
	}
	wg.Wait()

	if store.reads > 8 {
		t.Fatalf("expected coalesced reads, got %d raw ReadBlock calls", store.reads)
	}
}

func TestBlockAndOffsetMapping(t *testing.T) {
	for _, slabNumber := range []uint32{0, 1, uint32(wire.SummaryEntriesPerBlock), uint32(wire.SummaryEntriesPerBlock) + 3} {
		block, offset := blockAndOffset(slabNumber)
		reconstructed := uint32(block*wire.SummaryEntriesPerBlock + offset)
		if reconstructed != slabNumber {
			t.Fatalf("slab %d: block=%d offset=%d reconstructed=%d", slabNumber, block, offset, reconstructed)
		}
	}
}
