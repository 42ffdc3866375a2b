package allocator

import (
	"errors"
	"testing"

	"github.com/vdostore/slabdepot/pbn"
	"github.com/vdostore/slabdepot/refcount"
	"github.com/vdostore/slabdepot/slab"
)

func addTestSlab(a *Allocator, number uint32, origin pbn.PBN, dataBlocks int) {
	s := slab.New(number, a.ZoneNumber, origin, dataBlocks)
	rc := refcount.New(origin, dataBlocks)
	a.AddSlab(s, rc)
}

func TestAllocateBlockFromSingleSlab(t *testing.T) {
	a := New(0, 0)
	addTestSlab(a, 0, pbn.PBN(100), 4)

	seen := map[pbn.PBN]bool{}
	for i := 0; i < 4; i++ {
		p, err := a.AllocateBlock()
		if err != nil {
			t.Fatalf("allocate #%d: %v", i, err)
		}
		if seen[p] {
			t.Fatalf("duplicate pbn %d allocated", p)
		}
		seen[p] = true
	}

	if _, err := a.AllocateBlock(); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace once zone is exhausted, got %v", err)
	}
}

func TestAllocateBlockMovesToNextSlabOnExhaustion(t *testing.T) {
	a := New(0, 0)
	addTestSlab(a, 0, pbn.PBN(0), 1)
	addTestSlab(a, 1, pbn.PBN(100), 1)

	p1, err := a.AllocateBlock()
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	p2, err := a.AllocateBlock()
	if err != nil {
		t.Fatalf("second allocate: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected allocations from two distinct slabs, got same pbn twice")
	}

	if _, err := a.AllocateBlock(); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace after both slabs exhausted, got %v", err)
	}
}

func TestAllocateBlockNoSlabsReturnsNoSpace(t *testing.T) {
	a := New(0, 0)
	if _, err := a.AllocateBlock(); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace with no slabs, got %v", err)
	}
}

func TestDrainRejectsNewAllocations(t *testing.T) {
	a := New(0, 0)
	addTestSlab(a, 0, pbn.PBN(0), 4)
	a.Drain()

	if _, err := a.AllocateBlock(); !errors.Is(err, ErrQuiescent) {
		t.Fatalf("expected ErrQuiescent while draining, got %v", err)
	}
}

func TestReadOnlyRejectsAllocations(t *testing.T) {
	a := New(0, 0)
	addTestSlab(a, 0, pbn.PBN(0), 4)
	a.Admin.EnterReadOnly()

	if _, err := a.AllocateBlock(); err == nil {
		t.Fatalf("expected an error while read-only")
	}
}

func TestQueueSlabByNumberReadmits(t *testing.T) {
	a := New(0, 0)
	addTestSlab(a, 0, pbn.PBN(0), 1)

	if _, err := a.AllocateBlock(); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// zone is exhausted: slab 0's single block is provisional, no slabs
	// left in the priority table.
	if _, err := a.AllocateBlock(); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}

	// Simulate the block being freed by an abort, then re-admit the slab.
	s, rc, ok := a.Slab(0)
	if !ok {
		t.Fatalf("expected slab 0 to exist")
	}
	rc.ClearProvisional(s.Origin)
	s.FreeCount = rc.FreeCount()
	a.QueueSlabByNumber(0)

	if _, err := a.AllocateBlock(); err != nil {
		t.Fatalf("expected allocation to succeed after re-admission: %v", err)
	}
}
