package refcount

import (
	"errors"
	"testing"

	"github.com/vdostore/slabdepot/pbn"
)

func TestReserveFreeAndCommit(t *testing.T) {
	rc := New(pbn.PBN(100), 8)

	if rc.FreeCount() != 8 {
		t.Fatalf("FreeCount = %d, want 8", rc.FreeCount())
	}

	p, err := rc.ReserveFree()
	if err != nil {
		t.Fatalf("ReserveFree: %v", err)
	}
	if p != 100 {
		t.Fatalf("ReserveFree PBN = %d, want 100", p)
	}
	if rc.FreeCount() != 7 {
		t.Fatalf("FreeCount after reserve = %d, want 7", rc.FreeCount())
	}

	v, _ := rc.At(p)
	if v != Provisional {
		t.Fatalf("counter after reserve = %d, want Provisional", v)
	}

	// R2 commit half: increment from provisional becomes a real ref.
	if err := rc.Modify(p, OpIncrement); err != nil {
		t.Fatalf("commit: %v", err)
	}
	v, _ = rc.At(p)
	if v != 1 {
		t.Fatalf("counter after commit = %d, want 1", v)
	}
}

// R2: allocate then release without confirm restores prior state exactly.
func TestAbortRollsBack(t *testing.T) {
	rc := New(pbn.PBN(0), 4)

	p, err := rc.ReserveFree()
	if err != nil {
		t.Fatalf("ReserveFree: %v", err)
	}

	if err := rc.ClearProvisional(p); err != nil {
		t.Fatalf("ClearProvisional: %v", err)
	}

	if rc.FreeCount() != 4 {
		t.Fatalf("FreeCount after abort = %d, want 4", rc.FreeCount())
	}
	v, _ := rc.At(p)
	if v != Free {
		t.Fatalf("counter after abort = %d, want Free", v)
	}

	// Subsequent allocate reuses the same PBN.
	p2, err := rc.ReserveFree()
	if err != nil {
		t.Fatalf("ReserveFree after abort: %v", err)
	}
	if p2 != p {
		t.Fatalf("expected reuse of PBN %d, got %d", p, p2)
	}
}

// R3: increment(p) followed by decrement(p) restores ref[p].
func TestIncrementDecrementRoundTrip(t *testing.T) {
	rc := New(pbn.PBN(0), 4)
	p, _ := rc.ReserveFree()
	rc.Modify(p, OpIncrement) // commit to 1

	if err := rc.Modify(p, OpIncrement); err != nil {
		t.Fatalf("increment: %v", err)
	}
	v, _ := rc.At(p)
	if v != 2 {
		t.Fatalf("counter = %d, want 2", v)
	}

	if err := rc.Modify(p, OpDecrement); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	v, _ = rc.At(p)
	if v != 1 {
		t.Fatalf("counter after round trip = %d, want 1", v)
	}
}

func TestSaturationPinsAtMax(t *testing.T) {
	rc := New(pbn.PBN(0), 1)
	p, _ := rc.ReserveFree()
	rc.Modify(p, OpIncrement) // -> 1

	for i := 0; i < 300; i++ {
		if err := rc.Modify(p, OpIncrement); err != nil {
			t.Fatalf("increment #%d: %v", i, err)
		}
	}

	v, _ := rc.At(p)
	if v != Saturated {
		t.Fatalf("counter = %d, want Saturated (%d)", v, Saturated)
	}

	if err := rc.Modify(p, OpDecrement); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt decrementing a saturated counter, got %v", err)
	}
}

func TestBlockMapIncrementNeverDecrements(t *testing.T) {
	rc := New(pbn.PBN(0), 1)
	p, _ := rc.ReserveFree()

	if err := rc.Modify(p, OpBlockMapIncrement); err != nil {
		t.Fatalf("block-map-increment: %v", err)
	}
	v, _ := rc.At(p)
	if v != Saturated {
		t.Fatalf("counter = %d, want Saturated", v)
	}
	if rc.FreeCount() != 0 {
		t.Fatalf("FreeCount = %d, want 0", rc.FreeCount())
	}

	if err := rc.Modify(p, OpDecrement); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt decrementing a block-map counter, got %v", err)
	}
}

func TestReserveFreeExhaustion(t *testing.T) {
	rc := New(pbn.PBN(0), 2)
	if _, err := rc.ReserveFree(); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := rc.ReserveFree(); err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if _, err := rc.ReserveFree(); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
}

// I1: free_count == count(i : ref[i] == 0), checked after a Load +
// Recompute cycle simulating scrub replay.
func TestLoadRecomputesFreeCount(t *testing.T) {
	raw := []uint8{0, 1, 254, 255, 0, 0}
	rc := Load(pbn.PBN(1000), raw)
	if rc.FreeCount() != 3 {
		t.Fatalf("FreeCount = %d, want 3", rc.FreeCount())
	}

	rc.counts[0] = 9 // simulate drift
	rc.Recompute()
	if rc.FreeCount() != 2 {
		t.Fatalf("FreeCount after recompute = %d, want 2", rc.FreeCount())
	}
}

func TestIndexBoundsChecked(t *testing.T) {
	rc := New(pbn.PBN(100), 4)
	if _, err := rc.At(pbn.PBN(50)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for pbn before origin, got %v", err)
	}
	if _, err := rc.At(pbn.PBN(200)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for pbn past slab end, got %v", err)
	}
}
