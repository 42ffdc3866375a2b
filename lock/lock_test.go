package lock

import (
	"errors"
	"testing"

	"github.com/vdostore/slabdepot/pbn"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := NewPool()

	l, err := p.Acquire(pbn.PBN(5), pbn.TypeRead)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("Len = %d, want 1", p.Len())
	}

	p.Release(l)
	if p.Len() != 0 {
		t.Fatalf("Len after release = %d, want 0", p.Len())
	}
	if _, ok := p.Lookup(pbn.PBN(5)); ok {
		t.Fatalf("expected pbn 5 to be unlocked")
	}
}

func TestSharedReadLocksCoalesce(t *testing.T) {
	p := NewPool()

	l1, err := p.Acquire(pbn.PBN(9), pbn.TypeRead)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	l2, err := p.Acquire(pbn.PBN(9), pbn.TypeRead)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if l1 != l2 {
		t.Fatalf("expected shared reads to return the same lock")
	}

	p.Release(l1)
	if _, ok := p.Lookup(pbn.PBN(9)); !ok {
		t.Fatalf("expected lock to survive one of two releases")
	}
	p.Release(l2)
	if _, ok := p.Lookup(pbn.PBN(9)); ok {
		t.Fatalf("expected lock to be gone after both releases")
	}
}

func TestWriteNewConflictsWithEverything(t *testing.T) {
	p := NewPool()

	if _, err := p.Acquire(pbn.PBN(1), pbn.TypeWriteNew); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := p.Acquire(pbn.PBN(1), pbn.TypeRead); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for read against write-new, got %v", err)
	}
	if _, err := p.Acquire(pbn.PBN(1), pbn.TypeWriteNew); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second write-new, got %v", err)
	}
}

func TestReadSharesWithBlockMap(t *testing.T) {
	p := NewPool()

	if _, err := p.Acquire(pbn.PBN(3), pbn.TypeRead); err != nil {
		t.Fatalf("read acquire: %v", err)
	}
	if _, err := p.Acquire(pbn.PBN(3), pbn.TypeBlockMap); err != nil {
		t.Fatalf("expected block-map to share with read, got %v", err)
	}
}

func TestCompressedWriteConflictsWithItself(t *testing.T) {
	p := NewPool()

	if _, err := p.Acquire(pbn.PBN(4), pbn.TypeCompressedWrite); err != nil {
		t.Fatalf("first compressed write: %v", err)
	}
	if _, err := p.Acquire(pbn.PBN(4), pbn.TypeCompressedWrite); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second compressed write, got %v", err)
	}
}

func TestAcquireNewRejectsExistingLock(t *testing.T) {
	p := NewPool()

	if _, err := p.Acquire(pbn.PBN(7), pbn.TypeRead); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := p.AcquireNew(pbn.PBN(7), pbn.TypeWriteNew); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("expected ErrAlreadyHeld, got %v", err)
	}
}

func TestProvisionalFlag(t *testing.T) {
	p := NewPool()

	l, err := p.AcquireNew(pbn.PBN(11), pbn.TypeWriteNew)
	if err != nil {
		t.Fatalf("AcquireNew: %v", err)
	}
	if !l.IsProvisional() {
		t.Fatalf("expected AcquireNew to start provisional")
	}

	p.ClearProvisional(l)
	if l.IsProvisional() {
		t.Fatalf("expected ClearProvisional to clear the flag")
	}

	p.AssignProvisional(l)
	if !l.IsProvisional() {
		t.Fatalf("expected AssignProvisional to set the flag")
	}
}

func TestLockedPBNsReturnsSortedKeys(t *testing.T) {
	p := NewPool()

	for _, n := range []pbn.PBN{40, 10, 30, 20} {
		if _, err := p.Acquire(n, pbn.TypeRead); err != nil {
			t.Fatalf("Acquire(%d): %v", n, err)
		}
	}

	got := p.LockedPBNs()
	want := []pbn.PBN{10, 20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("LockedPBNs len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LockedPBNs = %v, want %v", got, want)
		}
	}
}
