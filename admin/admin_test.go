package admin

import (
	"errors"
	"testing"
)

func TestNormalLoadDrainResumeCycle(t *testing.T) {
	m := New()

	if err := m.Transition(Loading); err != nil {
		t.Fatalf("Loading: %v", err)
	}
	if err := m.Transition(Normal); err != nil {
		t.Fatalf("back to Normal: %v", err)
	}
	if err := m.Transition(Suspending); err != nil {
		t.Fatalf("Suspending: %v", err)
	}
	if err := m.Transition(Suspended); err != nil {
		t.Fatalf("Suspended: %v", err)
	}
	if err := m.Transition(Resuming); err != nil {
		t.Fatalf("Resuming: %v", err)
	}
	if err := m.Transition(Normal); err != nil {
		t.Fatalf("Normal after resume: %v", err)
	}
}

func TestIllegalTransitionReturnsBadState(t *testing.T) {
	m := New()
	if err := m.Transition(Suspended); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState skipping Suspending, got %v", err)
	}
}

func TestReadOnlyIsAbsorbing(t *testing.T) {
	m := New()
	if err := m.Transition(ReadOnly); err != nil {
		t.Fatalf("Normal -> ReadOnly: %v", err)
	}
	if err := m.Transition(Normal); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ReadOnly to reject any further transition, got %v", err)
	}
}

func TestEnterReadOnlyForcesFromAnyState(t *testing.T) {
	m := New()
	m.Transition(Loading)
	m.EnterReadOnly()
	if !m.IsReadOnly() {
		t.Fatalf("expected forced read-only")
	}
}

func TestSaveFlushCycle(t *testing.T) {
	m := New()
	if err := m.Transition(Saving); err != nil {
		t.Fatalf("Saving: %v", err)
	}
	if err := m.Transition(Flushing); err != nil {
		t.Fatalf("Flushing: %v", err)
	}
	if err := m.Transition(Normal); err != nil {
		t.Fatalf("Normal after flush: %v", err)
	}
}
