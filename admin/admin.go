// Package admin implements the AdminState finite-state machine shared by
// every block allocator and the slab depot: load/allocate/drain/suspend/
// resume/rebuild, with illegal transitions rejected rather than silently
// coerced.
package admin

import (
	"errors"
	"fmt"
)

// State is one of the allocator's or depot's administrative states.
type State uint8

const (
	Normal State = iota
	Loading
	LoadingForRecovery
	LoadingForRebuild
	Saving
	Flushing
	Rebuilding
	Suspending
	Suspended
	Resuming
	ReadOnly
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Loading:
		return "loading"
	case LoadingForRecovery:
		return "loading-for-recovery"
	case LoadingForRebuild:
		return "loading-for-rebuild"
	case Saving:
		return "saving"
	case Flushing:
		return "flushing"
	case Rebuilding:
		return "rebuilding"
	case Suspending:
		return "suspending"
	case Suspended:
		return "suspended"
	case Resuming:
		return "resuming"
	case ReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}

// ErrBadState is returned when a requested transition is not legal from
// the machine's current state.
var ErrBadState = errors.New("admin: illegal state transition")

// legal maps a state to the set of states it may transition into directly.
// ReadOnly is absorbing except that every state may enter it, matching the
// spec's "read-only mode is absorbing" rule.
var legal = map[State]map[State]bool{
	Normal: {
		Loading: true, LoadingForRecovery: true, LoadingForRebuild: true,
		Saving: true, Suspending: true, ReadOnly: true,
	},
	Loading:             {Normal: true, ReadOnly: true},
	LoadingForRecovery:  {Normal: true, ReadOnly: true},
	LoadingForRebuild:   {Normal: true, ReadOnly: true},
	Saving:              {Flushing: true, Normal: true, ReadOnly: true},
	Flushing:            {Normal: true, ReadOnly: true},
	Rebuilding:          {Normal: true, ReadOnly: true},
	Suspending:          {Suspended: true, ReadOnly: true},
	Suspended:           {Resuming: true, ReadOnly: true},
	Resuming:            {Normal: true, ReadOnly: true},
	ReadOnly:            {},
}

// Machine is one admin state machine instance, owned by one allocator or
// by the depot.
type Machine struct {
	current State
}

// New creates a machine starting in Normal.
func New() *Machine {
	return &Machine{current: Normal}
}

// Current returns the machine's current state.
func (m *Machine) Current() State { return m.current }

// IsReadOnly reports whether the machine has entered the absorbing
// read-only state.
func (m *Machine) IsReadOnly() bool { return m.current == ReadOnly }

// Transition attempts to move the machine to next. It returns
// ErrBadState, wrapped with the attempted transition, if next is not
// legal from the current state.
func (m *Machine) Transition(next State) error {
	allowed, ok := legal[m.current]
	if !ok || !allowed[next] {
		return fmt.Errorf("%w: %s -> %s", ErrBadState, m.current, next)
	}
	m.current = next
	return nil
}

// EnterReadOnly forces the machine into ReadOnly from any state, since a
// detected corruption must be recorded even mid-transition.
func (m *Machine) EnterReadOnly() {
	m.current = ReadOnly
}
