// Package lock implements the per-zone PBN lock pool: the set of physical
// block numbers currently held by an in-flight write, read, or block-map
// operation, and the conflict rules that force a competing operation onto
// the read-only fallback path instead of racing the data on disk.
package lock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/vdostore/slabdepot/pbn"
)

// ErrConflict is returned by Acquire when an existing holder's type
// conflicts with the requested type.
var ErrConflict = errors.New("lock: conflicting hold on pbn")

// ErrAlreadyHeld is returned by AcquireNew when a PBN the ref-counts array
// just reported as free is found already locked. That combination can only
// happen if the ref-counts and the lock pool have drifted apart, which is
// corruption serious enough to force the zone read-only.
var ErrAlreadyHeld = errors.New("lock: newly allocated pbn is already locked")

// Lock is a single outstanding hold on a PBN, shared by every compatible
// holder. Release matches on the *Lock pointer the caller got back from
// Acquire or AcquireNew.
type Lock struct {
	PBN         pbn.PBN
	Type        pbn.Type
	holders     int
	provisional atomic.Bool
}

// IsProvisional reports whether the lock still guards an uncommitted
// reservation (see refcount.RefCounts.AssignProvisional).
func (l *Lock) IsProvisional() bool { return l.provisional.Load() }

// Pool is one physical zone's PBN lock table. Every method serializes on
// the pool's RWMutex: mutations take it exclusively, and Lookup, Len and
// LockedPBNs take it shared.
type Pool struct {
	mu      sync.RWMutex
	entries map[pbn.PBN]*Lock
}

// NewPool creates an empty lock pool for one zone.
func NewPool() *Pool {
	return &Pool{entries: make(map[pbn.PBN]*Lock)}
}

// Acquire attempts to take a hold of kind t on p. If p is unheld, a new
// Lock is created. If p is already held, the existing holder's type is
// checked against t: a non-conflicting type (e.g. two reads) shares the
// same Lock and bumps its holder count; a conflicting type returns
// ErrConflict, and the caller must fall back to a read-only or serialized
// path rather than proceed concurrently.
func (p *Pool) Acquire(pb pbn.PBN, t pbn.Type) (*Lock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.entries[pb]; ok {
		if existing.Type.Conflicts(t) {
			return nil, fmt.Errorf("%w: pbn %d held as %s, requested %s", ErrConflict, pb, existing.Type, t)
		}
		existing.holders++
		return existing, nil
	}

	l := &Lock{PBN: pb, Type: t, holders: 1}
	p.entries[pb] = l
	return l, nil
}

// AcquireNew takes the first lock on a PBN the caller just obtained from
// RefCounts.ReserveFree. It is an error for a lock to already exist on
// that PBN: the allocator's invariant is that a free counter has no
// outstanding lock, so finding one means ref-counts and the lock pool have
// diverged.
func (p *Pool) AcquireNew(pb pbn.PBN, t pbn.Type) (*Lock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[pb]; ok {
		return nil, fmt.Errorf("%w: pbn %d", ErrAlreadyHeld, pb)
	}

	l := &Lock{PBN: pb, Type: t, holders: 1}
	l.provisional.Store(true)
	p.entries[pb] = l
	return l, nil
}

// Release drops one holder of l. Once the holder count reaches zero the
// lock is removed from the pool, freeing the PBN for a future conflicting
// acquire.
func (p *Pool) Release(l *Lock) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.entries[l.PBN]
	if !ok || existing != l {
		return
	}

	existing.holders--
	if existing.holders <= 0 {
		delete(p.entries, l.PBN)
	}
}

// AssignProvisional marks l as guarding an uncommitted reservation. It
// only sets the flag on l; no ref-counts array is touched.
func (p *Pool) AssignProvisional(l *Lock) {
	l.provisional.Store(true)
}

// ClearProvisional marks l as committed. Called once the corresponding
// ref-count has moved off Provisional.
func (p *Pool) ClearProvisional(l *Lock) {
	l.provisional.Store(false)
}

// Lookup returns the current lock on p, if any, without acquiring it.
func (p *Pool) Lookup(pb pbn.PBN) (*Lock, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	l, ok := p.entries[pb]
	return l, ok
}

// Len reports the number of distinct PBNs currently locked.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// LockedPBNs returns every currently-locked PBN in ascending order, for
// diagnostic snapshots where iteration order must be deterministic.
func (p *Pool) LockedPBNs() []pbn.PBN {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := maps.Keys(p.entries)
	slices.Sort(keys)
	return keys
}
