package depot

import (
	"context"
	"fmt"

	"github.com/vdostore/slabdepot/admin"
	"github.com/vdostore/slabdepot/scrub"
	"github.com/vdostore/slabdepot/slab"
	"github.com/vdostore/slabdepot/wire"
)

// withVIO bounds one piece of zone metadata I/O by a VIO pool buffer,
// the way the real allocator bounds concurrent journal and summary I/O
// by the number of in-flight VIOs rather than letting a zone thread issue
// unbounded concurrent writes.
func (d *Depot) withVIO(zone int, fn func() error) error {
	_, id, err := d.allocators[zone].VIO.Acquire(context.Background())
	if err != nil {
		return fmt.Errorf("zone %d: acquiring VIO buffer: %w", zone, err)
	}
	defer d.allocators[zone].VIO.Release(id)
	return fn()
}

// LoadKind distinguishes the three ways a depot can come up.
type LoadKind string

const (
	LoadNormal   LoadKind = "load-normal"
	LoadRecovery LoadKind = "load-recovery"
	LoadRebuild  LoadKind = "load-rebuild"
)

// Load runs the per-zone load phases: optionally erase journals
// (rebuild), read each slab's summary entry, enqueue dirty slabs into
// the scrubber, and queue clean slabs for allocation.
func (d *Depot) Load(kind LoadKind) (Result, error) {
	var state admin.State
	switch kind {
	case LoadNormal:
		state = admin.Loading
	case LoadRecovery:
		state = admin.LoadingForRecovery
	case LoadRebuild:
		state = admin.LoadingForRebuild
	default:
		return Result{}, fmt.Errorf("depot: unknown load kind %q", kind)
	}

	if err := d.Admin.Transition(state); err != nil {
		return Result{}, err
	}

	result := d.actions.Run(func(zone int) error {
		zoneEntries := d.entriesInZone(zone)

		if kind == LoadRebuild {
			for _, e := range zoneEntries {
				e.journal = d.newJournal(e.slab.Origin)
			}
		}

		count := uint32(len(d.entries))
		statuses, err := d.summaries[zone].ReadAllStatuses(count)
		if err != nil {
			return fmt.Errorf("zone %d: reading summary: %w", zone, err)
		}

		for _, st := range statuses {
			e, ok := d.entries[st.SlabNumber]
			if !ok || e.slab.Zone != zone {
				continue
			}

			if st.IsClean {
				e.slab.State = slab.StateClean
				d.allocators[zone].AddSlab(e.slab, e.refs)
				continue
			}

			e.slab.State = slab.StateDirty
			var entries []wire.JournalEntry
			if err := d.withVIO(zone, func() error {
				var err error
				entries, err = e.journal.ReadEntriesSince(e.journal.Head())
				return err
			}); err != nil {
				return fmt.Errorf("zone %d slab %d: reading journal: %w", zone, e.slab.Number, err)
			}
			d.allocators[zone].Scrubber.EnqueueNormal(&scrub.Target{
				Slab:      e.slab,
				RefCounts: e.refs,
				Journal:   e.journal,
				Entries:   entries,
			})
		}

		return nil
	})

	if err := d.Admin.Transition(admin.Normal); err != nil {
		return result, err
	}
	return result, nil
}

func (d *Depot) entriesInZone(zone int) []*entry {
	var out []*entry
	for _, e := range d.entries {
		if e.slab.Zone == zone {
			out = append(out, e)
		}
	}
	return out
}

// PrepareToAllocate reports whether every zone's scrubber has drained its
// high-priority queue, gating the point at which allocation may resume
// after load.
func (d *Depot) PrepareToAllocate() bool {
	for _, a := range d.allocators {
		if a.Scrubber.HighPriorityPending() {
			return false
		}
	}
	return true
}

// Drain runs scrubber -> slabs -> summary -> finish: it quiesces new
// allocations, flushes every dirty slab's tail block, and flushes the
// summary, in that order, per zone.
func (d *Depot) Drain() (Result, error) {
	if err := d.Admin.Transition(admin.Suspending); err != nil {
		return Result{}, err
	}

	result := d.actions.Run(func(zone int) error {
		d.allocators[zone].Drain()

		for _, e := range d.entriesInZone(zone) {
			if e.slab.State != slab.StateDirty {
				continue
			}
			var entries []wire.JournalEntry
			var seq uint64
			if err := d.withVIO(zone, func() error {
				var err error
				entries, seq, err = e.journal.FlushTail()
				return err
			}); err != nil {
				return fmt.Errorf("zone %d slab %d: flush tail: %w", zone, e.slab.Number, err)
			}
			if entries != nil {
				e.journal.AcknowledgeTail(seq)
			}
		}

		if _, err := d.summaries[zone].Drain(); err != nil {
			return fmt.Errorf("zone %d: draining summary: %w", zone, err)
		}

		if inUse := d.allocators[zone].VIO.InUse(); inUse != 0 {
			panic(fmt.Sprintf("depot: zone %d VIO pool not idle at drain, %d buffers still checked out", zone, inUse))
		}
		return nil
	})

	if err := d.Admin.Transition(admin.Suspended); err != nil {
		return result, err
	}
	return result, nil
}

// Resume runs the reverse of Drain: summary -> slabs -> scrubber ->
// finish.
func (d *Depot) Resume() (Result, error) {
	if err := d.Admin.Transition(admin.Resuming); err != nil {
		return Result{}, err
	}

	result := d.actions.Run(func(zone int) error {
		for _, e := range d.entriesInZone(zone) {
			if e.slab.State == slab.StateClean {
				d.allocators[zone].AddSlab(e.slab, e.refs)
			}
		}
		return nil
	})

	if err := d.Admin.Transition(admin.Normal); err != nil {
		return result, err
	}
	return result, nil
}

// Save transitions through Saving -> Flushing -> Normal, flushing every
// zone's summary.
func (d *Depot) Save() (Result, error) {
	if err := d.Admin.Transition(admin.Saving); err != nil {
		return Result{}, err
	}
	if err := d.Admin.Transition(admin.Flushing); err != nil {
		return Result{}, err
	}

	result := d.actions.Run(func(zone int) error {
		_, err := d.summaries[zone].Drain()
		return err
	})

	if err := d.Admin.Transition(admin.Normal); err != nil {
		return result, err
	}
	return result, nil
}

// Flush flushes every zone's summary without a full state transition
// through Saving.
func (d *Depot) Flush() Result {
	return d.actions.Run(func(zone int) error {
		_, err := d.summaries[zone].Drain()
		return err
	})
}

// Dispatch runs one of the depot's named admin operations, the string-
// keyed surface an operator-facing control path uses.
func (d *Depot) Dispatch(op string) (Result, error) {
	switch op {
	case "load-normal":
		return d.Load(LoadNormal)
	case "load-recovery":
		return d.Load(LoadRecovery)
	case "load-rebuild":
		return d.Load(LoadRebuild)
	case "suspend":
		return d.Drain()
	case "save":
		return d.Save()
	case "flush":
		return d.Flush(), nil
	case "resume":
		return d.Resume()
	default:
		return Result{}, fmt.Errorf("depot: unknown admin op %q", op)
	}
}
