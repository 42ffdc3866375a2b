// Package depot implements the slab depot: the complete ordered array of
// slabs, partitioned into zones, plus the action manager that sequences
// depot-wide administrative actions across them.
package depot

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vdostore/slabdepot/admin"
	"github.com/vdostore/slabdepot/allocator"
	"github.com/vdostore/slabdepot/ioadapter"
	"github.com/vdostore/slabdepot/journal"
	"github.com/vdostore/slabdepot/pbn"
	"github.com/vdostore/slabdepot/refcount"
	"github.com/vdostore/slabdepot/slab"
	"github.com/vdostore/slabdepot/summary"
	"github.com/vdostore/slabdepot/wire"
)

// ErrCorrupt marks a pbn that is not the zero block but also not covered
// by any slab: this is on-disk corruption and forces the depot read-only.
var ErrCorrupt = errors.New("depot: pbn not covered by any slab")

const journalEntriesPerBlock = 256

// Depot owns the complete ordered array of slabs, sharded across Z
// physical zones, and the summary and action manager that coordinate
// them.
type Depot struct {
	Config     wire.SlabConfig
	FirstBlock uint64
	LastBlock  uint64
	ZoneCount  int
	VolumeID   uuid.UUID

	entries    map[uint32]*entry
	allocators []*allocator.Allocator
	summaries  []*summary.Summary
	Admin      *admin.Machine
	actions    *ActionManager
	selector   *allocator.Selector

	pendingEntries map[uint32]*entry
	pendingLast    uint64
}

func slabCount(firstBlock, lastBlock uint64, slabBlocks uint64) uint32 {
	if slabBlocks == 0 || lastBlock <= firstBlock {
		return 0
	}
	return uint32((lastBlock - firstBlock) / slabBlocks)
}

// Decode builds a Depot from its on-disk state record, one summary.Summary
// per zone backed by stores[zone], but does not yet admit any slab for
// allocation: admission happens during Load, mirroring the real depot's
// decode-then-load split.
func Decode(state wire.DepotState, stores []summary.BlockStore) (*Depot, error) {
	if err := state.Config.Validate(); err != nil {
		return nil, fmt.Errorf("depot: %w", err)
	}
	if len(stores) != int(state.ZoneCount) {
		return nil, fmt.Errorf("depot: need %d summary stores, got %d", state.ZoneCount, len(stores))
	}

	d := &Depot{
		Config:         state.Config,
		FirstBlock:     state.FirstBlock,
		LastBlock:      state.LastBlock,
		ZoneCount:      int(state.ZoneCount),
		VolumeID:       state.VolumeID,
		entries:        make(map[uint32]*entry),
		pendingEntries: make(map[uint32]*entry),
		Admin:          admin.New(),
		actions:        NewActionManager(int(state.ZoneCount)),
	}

	for zone := 0; zone < d.ZoneCount; zone++ {
		d.allocators = append(d.allocators, allocator.New(zone, zone))
		d.summaries = append(d.summaries, summary.New(zone, stores[zone]))
	}

	count := slabCount(state.FirstBlock, state.LastBlock, state.Config.SlabBlocks)
	for n := uint32(0); n < count; n++ {
		d.entries[n] = d.buildEntry(n)
	}

	// One logical zone per physical zone: the common default
	// configuration, and the simplest one that still exercises the
	// selector's independent per-logical-zone rotation.
	d.selector = allocator.NewSelector(d.ZoneCount, d.ZoneCount)

	return d, nil
}

func (d *Depot) buildEntry(number uint32) *entry {
	origin := pbn.PBN(d.FirstBlock + uint64(number)*d.Config.SlabBlocks)
	s := slab.New(number, int(number)%d.ZoneCount, origin, int(d.Config.DataBlocks))
	return &entry{
		slab:    s,
		refs:    refcount.New(origin, int(d.Config.DataBlocks)),
		journal: d.newJournal(origin),
	}
}

// newJournal creates a slab journal backed by its own in-memory block
// store sized to the configured entries-per-block, so a slab's journal
// survives across Drain/Load within the same depot instance the way the
// real allocator's journal survives across a crash and reload of the
// same backing device.
func (d *Depot) newJournal(origin pbn.PBN) *journal.Journal {
	blockSize := wire.BlockHeaderSize + journalEntriesPerBlock*wire.JournalEntrySize
	store := ioadapter.NewJournalBlockStore(ioadapter.NewMemStore(0), 0, blockSize)
	return journal.New(origin, journalEntriesPerBlock, int(d.Config.SlabJournalBlocks), store)
}

// Record returns the depot's current on-disk state, for writing back to
// the super-block.
func (d *Depot) Record() wire.DepotState {
	return wire.DepotState{
		Config:     d.Config,
		FirstBlock: d.FirstBlock,
		LastBlock:  d.LastBlock,
		ZoneCount:  uint8(d.ZoneCount),
		VolumeID:   d.VolumeID,
	}
}

// tryZoneWalk runs one round of the zone walk for logicalZone: starting
// at the zone the selector hands out next, it tries every physical zone
// in round-robin order and returns the first successful allocation. A
// non-NoSpace error (read-only, quiescent) from any zone stops the walk
// immediately rather than masking it behind a further NoSpace retry.
func (d *Depot) tryZoneWalk(logicalZone int) (pbn.PBN, error) {
	start := d.selector.NextZone(logicalZone)
	for i := 0; i < d.ZoneCount; i++ {
		zone := (start + i) % d.ZoneCount
		p, err := d.allocators[zone].AllocateBlock()
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, allocator.ErrNoSpace):
			continue
		default:
			return pbn.Zero, err
		}
	}
	return pbn.Zero, allocator.ErrNoSpace
}

// AllocateBlockForWrite implements the zone walk a write performs to
// find a block: one round-robin pass across every physical zone
// starting from the selector's pick for logicalZone, calling done
// immediately on success or on any error other than NoSpace. If a full
// round finds no space anywhere, the caller is parked on every zone's
// scrubber waiting list instead of blocking the calling thread; done is
// invoked with the result of a second round once the first zone makes
// scrub progress, or with NoSpace if that second round still finds
// nothing.
func (d *Depot) AllocateBlockForWrite(logicalZone int, done func(pbn.PBN, error)) {
	p, err := d.tryZoneWalk(logicalZone)
	if !errors.Is(err, allocator.ErrNoSpace) {
		done(p, err)
		return
	}

	var retried bool
	retry := func() {
		if retried {
			return
		}
		retried = true
		p, err := d.tryZoneWalk(logicalZone)
		done(p, err)
	}
	for _, a := range d.allocators {
		a.EnqueueWaiter(retry)
	}
}

// QueueSlab re-admits slabNumber for allocation on its owning zone.
func (d *Depot) QueueSlab(slabNumber uint32) error {
	e, ok := d.entries[slabNumber]
	if !ok {
		return fmt.Errorf("depot: unknown slab %d", slabNumber)
	}
	d.allocators[e.slab.Zone].AddSlab(e.slab, e.refs)
	return nil
}

func (d *Depot) slabNumberFor(p pbn.PBN) (uint32, bool) {
	if uint64(p) < d.FirstBlock || uint64(p) >= d.LastBlock {
		return 0, false
	}
	return uint32((uint64(p) - d.FirstBlock) / d.Config.SlabBlocks), true
}

// enterReadOnly forces the depot's admin machine, and every zone
// allocator's independent admin machine, into ReadOnly. A corruption
// detected by one path (get_slab here, but any future caller too) must
// be visible to every zone immediately: an allocator with its own
// machine still in Normal would keep handing out blocks from a depot
// that has otherwise stopped trusting its own metadata.
func (d *Depot) enterReadOnly() {
	d.Admin.EnterReadOnly()
	for _, a := range d.allocators {
		a.Admin.EnterReadOnly()
	}
}

// GetSlab returns the slab covering p. It returns (nil, nil) for the zero
// block. A pbn that is not the zero block but is not covered by any slab
// is corruption and forces the depot read-only, matching the spec's
// get_slab semantics.
func (d *Depot) GetSlab(p pbn.PBN) (*slab.Slab, error) {
	if p.IsZero() {
		return nil, nil
	}

	number, ok := d.slabNumberFor(p)
	if !ok {
		d.enterReadOnly()
		return nil, fmt.Errorf("%w: pbn %d", ErrCorrupt, p)
	}

	e, ok := d.entries[number]
	if !ok {
		d.enterReadOnly()
		return nil, fmt.Errorf("%w: pbn %d maps to unknown slab %d", ErrCorrupt, p, number)
	}

	return e.slab, nil
}

// IncrementLimit returns the number of further increments pbn's ref-count
// can absorb before saturating, for the physical zone thread that owns
// pbn to consult before attempting a reference-count bump.
func (d *Depot) IncrementLimit(p pbn.PBN) (uint8, error) {
	s, err := d.GetSlab(p)
	if err != nil {
		return 0, err
	}
	if s == nil {
		return 0, fmt.Errorf("depot: pbn %d is the reserved zero block", p)
	}

	e := d.entries[s.Number]
	v, err := e.refs.At(p)
	if err != nil {
		return 0, err
	}
	switch v {
	case refcount.Saturated, refcount.Provisional:
		return 0, nil
	case refcount.Free:
		return refcount.Saturated, nil
	default:
		return refcount.Saturated - v, nil
	}
}

// IsDataBlock reports whether p falls within some slab's data block
// range.
func (d *Depot) IsDataBlock(p pbn.PBN) bool {
	if p.IsZero() {
		return false
	}
	number, ok := d.slabNumberFor(p)
	if !ok {
		return false
	}
	_, ok = d.entries[number]
	return ok
}

// AllocatedBlocks sums every zone's allocated-block counter.
func (d *Depot) AllocatedBlocks() int64 {
	var total int64
	for _, a := range d.allocators {
		total += a.AllocatedBlocks()
	}
	return total
}

// PrepareToGrow stages additional slabs covering [LastBlock, newLastBlock)
// without admitting them for allocation yet.
func (d *Depot) PrepareToGrow(newLastBlock uint64) error {
	if newLastBlock <= d.LastBlock {
		return fmt.Errorf("depot: prepare_to_grow requires growth, got %d <= %d", newLastBlock, d.LastBlock)
	}

	existing := slabCount(d.FirstBlock, d.LastBlock, d.Config.SlabBlocks)
	total := slabCount(d.FirstBlock, newLastBlock, d.Config.SlabBlocks)

	d.pendingEntries = make(map[uint32]*entry, total-existing)
	for n := existing; n < total; n++ {
		d.pendingEntries[n] = d.buildEntry(n)
	}
	d.pendingLast = newLastBlock
	return nil
}

// UseNewSlabs commits the slabs staged by PrepareToGrow: they are merged
// into the depot's slab array and admitted for allocation.
func (d *Depot) UseNewSlabs() {
	for n, e := range d.pendingEntries {
		d.entries[n] = e
		d.allocators[e.slab.Zone].AddSlab(e.slab, e.refs)
	}
	d.LastBlock = d.pendingLast
	d.pendingEntries = make(map[uint32]*entry)
}

// AbandonNewSlabs discards the slabs staged by PrepareToGrow without
// applying them.
func (d *Depot) AbandonNewSlabs() {
	d.pendingEntries = make(map[uint32]*entry)
	d.pendingLast = 0
}

// CommitOldestSlabJournalTailBlocksLockingRecoveryBlock dispatches a
// flush request to every zone's slab journals whose oldest entry still
// locks the recovery journal at or before r.
func (d *Depot) CommitOldestSlabJournalTailBlocksLockingRecoveryBlock(r uint64) Result {
	return d.actions.Run(func(zone int) error {
		for _, e := range d.entries {
			if e.slab.Zone != zone {
				continue
			}
			if err := d.withVIO(zone, func() error {
				_, _, _, err := e.journal.CommitDirtyTailBlocksLockingRecoveryBlock(r)
				return err
			}); err != nil {
				return fmt.Errorf("depot: zone %d slab %d: %w", zone, e.slab.Number, err)
			}
		}
		return nil
	})
}

// Allocator exposes zone's allocator for tests and diagnostics.
func (d *Depot) Allocator(zone int) *allocator.Allocator { return d.allocators[zone] }

// Summary exposes zone's summary for tests and diagnostics.
func (d *Depot) Summary(zone int) *summary.Summary { return d.summaries[zone] }
