// Command vdoallocsim wires a small in-memory slab depot end to end: it
// decodes a depot state, queues every slab for allocation, allocates a
// batch of blocks across every zone, drains, and resumes, logging each
// step the way an operator driving the real allocator core would see it.
package main

import (
	"log/slog"
	"os"

	"github.com/fatih/color"

	"github.com/vdostore/slabdepot/depot"
	"github.com/vdostore/slabdepot/diagnostics"
	"github.com/vdostore/slabdepot/ioadapter"
	"github.com/vdostore/slabdepot/pbn"
	"github.com/vdostore/slabdepot/summary"
	"github.com/vdostore/slabdepot/wire"
)

func main() {
	const zoneCount = 4
	const slabBlocks = 64
	const dataBlocks = 48
	const slabsPerZone = 8

	state := wire.DepotState{
		Config: wire.SlabConfig{
			SlabBlocks:                    slabBlocks,
			DataBlocks:                    dataBlocks,
			RefCountBlocks:                1,
			SlabJournalBlocks:             8,
			SlabJournalFlushingThreshold:  6,
			SlabJournalBlockingThreshold:  6,
			SlabJournalScrubbingThreshold: 5,
		},
		FirstBlock: 1,
		LastBlock:  1 + slabBlocks*slabsPerZone*zoneCount,
		ZoneCount:  zoneCount,
	}

	stores := make([]summary.BlockStore, zoneCount)
	for z := range stores {
		stores[z] = ioadapter.NewSummaryBlockStore(ioadapter.NewMemStore(0), 0)
	}

	d, err := depot.Decode(state, stores)
	if err != nil {
		color.Red("failed to decode depot state: %s", err)
		os.Exit(1)
	}
	slog.Info("depot decoded", "slabs", slabsPerZone*zoneCount, "zones", zoneCount)

	for n := uint32(0); n < uint32(slabsPerZone*zoneCount); n++ {
		if err := d.QueueSlab(n); err != nil {
			color.Red("failed to queue slab %d: %s", n, err)
			os.Exit(1)
		}
	}

	allocated := 0
	for i := 0; i < zoneCount*slabsPerZone*dataBlocks; i++ {
		logicalZone := i % zoneCount
		responded := false
		var allocErr error
		d.AllocateBlockForWrite(logicalZone, func(_ pbn.PBN, err error) {
			responded = true
			allocErr = err
		})
		if !responded {
			slog.Info("allocation parked waiting for scrub progress", "logical_zone", logicalZone)
			break
		}
		if allocErr != nil {
			slog.Info("allocation pass exhausted every zone", "logical_zone", logicalZone, "error", allocErr.Error())
			break
		}
		allocated++
	}
	slog.Info("allocation pass complete", "blocks_allocated", allocated, "depot_total", d.AllocatedBlocks())

	if _, err := d.Drain(); err != nil {
		color.Red("drain failed: %s", err)
		os.Exit(1)
	}
	slog.Info("depot drained", "admin_state", d.Admin.Current().String())

	if _, err := d.Resume(); err != nil {
		color.Red("resume failed: %s", err)
		os.Exit(1)
	}
	slog.Info("depot resumed", "admin_state", d.Admin.Current().String())

	snap := diagnostics.Snapshot{
		Reason: "end-of-run diagnostic snapshot",
	}
	for z := 0; z < zoneCount; z++ {
		snap.Zones = append(snap.Zones, diagnostics.ZoneSnapshot{
			Zone:            z,
			AdminState:      d.Admin.Current().String(),
			AllocatedBlocks: d.Allocator(z).AllocatedBlocks(),
			LockedPBNs:      d.Allocator(z).Locks.LockedPBNs(),
		})
	}
	blob, err := diagnostics.Render(snap)
	if err != nil {
		color.Red("failed to render diagnostic snapshot: %s", err)
		os.Exit(1)
	}
	slog.Info("diagnostic snapshot rendered", "compressed_bytes", len(blob))
}
