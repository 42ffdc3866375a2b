// Package wire encodes and decodes the allocator's on-disk structures:
// the depot's slab_depot_state_2_0 super-block component, slab journal
// entries and block headers, and slab summary entries. The codec style
// (fixed-size little-endian fields read through a BitsReader/BitWriter)
// is carried over from the teacher's schema package.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/vdostore/slabdepot/bits"
)

// SlabConfig describes the fixed geometry shared by every slab in a depot.
type SlabConfig struct {
	SlabBlocks    uint64
	DataBlocks    uint64
	RefCountBlocks uint64

	SlabJournalBlocks            uint64
	SlabJournalFlushingThreshold uint64
	SlabJournalBlockingThreshold uint64
	SlabJournalScrubbingThreshold uint64
}

// SlabConfigSize is the encoded size in bytes of a SlabConfig.
const SlabConfigSize = 8 * 7

func (c SlabConfig) WriteTo(bw *bits.BitWriter) {
	bw.PutUint64(c.SlabBlocks)
	bw.PutUint64(c.DataBlocks)
	bw.PutUint64(c.RefCountBlocks)
	bw.PutUint64(c.SlabJournalBlocks)
	bw.PutUint64(c.SlabJournalFlushingThreshold)
	bw.PutUint64(c.SlabJournalBlockingThreshold)
	bw.PutUint64(c.SlabJournalScrubbingThreshold)
}

func (c *SlabConfig) FromBytes(r *bits.BitsReader) (err error) {
	if c.SlabBlocks, err = r.ReadU64(); err != nil {
		return err
	}
	if c.DataBlocks, err = r.ReadU64(); err != nil {
		return err
	}
	if c.RefCountBlocks, err = r.ReadU64(); err != nil {
		return err
	}
	if c.SlabJournalBlocks, err = r.ReadU64(); err != nil {
		return err
	}
	if c.SlabJournalFlushingThreshold, err = r.ReadU64(); err != nil {
		return err
	}
	if c.SlabJournalBlockingThreshold, err = r.ReadU64(); err != nil {
		return err
	}
	if c.SlabJournalScrubbingThreshold, err = r.ReadU64(); err != nil {
		return err
	}
	return nil
}

// Validate checks the internal consistency of the thresholds: neither the
// scrubbing nor the flushing watermark may exceed the blocking watermark,
// and the blocking watermark may not exceed the journal's block budget.
// Equal watermarks are accepted.
func (c SlabConfig) Validate() error {
	if c.SlabJournalScrubbingThreshold > c.SlabJournalBlockingThreshold {
		return fmt.Errorf("wire: scrubbing threshold %d exceeds blocking threshold %d", c.SlabJournalScrubbingThreshold, c.SlabJournalBlockingThreshold)
	}
	if c.SlabJournalFlushingThreshold > c.SlabJournalBlockingThreshold {
		return fmt.Errorf("wire: flushing threshold %d exceeds blocking threshold %d", c.SlabJournalFlushingThreshold, c.SlabJournalBlockingThreshold)
	}
	if c.SlabJournalBlockingThreshold > c.SlabJournalBlocks {
		return fmt.Errorf("wire: blocking threshold %d exceeds journal size %d", c.SlabJournalBlockingThreshold, c.SlabJournalBlocks)
	}
	return nil
}

// DepotState is the slab_depot_state_2_0 super-block component. VolumeID
// identifies the physical layer the depot was formatted against, so a
// depot state read back from disk can be checked against the volume
// geometry it was paired with at format time.
type DepotState struct {
	Config     SlabConfig
	FirstBlock uint64
	LastBlock  uint64
	ZoneCount  uint8
	VolumeID   uuid.UUID
}

// DepotStateSize is the encoded size in bytes of a DepotState.
const DepotStateSize = SlabConfigSize + 8 + 8 + 1 + 16

func (s DepotState) Encode() []byte {
	buf := make([]byte, DepotStateSize)
	bw := bits.NewEncodeBuffer(buf, binary.LittleEndian)

	s.Config.WriteTo(&bw)
	bw.PutUint64(s.FirstBlock)
	bw.PutUint64(s.LastBlock)
	bw.WriteByte(s.ZoneCount)
	bw.PutUUID(s.VolumeID)

	return bw.Bytes()
}

func DecodeDepotState(buf []byte) (DepotState, error) {
	var s DepotState

	if len(buf) < DepotStateSize {
		return s, fmt.Errorf("wire: depot state buffer too small: %d < %d", len(buf), DepotStateSize)
	}

	r := bits.NewReader(bytes.NewReader(buf), binary.LittleEndian)

	if err := s.Config.FromBytes(r); err != nil {
		return s, fmt.Errorf("wire: decoding slab config: %w", err)
	}

	var err error
	if s.FirstBlock, err = r.ReadU64(); err != nil {
		return s, err
	}
	if s.LastBlock, err = r.ReadU64(); err != nil {
		return s, err
	}
	if s.ZoneCount, err = r.ReadU8(); err != nil {
		return s, err
	}
	if s.VolumeID, err = r.ReadUUID(); err != nil {
		return s, err
	}

	if s.LastBlock < s.FirstBlock {
		return s, fmt.Errorf("wire: last_block %d precedes first_block %d", s.LastBlock, s.FirstBlock)
	}

	return s, nil
}
