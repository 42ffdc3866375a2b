package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"

	"github.com/vdostore/slabdepot/bits"
	"github.com/vdostore/slabdepot/pbn"
)

func sampleConfig() SlabConfig {
	return SlabConfig{
		SlabBlocks:     2048,
		DataBlocks:     2000,
		RefCountBlocks: 8,

		SlabJournalBlocks:             32,
		SlabJournalFlushingThreshold:  28,
		SlabJournalBlockingThreshold:  30,
		SlabJournalScrubbingThreshold: 20,
	}
}

// R1 round trip: decoding an encoded slab_depot_state_2_0 gives back the
// original state.
func TestDepotStateRoundTrip(t *testing.T) {
	want := DepotState{
		Config:     sampleConfig(),
		FirstBlock: 100,
		LastBlock:  500000,
		ZoneCount:  4,
		VolumeID:   uuid.New(),
	}

	encoded := want.Encode()
	got, err := DecodeDepotState(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got != want {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", got, want)
	}

	if len(encoded) != DepotStateSize {
		t.Fatalf("encoded size %d != DepotStateSize %d", len(encoded), DepotStateSize)
	}
}

func TestSlabConfigValidate(t *testing.T) {
	cfg := sampleConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	bad := cfg
	bad.SlabJournalBlockingThreshold = bad.SlabJournalScrubbingThreshold - 1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected validation error for inverted thresholds")
	}
}

func TestJournalEntryPacking(t *testing.T) {
	cases := []JournalEntry{
		{Op: JournalIncrement, PBN: pbn.PBN(0), RecoverySequence: 1},
		{Op: JournalDecrement, PBN: pbn.PBN(1<<60 - 1), RecoverySequence: 42},
		{Op: JournalBlockMapIncrement, PBN: pbn.PBN(123456789), RecoverySequence: 0},
	}

	for _, c := range cases {
		buf := make([]byte, JournalEntrySize)
		bw := bits.NewEncodeBuffer(buf, binary.LittleEndian)
		c.WriteTo(&bw)

		var got JournalEntry
		r := bits.NewReader(bytes.NewReader(bw.Bytes()), binary.LittleEndian)
		if err := got.FromBytes(r); err != nil {
			t.Fatalf("decode journal entry: %v", err)
		}

		if got != c {
			t.Fatalf("journal entry mismatch: got=%+v want=%+v", got, c)
		}
	}
}

func TestBlockHeaderRoundTrip(t *testing.T) {
	want := BlockHeader{
		Magic:      BlockHeaderMagic,
		Nonce:      0xdeadbeef,
		Sequence:   7,
		Head:       3,
		TailOffset: 12,
		EntryCount: 9,
	}

	encoded := want.Encode()
	got, err := DecodeBlockHeader(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", got, want)
	}
}

func TestBlockHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, BlockHeaderSize)
	if _, err := DecodeBlockHeader(buf); err == nil {
		t.Fatalf("expected error decoding all-zero buffer")
	}
}

func TestSummaryEntryRoundTrip(t *testing.T) {
	cases := []SummaryEntry{
		{TailBlockOffset: 0, LoadRefCounts: false, IsClean: true, FreeBlocksHint: 63},
		{TailBlockOffset: 4095, LoadRefCounts: true, IsClean: false, FreeBlocksHint: 0},
		{TailBlockOffset: 1000, LoadRefCounts: true, IsClean: true, FreeBlocksHint: 31},
	}

	for _, c := range cases {
		buf := make([]byte, SummaryEntrySize)
		c.Encode(buf)

		got, err := DecodeSummaryEntry(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != c {
			t.Fatalf("summary entry mismatch: got=%+v want=%+v", got, c)
		}
	}
}
