package wire

import "fmt"

// SummaryEntry is the 7-byte packed per-slab status record:
// tail_block_offset:u16, load_ref_counts:u1, is_clean:u1,
// free_blocks_hint:u6 (three bytes), followed by four reserved zero bytes
// that pad the record to 7 bytes.
type SummaryEntry struct {
	TailBlockOffset uint16
	LoadRefCounts   bool
	IsClean         bool
	FreeBlocksHint  uint8 // 0..63, a coarse hint only
}

// SummaryEntrySize is the encoded size in bytes of one SummaryEntry.
const SummaryEntrySize = 7

// SummaryBlockBytes is the fixed size of one summary I/O unit, rounded to
// a 4 KiB block.
const SummaryBlockBytes = 4096

// SummaryEntriesPerBlock is how many packed entries fit in one summary
// block.
const SummaryEntriesPerBlock = SummaryBlockBytes / SummaryEntrySize

func (e SummaryEntry) Encode(out []byte) {
	_ = out[:SummaryEntrySize]

	out[0] = byte(e.TailBlockOffset)
	out[1] = byte(e.TailBlockOffset >> 8)

	flags := e.FreeBlocksHint & 0x3F
	if e.LoadRefCounts {
		flags |= 0x40
	}
	if e.IsClean {
		flags |= 0x80
	}
	out[2] = flags

	// bytes 3..6 reserved, zeroed for forward compatibility
	out[3], out[4], out[5], out[6] = 0, 0, 0, 0
}

func DecodeSummaryEntry(in []byte) (SummaryEntry, error) {
	var e SummaryEntry
	if len(in) < SummaryEntrySize {
		return e, fmt.Errorf("wire: summary entry buffer too small: %d < %d", len(in), SummaryEntrySize)
	}

	e.TailBlockOffset = uint16(in[0]) | uint16(in[1])<<8

	flags := in[2]
	e.FreeBlocksHint = flags & 0x3F
	e.LoadRefCounts = flags&0x40 != 0
	e.IsClean = flags&0x80 != 0

	return e, nil
}
