package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vdostore/slabdepot/bits"
	"github.com/vdostore/slabdepot/pbn"
)

// JournalOp is the kind of ref-count mutation a slab journal entry
// records.
type JournalOp uint8

const (
	JournalIncrement JournalOp = iota
	JournalDecrement
	JournalBlockMapIncrement
)

func (op JournalOp) String() string {
	switch op {
	case JournalIncrement:
		return "increment"
	case JournalDecrement:
		return "decrement"
	case JournalBlockMapIncrement:
		return "block-map-increment"
	default:
		return "unknown"
	}
}

// JournalEntry is one packed {op, pbn, recovery_sequence} record. On disk
// op occupies the top 4 bits of the first word and pbn the low 60 bits,
// packed so op:u4|pbn:u60 fits in a single uint64 ahead of the recovery
// sequence.
type JournalEntry struct {
	Op               JournalOp
	PBN              pbn.PBN
	RecoverySequence uint64
}

// JournalEntrySize is the encoded size in bytes of a JournalEntry.
const JournalEntrySize = 8 + 8

func packOpPBN(op JournalOp, p pbn.PBN) uint64 {
	return (uint64(op)&0xF)<<60 | (uint64(p) & 0x0FFFFFFFFFFFFFFF)
}

func unpackOpPBN(v uint64) (JournalOp, pbn.PBN) {
	return JournalOp(v >> 60), pbn.PBN(v & 0x0FFFFFFFFFFFFFFF)
}

func (e JournalEntry) WriteTo(bw *bits.BitWriter) {
	bw.PutUint64(packOpPBN(e.Op, e.PBN))
	bw.PutUint64(e.RecoverySequence)
}

func (e *JournalEntry) FromBytes(r *bits.BitsReader) error {
	packed, err := r.ReadU64()
	if err != nil {
		return err
	}
	e.Op, e.PBN = unpackOpPBN(packed)

	if e.RecoverySequence, err = r.ReadU64(); err != nil {
		return err
	}
	return nil
}

// BlockHeaderMagic identifies a valid slab journal block on disk.
const BlockHeaderMagic uint32 = 0x564a4c42 // "VJLB"

// BlockHeader prefixes every slab journal tail block.
type BlockHeader struct {
	Magic      uint32
	Nonce      uint64
	Sequence   uint64
	Head       uint64
	TailOffset uint16
	EntryCount uint16
}

// BlockHeaderSize is the encoded size in bytes of a BlockHeader.
const BlockHeaderSize = 4 + 8 + 8 + 8 + 2 + 2

func (h BlockHeader) Encode() []byte {
	buf := make([]byte, BlockHeaderSize)
	bw := bits.NewEncodeBuffer(buf, binary.LittleEndian)

	bw.PutUint32(h.Magic)
	bw.PutUint64(h.Nonce)
	bw.PutUint64(h.Sequence)
	bw.PutUint64(h.Head)
	bw.PutUint16(h.TailOffset)
	bw.PutUint16(h.EntryCount)

	return bw.Bytes()
}

func DecodeBlockHeader(buf []byte) (BlockHeader, error) {
	var h BlockHeader
	if len(buf) < BlockHeaderSize {
		return h, fmt.Errorf("wire: journal block header buffer too small: %d < %d", len(buf), BlockHeaderSize)
	}

	r := bits.NewReader(bytes.NewReader(buf), binary.LittleEndian)

	magic, err := r.ReadU32()
	if err != nil {
		return h, err
	}
	h.Magic = magic
	if h.Magic != BlockHeaderMagic {
		return h, fmt.Errorf("wire: bad journal block magic 0x%08x", h.Magic)
	}

	if h.Nonce, err = r.ReadU64(); err != nil {
		return h, err
	}
	if h.Sequence, err = r.ReadU64(); err != nil {
		return h, err
	}
	if h.Head, err = r.ReadU64(); err != nil {
		return h, err
	}
	if h.TailOffset, err = r.ReadU16(); err != nil {
		return h, err
	}
	if h.EntryCount, err = r.ReadU16(); err != nil {
		return h, err
	}

	return h, nil
}
