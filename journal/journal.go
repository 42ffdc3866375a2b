// Package journal implements one slab's journal: a fixed-size circular log
// of ref-count mutations, with head/tail sequence tracking and the
// dirty/committed/released lifecycle a tail block moves through before the
// recovery journal is allowed to reclaim the block it locks.
package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vdostore/slabdepot/bits"
	"github.com/vdostore/slabdepot/pbn"
	"github.com/vdostore/slabdepot/wire"
)

// ErrFull is returned by Append when the journal has no room for another
// entry in the current tail block and a flush has not yet made room.
var ErrFull = errors.New("journal: tail block full, flush required")

// ErrInFlight is returned by FlushTail when a tail write is already
// outstanding, enforcing invariant (ii): at most one in-flight tail write
// per slab.
var ErrInFlight = errors.New("journal: a tail block write is already in flight")

// Waiter is a parked caller waiting for FlushTail's write to complete.
type Waiter func()

// BlockStore is the narrow persistence surface a slab journal needs:
// reading and writing whole fixed-size journal blocks by index within
// the journal's circular on-disk region. Mirrors summary.BlockStore; the
// allocator's I/O adapter implements it against the real backing device,
// tests use an in-memory fake or nil for purely behavioral coverage.
type BlockStore interface {
	ReadBlock(index int) ([]byte, error)
	WriteBlock(index int, data []byte) error
}

// Journal is one slab's circular log. head and tail are block sequence
// numbers, not entry indices; entriesPerBlock bounds how many JournalEntry
// records the tail block currently being filled may hold.
type Journal struct {
	origin          pbn.PBN
	entriesPerBlock int
	blockCount      int
	store           BlockStore

	head uint64 // oldest sequence number not yet released
	tail uint64 // sequence number of the block currently being filled

	pending    []wire.JournalEntry // entries in the current, unflushed tail block
	inFlight   bool                // true while the tail block's write is outstanding
	committed  map[uint64]bool     // sequence -> write acknowledged
	released   map[uint64]bool     // sequence -> summary reflects this block
	waiters    []Waiter
	lockedRec  uint64 // recovery journal block this slab journal currently locks
	hasLockRec bool
}

// New creates an empty journal for the slab whose ref-counts begin at
// origin, with capacity for entriesPerBlock JournalEntry records per tail
// block, circulating across blockCount on-disk blocks in store. A nil
// store makes the journal purely in-memory: FlushTail still advances the
// sequence bookkeeping but issues no I/O, and ReadEntriesSince always
// reports no entries, which is what tests exercising only the append/
// flush/release lifecycle want.
func New(origin pbn.PBN, entriesPerBlock, blockCount int, store BlockStore) *Journal {
	return &Journal{
		origin:          origin,
		entriesPerBlock: entriesPerBlock,
		blockCount:      blockCount,
		store:           store,
		tail:            1,
		head:            1,
		committed:       make(map[uint64]bool),
		released:        make(map[uint64]bool),
	}
}

// Append records one ref-count mutation in the current tail block. Callers
// must append before applying the same mutation to the in-memory
// ref-counts array, per the "journal before ref-counts" ordering
// invariant.
func (j *Journal) Append(op wire.JournalOp, p pbn.PBN, recoverySequence uint64) error {
	if len(j.pending) >= j.entriesPerBlock {
		return ErrFull
	}
	j.pending = append(j.pending, wire.JournalEntry{Op: op, PBN: p, RecoverySequence: recoverySequence})
	if !j.hasLockRec || recoverySequence < j.lockedRec {
		j.lockedRec = recoverySequence
		j.hasLockRec = true
	}
	return nil
}

// FlushTail issues the write for the current tail block, if it holds any
// entries, and returns the entries written plus the sequence number they
// were written under. It encodes and persists the block to the backing
// store itself, then advances bookkeeping; the caller is only responsible
// for calling AcknowledgeTail once that write is durable. While a write is
// outstanding, FlushTail itself returns ErrInFlight (the single-in-flight
// invariant).
func (j *Journal) FlushTail() ([]wire.JournalEntry, uint64, error) {
	if j.inFlight {
		return nil, 0, ErrInFlight
	}
	if len(j.pending) == 0 {
		return nil, 0, nil
	}

	entries := j.pending
	seq := j.tail

	if err := j.writeBlock(seq, entries); err != nil {
		return nil, 0, fmt.Errorf("journal: writing tail block %d: %w", seq, err)
	}

	j.pending = nil
	j.inFlight = true
	j.tail++

	return entries, seq, nil
}

// blockSize is the fixed on-disk size of one journal block: a header plus
// room for entriesPerBlock entries, whether or not the block that
// occupies a given sequence used all of them.
func (j *Journal) blockSize() int {
	return wire.BlockHeaderSize + j.entriesPerBlock*wire.JournalEntrySize
}

func (j *Journal) blockIndex(seq uint64) int {
	if j.blockCount <= 0 {
		return int(seq)
	}
	return int(seq % uint64(j.blockCount))
}

func (j *Journal) writeBlock(seq uint64, entries []wire.JournalEntry) error {
	if j.store == nil {
		return nil
	}

	header := wire.BlockHeader{
		Magic:      wire.BlockHeaderMagic,
		Nonce:      uint64(j.origin),
		Sequence:   seq,
		Head:       j.head,
		EntryCount: uint16(len(entries)),
	}

	buf := make([]byte, j.blockSize())
	copy(buf, header.Encode())

	bw := bits.NewEncodeBuffer(buf[wire.BlockHeaderSize:], binary.LittleEndian)
	for _, e := range entries {
		e.WriteTo(&bw)
	}

	return j.store.WriteBlock(j.blockIndex(seq), buf)
}

// ReadEntriesSince reads and decodes every on-disk block from fromSeq up
// to (but not including) the current tail, returning their entries in
// sequence order. This is how the load path recovers the entries a
// slab's summary status had not yet reflected the last time the depot
// shut down: fromSeq is normally the journal's own Head, the oldest
// sequence not yet released.
func (j *Journal) ReadEntriesSince(fromSeq uint64) ([]wire.JournalEntry, error) {
	if j.store == nil {
		return nil, nil
	}

	var out []wire.JournalEntry
	for seq := fromSeq; seq < j.tail; seq++ {
		buf, err := j.store.ReadBlock(j.blockIndex(seq))
		if err != nil {
			return nil, fmt.Errorf("journal: reading block %d: %w", seq, err)
		}

		header, err := wire.DecodeBlockHeader(buf)
		if err != nil {
			return nil, fmt.Errorf("journal: decoding block %d: %w", seq, err)
		}
		if header.Sequence != seq {
			return nil, fmt.Errorf("journal: block %d holds sequence %d", seq, header.Sequence)
		}

		r := bits.NewReader(bytes.NewReader(buf[wire.BlockHeaderSize:]), binary.LittleEndian)
		for i := uint16(0); i < header.EntryCount; i++ {
			var e wire.JournalEntry
			if err := e.FromBytes(r); err != nil {
				return nil, fmt.Errorf("journal: decoding block %d entry %d: %w", seq, i, err)
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// AcknowledgeTail marks the tail block written under seq as committed.
// Invariant (i) is enforced at Release: a block cannot be released while
// any earlier sequence remains uncommitted.
func (j *Journal) AcknowledgeTail(seq uint64) {
	j.committed[seq] = true
	j.inFlight = false
}

// Release marks the tail block written under seq as reflected in the slab
// summary, allowing the recovery journal to reclaim the block it locks.
// It refuses to release out of order or before the block committed,
// preserving invariant (i).
func (j *Journal) Release(seq uint64) error {
	if !j.committed[seq] {
		return fmt.Errorf("journal: cannot release sequence %d before it commits", seq)
	}
	if seq != j.head {
		return fmt.Errorf("journal: cannot release sequence %d out of order, head is %d", seq, j.head)
	}
	delete(j.committed, seq)
	j.released[seq] = true
	j.head++
	return nil
}

// CommitDirtyTailBlocksLockingRecoveryBlock flushes the current tail block
// if the recovery journal needs to advance past r and this slab journal's
// oldest entry still locks a block at or before r. It returns whether a
// flush was issued.
func (j *Journal) CommitDirtyTailBlocksLockingRecoveryBlock(r uint64) (bool, []wire.JournalEntry, uint64, error) {
	if !j.hasLockRec || j.lockedRec > r {
		return false, nil, 0, nil
	}
	entries, seq, err := j.FlushTail()
	if err != nil {
		return false, nil, 0, err
	}
	if entries == nil {
		return false, nil, 0, nil
	}
	j.hasLockRec = false
	return true, entries, seq, nil
}

// Replay applies every entry from a decoded on-disk block in order,
// calling apply for each. Used by the scrubber to bring ref-counts up to
// date with entries the summary had not yet reflected.
func (j *Journal) Replay(entries []wire.JournalEntry, apply func(wire.JournalEntry) error) error {
	for _, e := range entries {
		if err := apply(e); err != nil {
			return fmt.Errorf("journal: replay failed at pbn %d: %w", e.PBN, err)
		}
	}
	return nil
}

// Head returns the oldest sequence number not yet released.
func (j *Journal) Head() uint64 { return j.head }

// Tail returns the sequence number of the block currently being filled.
func (j *Journal) Tail() uint64 { return j.tail }

// PendingCount reports how many entries the current tail block holds.
func (j *Journal) PendingCount() int { return len(j.pending) }

// InFlight reports whether a tail write is currently outstanding.
func (j *Journal) InFlight() bool { return j.inFlight }
