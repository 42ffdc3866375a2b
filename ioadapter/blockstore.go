package ioadapter

import "github.com/vdostore/slabdepot/wire"

// SummaryBlockStore adapts a byte-offset MetadataStore into the
// block-indexed summary.BlockStore interface, using a fixed block size
// (normally wire.SummaryBlockBytes) at a configurable base offset.
type SummaryBlockStore struct {
	store     MetadataStore
	baseOffset int64
	blockSize  int
}

// NewSummaryBlockStore creates an adapter rooted at baseOffset within
// store, using wire.SummaryBlockBytes as the block size.
func NewSummaryBlockStore(store MetadataStore, baseOffset int64) *SummaryBlockStore {
	return &SummaryBlockStore{store: store, baseOffset: baseOffset, blockSize: wire.SummaryBlockBytes}
}

func (s *SummaryBlockStore) ReadBlock(index int) ([]byte, error) {
	buf := make([]byte, s.blockSize)
	if err := s.store.ReadAt(buf, s.baseOffset+int64(index*s.blockSize)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *SummaryBlockStore) WriteBlock(index int, data []byte) error {
	return s.store.WriteAt(data, s.baseOffset+int64(index*s.blockSize))
}

// JournalBlockStore adapts a byte-offset MetadataStore into the
// block-indexed journal.BlockStore interface. Unlike the summary's fixed
// 4096-byte blocks, a slab journal's block size depends on its configured
// entries-per-block, so the caller supplies it.
type JournalBlockStore struct {
	store      MetadataStore
	baseOffset int64
	blockSize  int
}

// NewJournalBlockStore creates an adapter rooted at baseOffset within
// store, using blockSize bytes per journal block.
func NewJournalBlockStore(store MetadataStore, baseOffset int64, blockSize int) *JournalBlockStore {
	return &JournalBlockStore{store: store, baseOffset: baseOffset, blockSize: blockSize}
}

func (s *JournalBlockStore) ReadBlock(index int) ([]byte, error) {
	buf := make([]byte, s.blockSize)
	if err := s.store.ReadAt(buf, s.baseOffset+int64(index*s.blockSize)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *JournalBlockStore) WriteBlock(index int, data []byte) error {
	return s.store.WriteAt(data, s.baseOffset+int64(index*s.blockSize))
}
