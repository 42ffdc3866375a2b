package ioadapter

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileStore is a MetadataStore backed by a real file, using direct
// pread/pwrite/fdatasync syscalls rather than the os.File offset-seeking
// API, so concurrent zone threads can issue reads and writes against the
// same file descriptor without racing on a shared cursor.
type FileStore struct {
	path string
	file *os.File
	fd   int
}

// OpenFileStore opens (creating if needed) path for metadata I/O.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("ioadapter: opening %s: %w", path, err)
	}
	return &FileStore{path: path, file: f, fd: int(f.Fd())}, nil
}

func (f *FileStore) ReadAt(buf []byte, offset int64) error {
	n, err := unix.Pread(f.fd, buf, offset)
	if err != nil {
		return fmt.Errorf("ioadapter: pread %s at %d: %w", f.path, offset, err)
	}
	if n != len(buf) {
		return fmt.Errorf("ioadapter: short read at %d: got %d, want %d", offset, n, len(buf))
	}
	return nil
}

func (f *FileStore) WriteAt(buf []byte, offset int64) error {
	n, err := unix.Pwrite(f.fd, buf, offset)
	if err != nil {
		return fmt.Errorf("ioadapter: pwrite %s at %d: %w", f.path, offset, err)
	}
	if n != len(buf) {
		return fmt.Errorf("ioadapter: short write at %d: wrote %d, want %d", offset, n, len(buf))
	}
	return nil
}

// Sync flushes data (not metadata) to disk via fdatasync, cheaper than a
// full fsync for the allocator's frequent tail-block writes.
func (f *FileStore) Sync() error {
	if err := unix.Fdatasync(f.fd); err != nil {
		return fmt.Errorf("ioadapter: fdatasync %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Close() error {
	return f.file.Close()
}
