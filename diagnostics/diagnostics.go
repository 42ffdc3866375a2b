// Package diagnostics writes the allocator's best-effort crash snapshot:
// an LZ4-compressed, spew-rendered dump of every zone's admin state,
// allocated-block counter, and the error that forced read-only mode. It
// is not the operator-facing dump/introspection surface; it is a small
// artifact the allocator writes about itself when something goes wrong.
package diagnostics

import (
	"bytes"
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/vdostore/slabdepot/compression"
	"github.com/vdostore/slabdepot/pbn"
)

// ZoneSnapshot is one zone's contribution to a Snapshot.
type ZoneSnapshot struct {
	Zone            int
	AdminState      string
	AllocatedBlocks int64
	LockedPBNs      []pbn.PBN
}

// Snapshot is the full crash-diagnostic record.
type Snapshot struct {
	Reason string
	Zones  []ZoneSnapshot
}

// Render pretty-prints s with go-spew and LZ4-compresses the result,
// matching the teacher's own compress-then-store sequence for slab
// contents.
func Render(s Snapshot) ([]byte, error) {
	dumped := spew.Sdump(s)

	var out bytes.Buffer
	if err := compression.CompressLz4([]byte(dumped), &out); err != nil {
		return nil, fmt.Errorf("diagnostics: compressing snapshot: %w", err)
	}

	return out.Bytes(), nil
}

// Decode reverses Render, for tests and for an operator inspecting a
// written snapshot.
func Decode(compressed []byte) (string, error) {
	raw, err := compression.DecompressLz4(compressed)
	if err != nil {
		return "", fmt.Errorf("diagnostics: decompressing snapshot: %w", err)
	}
	return string(raw), nil
}
