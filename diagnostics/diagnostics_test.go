package diagnostics

import (
	"strings"
	"testing"

	"github.com/vdostore/slabdepot/pbn"
)

func TestRenderDecodeRoundTrip(t *testing.T) {
	snap := Snapshot{
		Reason: "corrupted ref-counts in slab 42",
		Zones: []ZoneSnapshot{
			{Zone: 0, AdminState: "read-only", AllocatedBlocks: 12345, LockedPBNs: []pbn.PBN{100, 101}},
			{Zone: 1, AdminState: "normal", AllocatedBlocks: 98765},
		},
	}

	blob, err := Render(snap)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(blob) == 0 {
		t.Fatalf("expected non-empty compressed snapshot")
	}

	decoded, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !strings.Contains(decoded, "corrupted ref-counts in slab 42") {
		t.Fatalf("decoded snapshot missing reason: %s", decoded)
	}
	if !strings.Contains(decoded, "read-only") {
		t.Fatalf("decoded snapshot missing admin state: %s", decoded)
	}
}
