package depot

import (
	"github.com/vdostore/slabdepot/journal"
	"github.com/vdostore/slabdepot/refcount"
	"github.com/vdostore/slabdepot/slab"
)

// entry bundles one slab's full runtime state: the depot is the only
// component that needs all three views (slab.Slab for lifecycle, refcount
// for data, journal for the mutation log) at once, since scrubbing and
// admin transitions touch all three together.
type entry struct {
	slab    *slab.Slab
	refs    *refcount.RefCounts
	journal *journal.Journal
}
