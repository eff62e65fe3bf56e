package bufferpool

import (
	"sync"

	"go.uber.org/atomic"
)

// Frame is a fixed-size in-memory buffer plus its bookkeeping: a
// seqlock version counter, a pin count, a dirty bit, the owning
// mapping, and the file-page index it currently holds. Usage for the
// CLOCK replacement policy is not kept here; the frame pool tracks it
// by frame index in its pkg/clockx.Clock.
//
// version brackets every mutation window: it is bumped once when a
// write begins and again when it ends, and once more around a rebind
// performed by the fault/evict engine. An odd version means "a
// mutation is in flight"; shared cursors compare the version observed
// at pin time against the version observed after their read and treat
// any difference (including oddness) as a torn read.
type Frame struct {
	buf []byte

	version atomic.Uint64
	pin     atomic.Int32

	// mu guards the fields below, all of which are only ever mutated by
	// the frame's current exclusive pinner or by the fault/evict engine
	// while the frame is unpinned.
	mu       sync.Mutex
	dirty    bool
	poisoned bool
	mapping  *Mapping
	pageID   PageID

	// excMu serializes exclusive pinners of this frame on the same
	// (mapping, pageID): at most one exclusive pin at a time.
	excMu sync.Mutex
}

func newFrame(pageSize int) *Frame {
	return &Frame{buf: make([]byte, pageSize), pageID: UnboundPageID}
}

// Pinned reports whether the frame currently has any reader or writer
// attached to it, which makes it ineligible as an eviction victim.
func (f *Frame) Pinned() bool { return f.pin.Load() > 0 }

func (f *Frame) Dirty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

func (f *Frame) setDirty(v bool) {
	f.mu.Lock()
	f.dirty = v
	f.mu.Unlock()
}

// beginMutation and endMutation bracket a window in which a pinned
// frame's payload changes, the seqlock half of the optimistic-read
// protocol.
func (f *Frame) beginMutation() { f.version.Add(1) }
func (f *Frame) endMutation()   { f.version.Add(1) }
