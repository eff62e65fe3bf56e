package bufferpool

import (
	"sync"
	"time"

	"github.com/tuannm99/pagedcache/pkg/clockx"
)

// framePool owns the fixed set of N frames created at construction.
// Victim selection is delegated to pkg/clockx, which guarantees
// bounded progress: if any unpinned (evictable) frame exists, at most
// two sweeps of the clock hand find one.
type framePool struct {
	pageSize int
	backoff  time.Duration

	mu     sync.Mutex
	frames []*Frame
	free   []int // indices not currently bound to a page
	clock  *clockx.Clock
}

func newFramePool(capacity, pageSize int) *framePool {
	frames := make([]*Frame, capacity)
	free := make([]int, capacity)
	for i := range frames {
		frames[i] = newFrame(pageSize)
		free[i] = capacity - 1 - i
	}
	return &framePool{
		pageSize: pageSize,
		backoff:  time.Millisecond,
		frames:   frames,
		free:     free,
		clock:    clockx.New(capacity),
	}
}

func (p *framePool) capacity() int { return len(p.frames) }

// acquireFreeLocked returns the index of an unbound frame, or -1 if
// none remains. Caller holds p.mu.
func (p *framePool) acquireFreeLocked() int {
	if len(p.free) == 0 {
		return -1
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return idx
}

// touchLocked records a fresh access against idx for the replacement
// policy. Caller holds p.mu.
func (p *framePool) touchLocked(idx int) { p.clock.Touch(idx) }

// setEvictableLocked marks whether idx may be chosen as a victim.
// Caller holds p.mu.
func (p *framePool) setEvictableLocked(idx int, evictable bool) {
	p.clock.SetEvictable(idx, evictable)
}

// pickVictimLocked runs the clock (up to two sweeps). Caller holds p.mu.
func (p *framePool) pickVictimLocked() (int, bool) { return p.clock.Evict() }

// forEach iterates every frame of the pool, bound or not, invoking fn
// with the pool lock released so fn may itself touch mapping/frame
// state (e.g. flush) without risking deadlock against concurrent
// faults that also lock individual frames.
func (p *framePool) forEach(fn func(idx int, f *Frame)) {
	p.mu.Lock()
	frames := make([]*Frame, len(p.frames))
	copy(frames, p.frames)
	p.mu.Unlock()

	for idx, f := range frames {
		fn(idx, f)
	}
}

// maxBackoffAttempts bounds how many victim-search attempts the
// fault/evict engine makes before surfacing ErrNoFreeFrame.
const maxBackoffAttempts = 8
