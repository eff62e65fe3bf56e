package bufferpool

import (
	"log/slog"
	"time"
)

// resolve implements the fault/evict engine for a cursor advance to
// (m, pageID). On a cache hit it simply pins and returns the bound
// frame. On a miss with NoFault set, it reports an unbound sentinel
// instead of faulting. Otherwise it selects a victim via the frame
// pool, writes it back if dirty, loads the requested page (or
// zero-fills it if beyond the mapping's high-water mark), and installs
// the new translation entry.
func (c *Cache) resolve(m *Mapping, pageID PageID, flags Flag) (frame *Frame, idx int, unbound bool, err error) {
	if idx, ok := m.translation.lookup(pageID); ok {
		f := c.pool.frames[idx]
		c.pinHit(idx, f, flags)
		return f, idx, false, nil
	}

	if flags.noFault() {
		return nil, -1, true, nil
	}

	for attempt := 0; attempt < maxBackoffAttempts; attempt++ {
		if m.isClosed() {
			return nil, -1, false, ErrMappingClosed
		}

		idx, err := c.fault(m, pageID, flags)
		switch err {
		case nil:
			return c.pool.frames[idx], idx, false, nil
		case ErrNoFreeFrame:
			time.Sleep(c.pool.backoff)
			continue
		default:
			return nil, -1, false, err
		}
	}
	return nil, -1, false, ErrNoFreeFrame
}

// fault performs one attempt at selecting and loading a frame for
// (m, pageID). The frame pool lock is held for the duration, including
// the writeback/load I/O, so that a concurrent fault can never observe
// a half-evicted frame.
func (c *Cache) fault(m *Mapping, pageID PageID, flags Flag) (int, error) {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	// Re-check under the lock: another goroutine may have faulted this
	// exact page in while we were waiting.
	if idx, ok := m.translation.lookup(pageID); ok {
		f := c.pool.frames[idx]
		c.pinHitLocked(idx, f, flags)
		return idx, nil
	}

	idx := c.pool.acquireFreeLocked()
	if idx == -1 {
		victim, ok := c.pool.pickVictimLocked()
		if !ok {
			return -1, ErrNoFreeFrame
		}
		idx = victim
	}

	f := c.pool.frames[idx]

	f.mu.Lock()
	oldMapping, oldPageID, dirty, poisoned := f.mapping, f.pageID, f.dirty, f.poisoned
	f.mu.Unlock()

	if poisoned {
		// A poisoned frame cannot be reused until its owner flushes or
		// closes; put it back in the clock as evictable and try another.
		// Evict dropped the slot from tracking, so it is touched first.
		c.pool.touchLocked(idx)
		c.pool.setEvictableLocked(idx, true)
		return -1, ErrNoFreeFrame
	}

	if oldMapping != nil {
		if dirty {
			if err := c.writeBack(f, oldMapping, oldPageID); err != nil {
				c.pool.touchLocked(idx)
				c.pool.setEvictableLocked(idx, true)
				return -1, err
			}
		}
		c.monitor.OnEvict(oldMapping.identity, oldPageID)
		oldMapping.translation.remove(oldPageID)
	}

	if int64(pageID) <= int64(m.LastPageID()) {
		if err := m.io.read(pageID, f.buf); err != nil {
			return -1, err
		}
		c.monitor.OnPageIn(m.identity, pageID)
	} else {
		for i := range f.buf {
			f.buf[i] = 0
		}
	}

	f.beginMutation()
	f.mu.Lock()
	f.mapping = m
	f.pageID = pageID
	f.dirty = false
	f.poisoned = false
	f.mu.Unlock()
	f.endMutation()

	f.pin.Store(1)
	c.pool.touchLocked(idx)
	c.pool.setEvictableLocked(idx, false)
	m.translation.insert(pageID, idx)

	if flags.isExclusive() && int64(pageID) > int64(m.LastPageID()) {
		m.bumpHighWaterTo(pageID)
	}

	slog.Debug(logPrefix+"faulted page", "file", m.identity, "pageID", pageID, "frame", idx)
	return idx, nil
}

// pinHit raises idx's pin count for a cache hit outside the pool lock
// fast path (translation entry already known to exist).
func (c *Cache) pinHit(idx int, f *Frame, flags Flag) {
	c.pool.mu.Lock()
	c.pinHitLocked(idx, f, flags)
	c.pool.mu.Unlock()
}

func (c *Cache) pinHitLocked(idx int, f *Frame, flags Flag) {
	if f.pin.Add(1) == 1 {
		c.pool.setEvictableLocked(idx, false)
	}
	c.pool.touchLocked(idx)
}

// unpinFrame releases a pin acquired via resolve. When the pin count
// reaches zero the frame becomes evictable again.
func (c *Cache) unpinFrame(idx int, f *Frame) {
	c.pool.mu.Lock()
	if f.pin.Add(-1) == 0 {
		c.pool.setEvictableLocked(idx, true)
	}
	c.pool.mu.Unlock()
}
