package bufferpool

import "fmt"

// Cursor is the client-facing iterator over the pages of one mapping
// with one access mode. It is not safe for concurrent use by multiple
// goroutines — exactly like an os.File offset, one Cursor belongs to
// one logical reader/writer at a time; concurrency across cursors is
// what the cache itself arbitrates.
type Cursor struct {
	mapping *Mapping
	flags   Flag
	start   PageID

	pending PageID // page id the next bare Next() call will target
	current PageID // UnboundPageID until the first successful Next()

	frameIdx     int
	frame        *Frame
	unboundFrame bool // true: NO_FAULT sentinel, byte ops are no-ops
	holdsExcl    bool // true: this cursor holds frame.excMu

	offset            int
	windowStartOffset int
	snapshotVersion   uint64

	closed bool
}

func newCursor(m *Mapping, start PageID, flags Flag) *Cursor {
	return &Cursor{
		mapping:  m,
		flags:    flags,
		start:    start,
		pending:  start,
		current:  UnboundPageID,
		frameIdx: -1,
	}
}

// Next advances to the next page index, starting from the cursor's
// configured start. It returns false without error when NoGrow
// forbids crossing the mapping's last page; any other failure to
// advance is reported as a non-nil error rather than folded into the
// bool, since a Go I/O path cannot silently swallow a read failure.
func (c *Cursor) Next() (bool, error) {
	return c.advanceTo(c.pending)
}

// NextTo positions the cursor explicitly at pageID.
func (c *Cursor) NextTo(pageID PageID) (bool, error) {
	return c.advanceTo(pageID)
}

func (c *Cursor) advanceTo(target PageID) (bool, error) {
	if c.closed {
		return false, ErrMappingClosed
	}
	if c.mapping.isClosed() {
		return false, ErrMappingClosed
	}

	if c.flags.noGrow() && target > c.mapping.LastPageID() {
		c.unpinCurrent()
		c.current = UnboundPageID
		return false, nil
	}

	// Unpin whatever this cursor currently holds before resolving the
	// new position. This also sidesteps self-deadlock on frame.excMu
	// when advancing back onto the same page this cursor already holds
	// exclusively.
	c.unpinCurrent()

	frame, idx, unbound, err := c.mapping.cache.resolve(c.mapping, target, c.flags)
	if err != nil {
		c.current = UnboundPageID
		return false, err
	}

	if c.flags.isExclusive() && !unbound {
		frame.excMu.Lock()
	}

	c.current = target
	c.pending = target + 1
	c.unboundFrame = unbound
	c.offset = 0
	c.windowStartOffset = 0

	if unbound {
		c.frame = nil
		c.frameIdx = -1
		return true, nil
	}

	c.frame = frame
	c.frameIdx = idx
	c.holdsExcl = c.flags.isExclusive()
	c.snapshotVersion = frame.version.Load()
	return true, nil
}

// unpinCurrent releases whatever frame this cursor currently holds, if
// any.
func (c *Cursor) unpinCurrent() {
	if c.frame == nil {
		return
	}
	if c.holdsExcl {
		c.frame.excMu.Unlock()
		c.holdsExcl = false
	}
	c.mapping.cache.unpinFrame(c.frameIdx, c.frame)
	c.frame = nil
	c.frameIdx = -1
}

// Rewind resets the cursor so the next Next() targets the initial
// start page; unpins any current frame.
func (c *Cursor) Rewind() {
	c.unpinCurrent()
	c.current = UnboundPageID
	c.pending = c.start
	c.unboundFrame = false
}

// CurrentPageID returns UnboundPageID before the first successful Next
// and immediately after Rewind; otherwise the current file-page index.
func (c *Cursor) CurrentPageID() PageID { return c.current }

// SetOffset repositions the byte cursor within the current frame.
func (c *Cursor) SetOffset(off int) error {
	if off < 0 || off > len(c.frameBuf()) {
		return fmt.Errorf("bufferpool: offset %d out of bounds [0,%d]", off, len(c.frameBuf()))
	}
	c.offset = off
	return nil
}

func (c *Cursor) frameBuf() []byte {
	if c.frame == nil {
		return nil
	}
	return c.frame.buf
}

// GetByte reads one byte at the current offset and advances it by one.
func (c *Cursor) GetByte() (byte, error) {
	if c.unboundFrame || c.frame == nil {
		return 0, nil
	}
	if c.offset >= len(c.frame.buf) {
		return 0, fmt.Errorf("bufferpool: getByte offset %d beyond page size %d", c.offset, len(c.frame.buf))
	}
	b := c.frame.buf[c.offset]
	c.offset++
	return b, nil
}

// PutByte writes one byte at the current offset and advances it by
// one. Only valid on exclusive cursors.
func (c *Cursor) PutByte(b byte) error {
	if c.unboundFrame || c.frame == nil {
		return nil
	}
	if !c.flags.isExclusive() {
		return fmt.Errorf("bufferpool: putByte on a shared cursor")
	}
	if c.offset >= len(c.frame.buf) {
		return fmt.Errorf("bufferpool: putByte offset %d beyond page size %d", c.offset, len(c.frame.buf))
	}

	c.frame.beginMutation()
	c.frame.buf[c.offset] = b
	c.frame.setDirty(true)
	c.frame.endMutation()
	c.offset++
	return nil
}

// GetBytes copies len(dst) bytes into dst starting at the current
// offset and advances the offset by that many bytes, returning the
// count copied. If dst would extend past the page it copies nothing
// and returns an error.
func (c *Cursor) GetBytes(dst []byte) (int, error) {
	if c.unboundFrame || c.frame == nil {
		return 0, nil
	}
	n := len(dst)
	if c.offset+n > len(c.frame.buf) {
		return 0, fmt.Errorf("bufferpool: getBytes would read past page size %d", len(c.frame.buf))
	}
	copy(dst, c.frame.buf[c.offset:c.offset+n])
	c.offset += n
	return n, nil
}

// PutBytes writes src at the current offset and advances the offset.
// Only valid on exclusive cursors.
func (c *Cursor) PutBytes(src []byte) (int, error) {
	if c.unboundFrame || c.frame == nil {
		return 0, nil
	}
	if !c.flags.isExclusive() {
		return 0, fmt.Errorf("bufferpool: putBytes on a shared cursor")
	}
	n := len(src)
	if c.offset+n > len(c.frame.buf) {
		return 0, fmt.Errorf("bufferpool: putBytes would write past page size %d", len(c.frame.buf))
	}

	c.frame.beginMutation()
	copy(c.frame.buf[c.offset:c.offset+n], src)
	c.frame.setDirty(true)
	c.frame.endMutation()
	c.offset += n
	return n, nil
}

// Retry implements the optimistic-read protocol: for shared cursors it
// reports whether the frame's version changed (or is mid-mutation)
// since the read window began, resetting the offset to the window's
// start so the caller can reread; for exclusive cursors it always
// returns false.
func (c *Cursor) Retry() bool {
	if c.flags.isExclusive() || c.frame == nil {
		return false
	}

	cur := c.frame.version.Load()
	torn := cur != c.snapshotVersion || cur%2 != 0
	if torn {
		c.offset = c.windowStartOffset
		c.snapshotVersion = cur
	}
	return torn
}

// Close unpins the current frame, if any, and releases the cursor. Idempotent.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.unpinCurrent()
	c.closed = true
	return nil
}
