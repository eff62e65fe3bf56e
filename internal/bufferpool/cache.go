// Package bufferpool implements the paged file cache: a shared,
// fixed-capacity buffer pool that mediates byte-oriented access to a
// set of files organized into fixed-size pages. Its pieces are a
// frame pool, a file mapping table, a per-mapping translation table, a
// page I/O adapter, a fault/evict engine, a cursor, and a flush/close
// orchestrator.
package bufferpool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/sourcegraph/conc/pool"
	"github.com/tuannm99/pagedcache/internal/storage"
	"github.com/tuannm99/pagedcache/pkg/util"
)

const logPrefix = "bufferpool: "

// Cache is the fixed frame pool plus the table of mappings keyed by
// file identity. Total frames is constant across the cache's
// lifetime; the sum of frames bound to mappings never exceeds it; no
// operation may be initiated after Close.
type Cache struct {
	pageSize int
	pool     *framePool
	monitor  Monitor

	tableMu sync.Mutex
	table   map[string]*Mapping

	closedMu sync.Mutex
	closed   bool
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithMonitor installs an observer. A nil Monitor is replaced by
// NullMonitor.
func WithMonitor(m Monitor) Option {
	return func(c *Cache) {
		if m != nil {
			c.monitor = m
		}
	}
}

// WithBackoff overrides the sleep between victim-search retries when
// every frame is pinned.
func WithBackoff(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.pool.backoff = d
		}
	}
}

// New builds a Cache with the given cache page size and fixed number
// of frames, allocated up front at construction.
func New(pageSize, frameCount int, opts ...Option) *Cache {
	c := &Cache{
		pageSize: pageSize,
		pool:     newFramePool(frameCount, pageSize),
		monitor:  NullMonitor{},
		table:    make(map[string]*Mapping),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageSize returns the cache's fixed page size.
func (c *Cache) PageSize() int { return c.pageSize }

func (c *Cache) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closed
}

// Map opens (or joins) a mapping for file with the given file-side
// page size.
func (c *Cache) Map(file string, filePageSize int) (*Mapping, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if filePageSize > c.pageSize {
		return nil, ErrPageSizeTooLarge
	}

	identity := storage.Identity(file)

	c.tableMu.Lock()
	defer c.tableMu.Unlock()

	if m, ok := c.table[identity]; ok {
		if m.filePageSize != filePageSize {
			return nil, ErrPageSizeMismatch
		}
		m.refcount++
		slog.Debug(logPrefix+"map joined existing mapping", "file", identity, "refcount", m.refcount)
		return m, nil
	}

	ch, err := storage.Open(file, storage.ReadWrite)
	if err != nil {
		return nil, err
	}

	size, err := ch.Size()
	if err != nil {
		util.CloseQuietly(ch)
		return nil, err
	}
	lastPage := int64(-1)
	if size > 0 {
		lastPage = (size - 1) / int64(filePageSize)
	}

	m := newMapping(c, identity, ch, filePageSize, lastPage)
	c.table[identity] = m
	slog.Debug(logPrefix+"map created new mapping", "file", identity, "filePageSize", filePageSize, "lastPage", lastPage)
	return m, nil
}

// Unmap decrements the mapping's refcount; at zero it is flushed,
// unbound, and its channel closed.
func (c *Cache) Unmap(file string) error {
	identity := storage.Identity(file)

	c.tableMu.Lock()
	m, ok := c.table[identity]
	if !ok {
		c.tableMu.Unlock()
		return ErrNotMapped
	}
	m.refcount--
	if m.refcount > 0 {
		c.tableMu.Unlock()
		return nil
	}
	delete(c.table, identity)
	c.tableMu.Unlock()

	return c.teardownMapping(m)
}

// teardownMapping flushes dirty frames, unbinds every frame the
// mapping owns, and closes its channel. Called with the mapping
// already removed from c.table.
func (c *Cache) teardownMapping(m *Mapping) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	var errs error
	if err := c.flushMapping(m); err != nil {
		errs = multierr.Append(errs, err)
	}

	m.translation.forEach(func(pageID PageID, idx int) {
		c.releaseFrameFromMapping(idx, m)
	})

	if err := m.io.channel.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("bufferpool: close channel for %s: %w", m.identity, err))
	}
	return errs
}

// releaseFrameFromMapping returns frame idx to the free pool, after
// removing its translation entry. Callers must already have flushed
// any dirty content they need preserved.
func (c *Cache) releaseFrameFromMapping(idx int, m *Mapping) {
	f := c.pool.frames[idx]

	f.mu.Lock()
	pageID := f.pageID
	f.mapping = nil
	f.pageID = UnboundPageID
	f.dirty = false
	f.poisoned = false
	f.mu.Unlock()

	m.translation.remove(pageID)

	c.pool.mu.Lock()
	c.pool.setEvictableLocked(idx, false)
	c.pool.free = append(c.pool.free, idx)
	c.pool.mu.Unlock()
}

// Flush flushes every currently-mapped file. Independent mappings are
// flushed concurrently, one goroutine per mapping with no upper limit,
// since channel I/O across distinct mappings has no ordering
// requirement between them.
func (c *Cache) Flush() error {
	if c.isClosed() {
		return ErrClosed
	}

	c.tableMu.Lock()
	mappings := make([]*Mapping, 0, len(c.table))
	for _, m := range c.table {
		mappings = append(mappings, m)
	}
	c.tableMu.Unlock()

	p := pool.New().WithErrors()
	for _, m := range mappings {
		m := m
		p.Go(func() error { return c.flushMapping(m) })
	}
	return p.Wait()
}

// flushMapping writes back every dirty frame of m and forces its
// channel to durable storage.
func (c *Cache) flushMapping(m *Mapping) error {
	c.monitor.OnFlushStart(m.identity)

	var errs error
	m.translation.forEach(func(pageID PageID, idx int) {
		f := c.pool.frames[idx]
		if err := c.writeBack(f, m, pageID); err != nil {
			errs = multierr.Append(errs, err)
		}
	})

	if errs == nil {
		if err := m.io.channel.Force(true); err != nil {
			errs = fmt.Errorf("bufferpool: force %s: %w", m.identity, err)
		}
	}

	c.monitor.OnFlushEnd(m.identity, errs)
	return errs
}

// writeBack writes f's payload to disk via m's page I/O adapter
// if it is dirty, clearing the dirty bit on success. A failed
// writeback poisons the frame.
func (c *Cache) writeBack(f *Frame, m *Mapping, pageID PageID) error {
	f.mu.Lock()
	dirty := f.dirty
	f.mu.Unlock()
	if !dirty {
		return nil
	}

	if err := m.io.write(pageID, f.buf); err != nil {
		f.mu.Lock()
		f.poisoned = true
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	f.dirty = false
	f.poisoned = false
	f.mu.Unlock()
	c.monitor.OnPageOut(m.identity, pageID)
	return nil
}

// Close flushes and closes every mapping, even ones with outstanding
// refcounts, then marks the cache closed. Errors across mappings are
// aggregated best-effort rather than short-circuiting on the first
// failure.
func (c *Cache) Close() error {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return nil
	}
	c.closed = true
	c.closedMu.Unlock()

	c.tableMu.Lock()
	mappings := make([]*Mapping, 0, len(c.table))
	for _, m := range c.table {
		mappings = append(mappings, m)
	}
	c.table = make(map[string]*Mapping)
	c.tableMu.Unlock()

	var errs error
	for _, m := range mappings {
		if err := c.teardownMapping(m); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
