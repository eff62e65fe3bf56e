package bufferpool

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/tuannm99/pagedcache/internal/storage"
)

// Mapping is a handle identifying an open file's participation in the
// cache. Multiple map() calls for the same file identity share one
// Mapping, one backing channel, and one translation table.
type Mapping struct {
	cache *Cache

	identity     string
	filePageSize int
	io           ioAdapter

	refcount int32 // guarded by cache.tableMu

	translation *translationTable
	highWater   atomic.Int64 // highest file-page index known assigned, -1 if none

	mu     sync.Mutex
	closed bool
}

func newMapping(cache *Cache, identity string, ch storage.Channel, filePageSize int, lastPage int64) *Mapping {
	m := &Mapping{
		cache:        cache,
		identity:     identity,
		filePageSize: filePageSize,
		io:           ioAdapter{channel: ch, filePageSize: filePageSize},
		refcount:     1,
		translation:  newTranslationTable(),
	}
	m.highWater.Store(lastPage)
	return m
}

// Identity returns the file identity this mapping was opened under.
func (m *Mapping) Identity() string { return m.identity }

// LastPageID returns the mapping's current high-water mark, or
// UnboundPageID if the file is empty.
func (m *Mapping) LastPageID() PageID {
	v := m.highWater.Load()
	if v < 0 {
		return UnboundPageID
	}
	return PageID(v)
}

func (m *Mapping) bumpHighWaterTo(pageID PageID) {
	for {
		cur := m.highWater.Load()
		if int64(pageID) <= cur {
			return
		}
		if m.highWater.CompareAndSwap(cur, int64(pageID)) {
			return
		}
	}
}

func (m *Mapping) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Io opens a cursor over this mapping starting at startPageIndex.
func (m *Mapping) Io(startPageIndex PageID, flags Flag) (*Cursor, error) {
	if err := flags.validate(); err != nil {
		return nil, err
	}
	if m.isClosed() {
		return nil, ErrMappingClosed
	}
	return newCursor(m, startPageIndex, flags), nil
}

// Flush writes back every dirty frame of this mapping and forces the
// backing channel to durable storage.
func (m *Mapping) Flush() error {
	return m.cache.flushMapping(m)
}
