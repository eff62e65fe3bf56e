package bufferpool

import (
	"fmt"

	"github.com/tuannm99/pagedcache/internal/storage"
)

// ioAdapter reads and writes a single page to/from a mapping's backing
// channel at the correct offset. It never forces the channel; forcing
// is invoked by flush, not per write.
type ioAdapter struct {
	channel      storage.Channel
	filePageSize int
}

func (a *ioAdapter) offset(pageID PageID) int64 {
	return int64(pageID) * int64(a.filePageSize)
}

// read fills dst (a full cache-page-sized buffer) with the file page at
// pageID. A short read at EOF zero-fills the remainder of dst,
// including the portion beyond filePageSize, since a cache page can be
// strictly larger than a file page.
func (a *ioAdapter) read(pageID PageID, dst []byte) error {
	for i := range dst {
		dst[i] = 0
	}
	window := dst[:a.filePageSize]
	n, err := a.channel.Read(window, a.offset(pageID))
	if err != nil {
		return fmt.Errorf("bufferpool: read page %d: %w", pageID, err)
	}
	for i := n; i < len(window); i++ {
		window[i] = 0
	}
	return nil
}

// write writes exactly filePageSize bytes from src at pageID's offset,
// extending the backing file as needed.
func (a *ioAdapter) write(pageID PageID, src []byte) error {
	if len(src) < a.filePageSize {
		return fmt.Errorf("bufferpool: write page %d: buffer shorter than file page size", pageID)
	}
	if err := a.channel.WriteAll(src[:a.filePageSize], a.offset(pageID)); err != nil {
		return fmt.Errorf("bufferpool: write page %d: %w", pageID, err)
	}
	return nil
}
