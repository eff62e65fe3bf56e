// Package storage is the file-system abstraction consumed by the paged
// cache: opening files, reading/writing whole-page windows, and forcing
// writes to durable storage. It knows nothing about paging, frames, or
// eviction — that lives in internal/bufferpool.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Mode selects how a Channel's backing file is opened.
type Mode int

const (
	// ReadOnly opens the file for reading only.
	ReadOnly Mode = iota
	// ReadWrite opens (and creates, if missing) the file for reading and
	// writing.
	ReadWrite
)

// Channel is the narrow file abstraction the cache depends on. It is
// intentionally smaller than os.File: the cache only ever reads or
// writes a full page-sized window at a known offset.
type Channel interface {
	// Read fills buf from offset. A short read at EOF is not an error;
	// callers that need zero-fill-on-short-read apply it themselves
	// (see bufferpool's page I/O adapter), since the number of bytes
	// actually read is returned.
	Read(buf []byte, offset int64) (n int, err error)

	// WriteAll writes the entirety of buf at offset, extending the file
	// as needed.
	WriteAll(buf []byte, offset int64) error

	// Size reports the channel's current length in bytes.
	Size() (int64, error)

	// Force flushes buffered writes to durable storage. metaData
	// requests that file metadata (e.g. mtime, length) be synced too,
	// matching the fsync/fdatasync distinction of the underlying OS.
	Force(metaData bool) error

	// Close releases the channel. Idempotent.
	Close() error
}

// Open opens file under the given mode and returns a Channel backed by
// a real OS file handle.
func Open(file string, mode Mode) (Channel, error) {
	var flags int
	switch mode {
	case ReadOnly:
		flags = os.O_RDONLY
	case ReadWrite:
		flags = os.O_RDWR | os.O_CREATE
	default:
		return nil, fmt.Errorf("storage: unknown open mode %d", mode)
	}

	f, err := os.OpenFile(file, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", file, err)
	}
	return &fileChannel{file: f}, nil
}

// fileChannel is the Channel implementation backed by *os.File.
type fileChannel struct {
	file *os.File
}

func (c *fileChannel) Read(buf []byte, offset int64) (int, error) {
	n, err := c.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, err
	}
	return n, nil
}

func (c *fileChannel) WriteAll(buf []byte, offset int64) error {
	n, err := c.file.WriteAt(buf, offset)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

func (c *fileChannel) Size() (int64, error) {
	info, err := c.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (c *fileChannel) Force(metaData bool) error {
	if metaData {
		return c.file.Sync()
	}
	// Go's standard library has no portable fdatasync; Sync() is the
	// closest durable-write primitive available without reaching for a
	// platform-specific syscall.
	return c.file.Sync()
}

func (c *fileChannel) Close() error {
	if err := c.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
