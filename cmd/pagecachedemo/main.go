// Command pagecachedemo exercises the paged file cache end to end
// against a real file: it maps the file, writes a handful of pages
// through an exclusive cursor, flushes them to durable storage, then
// rereads them back through a shared cursor.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tuannm99/pagedcache/internal/bufferpool"
	"github.com/tuannm99/pagedcache/internal/config"
)

func main() {
	var cfgPath string
	var target string
	flag.StringVar(&cfgPath, "config", "pagecache.yaml", "Path to pagecache yaml config")
	flag.StringVar(&target, "file", "demo.dat", "File to map, relative to data.dir")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		slog.Error("create data dir", "dir", cfg.Data.Dir, "err", err)
		os.Exit(1)
	}

	if err := run(cfg, filepath.Join(cfg.Data.Dir, target)); err != nil {
		slog.Error("run", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, file string) error {
	cache := bufferpool.New(
		cfg.Cache.PageSize,
		cfg.Cache.FrameCount,
		bufferpool.WithBackoff(time.Duration(cfg.Cache.BackoffMs)*time.Millisecond),
	)
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Error("close cache", "err", err)
		}
	}()

	mapping, err := cache.Map(file, cfg.Cache.PageSize)
	if err != nil {
		return fmt.Errorf("map %s: %w", file, err)
	}
	defer func() {
		if err := cache.Unmap(file); err != nil && err != bufferpool.ErrNotMapped {
			slog.Error("unmap", "file", file, "err", err)
		}
	}()

	const pageCount = 4
	if err := fillPages(mapping, pageCount); err != nil {
		return fmt.Errorf("fill pages: %w", err)
	}

	if err := mapping.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	slog.Info("flushed pages", "file", file, "pages", pageCount)

	return dumpPages(mapping)
}

func fillPages(m *bufferpool.Mapping, pageCount int) error {
	cur, err := m.Io(0, bufferpool.ExclusiveLock)
	if err != nil {
		return err
	}
	defer cur.Close()

	for i := 0; i < pageCount; i++ {
		ok, err := cur.NextTo(bufferpool.PageID(i))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unexpected stop at page %d", i)
		}
		if err := cur.PutByte(byte('A' + i)); err != nil {
			return err
		}
	}
	return nil
}

func dumpPages(m *bufferpool.Mapping) error {
	cur, err := m.Io(0, bufferpool.SharedLock)
	if err != nil {
		return err
	}
	defer cur.Close()

	for {
		ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		b, err := cur.GetByte()
		if err != nil {
			return err
		}
		slog.Info("page", "id", cur.CurrentPageID(), "firstByte", string(rune(b)))
	}
	return nil
}
