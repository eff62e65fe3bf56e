package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagecache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  page_size: 8192\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8192, cfg.Cache.PageSize)
	require.Equal(t, 256, cfg.Cache.FrameCount)
	require.Equal(t, 1, cfg.Cache.BackoffMs)
	require.Equal(t, "./data", cfg.Data.Dir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
