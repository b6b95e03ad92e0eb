package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novadb/internal/bufferpool"
	"github.com/tuannm99/novadb/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "novadb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "novadb", cfg.AppName)
	assert.Equal(t, "./data", cfg.Storage.Workdir)
	ps, err := cfg.PageSize()
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultPageSize, ps)
	assert.Equal(t, bufferpool.DefaultIOBuffers, cfg.BufferPool.IOBuffers)
	assert.Equal(t, 4.0, cfg.Cost.RandomRead)
	assert.Equal(t, "INFO", cfg.Log.Level)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
storage:
  workdir: /var/lib/novadb
  page_size: 4k
bufferpool:
  default_capacity: 256
  cache_capacity:
    4k: 1024
    16k: 64
  io_buffers: 4
log:
  level: DEBUG
  format: json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/novadb", cfg.Storage.Workdir)
	assert.Equal(t, "json", cfg.Log.Format)

	pc := cfg.PoolConfig()
	assert.Equal(t, 256, pc.DefaultCacheCapacity)
	assert.Equal(t, 4, pc.IOBuffers)
	assert.Equal(t, bufferpool.DefaultReadQueueSize, pc.ReadQueueSize)
	assert.Equal(t, map[storage.PageSize]int{storage.PageSize4K: 1024, storage.PageSize16K: 64}, pc.CacheCapacity)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, "storage:\n  page_size: 4k\n")
	t.Setenv("NOVADB_STORAGE_PAGE_SIZE", "32k")
	t.Setenv("NOVADB_BUFFERPOOL_PREFETCH_WORKERS", "9")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	ps, err := cfg.PageSize()
	require.NoError(t, err)
	assert.Equal(t, storage.PageSize32K, ps)
	assert.Equal(t, 9, cfg.BufferPool.PrefetchWorkers)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "storage:\n  page_size: 3k\n"))
	require.ErrorIs(t, err, storage.ErrInvalidPageSize)

	_, err = LoadConfig(writeConfig(t, "bufferpool:\n  cache_capacity:\n    4k: 0\n"))
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
