package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(12345), cfg.World.Seed)
	assert.Equal(t, 16, cfg.World.ChunkSize)
	assert.Equal(t, 8, cfg.Chunks.InterestRadius)
	assert.Equal(t, "zstd", cfg.Sync.Compression)
	assert.Equal(t, "memory", cfg.Cache.Driver)
}

func TestLoadWithoutPathUsesDefaults(t *testing.T) {
	t.Setenv("VOXEL_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
world:
  seed: 99
  chunk_size: 32
chunks:
  workers: 2
  retry_delay: 250ms
  lod_bands: [2, 3, 5]
replication:
  reach: 6.5
storage:
  driver: sqlite
  path: /tmp/chunks.db
sync:
  enabled: true
  compression: gzip
  flush_every: 1s
server:
  kcp_port: 9000
`), 0o644))

	t.Setenv("VOXEL_CONFIG", path)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(99), cfg.World.Seed)
	assert.Equal(t, 32, cfg.World.ChunkSize)
	assert.Equal(t, 10.0, cfg.World.HeightScale, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.Chunks.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Chunks.RetryDelay)
	assert.Equal(t, []int{2, 3, 5}, cfg.Chunks.LODBands)
	assert.Equal(t, 6.5, cfg.Replication.Reach)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, time.Second, cfg.Sync.FlushEvery)
	assert.Equal(t, 9000, cfg.Server.GetKCPPort())

	mgr := cfg.Chunks.Manager()
	assert.Equal(t, 2, mgr.Workers)
	gen := cfg.World.Generator()
	assert.Equal(t, int64(99), gen.Seed)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  driver: floppy\n"), 0o644))
	_, err := Load(bad)
	assert.ErrorContains(t, err, "storage.driver")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("world: [1, 2"), 0o644))
	_, err = Load(broken)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPortEnvFallback(t *testing.T) {
	var s ServerConfig
	t.Setenv("VOXEL_KCP_PORT", "")
	t.Setenv("VOXEL_WS_PORT", "8181")
	t.Setenv("VOXEL_METRICS_PORT", "not-a-port")

	assert.Equal(t, 7777, s.GetKCPPort())
	assert.Equal(t, 8181, s.GetWSPort())
	assert.Equal(t, 2112, s.GetMetricsPort())

	s.WSPort = 9999
	assert.Equal(t, 9999, s.GetWSPort())
	assert.Equal(t, ":9999", s.Addr(s.GetWSPort()))
}
