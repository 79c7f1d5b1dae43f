package config_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtcwatch/rtcwatch/internal/server/config"
)

func baseFlags(t *testing.T) *config.Flags {
	t.Helper()
	return &config.Flags{DataDir: t.TempDir()}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(baseFlags(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, int64(1<<20), cfg.Ingest.MaxBodyBytes)
	assert.Equal(t, 10, cfg.Ingest.DedupMemoSize)
	assert.Equal(t, 1000, cfg.API.SessionListLimit)
	assert.Equal(t, 50, cfg.API.PageSize)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9001"
  data_dir: `+dir+`
ingest:
  dedup_memo_size: 64
`), 0o644))

	cfg, err := config.Load(&config.Flags{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.Server.Addr)
	assert.Equal(t, 64, cfg.Ingest.DedupMemoSize)
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(1<<20), cfg.Ingest.MaxBodyBytes)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RTCWATCH_SERVER__ADDR", ":7777")
	t.Setenv("RTCWATCH_API__PAGE_SIZE", "25")

	cfg, err := config.Load(baseFlags(t))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 25, cfg.API.PageSize)
}

func TestLoad_FlagsWinOverEnv(t *testing.T) {
	t.Setenv("RTCWATCH_SERVER__ADDR", ":7777")

	f := baseFlags(t)
	f.Addr = ":6666"
	cfg, err := config.Load(f)
	require.NoError(t, err)
	assert.Equal(t, ":6666", cfg.Server.Addr)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("RTCWATCH_INGEST__MAX_BODY_BYTES", "0")
	_, err := config.Load(baseFlags(t))
	assert.Error(t, err)
}

func TestDefineFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := config.DefineFlags(fs)
	require.NoError(t, fs.Parse([]string{"-addr", ":1234", "-log-level", "debug"}))
	assert.Equal(t, ":1234", f.Addr)
	assert.Equal(t, "debug", f.LogLevel)
}

func TestDBPath(t *testing.T) {
	f := baseFlags(t)
	cfg, err := config.Load(f)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.DataDir, "rtcwatch.db"), cfg.DBPath())
}
