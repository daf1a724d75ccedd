package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "SOMINER_EXPORT_DIR", "SOMINER_DUMP_DIR", "SOMINER_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_CreatesDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.xml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Mining.BufferSizeMB)
	assert.Equal(t, 64, cfg.Mining.MaxLineSizeMB)
	assert.Equal(t, filepath.Join(dir, "data/exports"), cfg.Export.OutputDirectory)
	assert.Equal(t, filepath.Join(dir, "data/dumps"), cfg.Storage.DumpDirectory)
	assert.True(t, cfg.Storage.AllowDumpDeletion)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<SOMiner>")
	assert.Contains(t, string(data), "<ProgressEveryLines>100000</ProgressEveryLines>")
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.xml")
	content := `<?xml version="1.0" encoding="UTF-8"?>
<SOMiner>
  <Server><Port>9000</Port></Server>
  <Mining><BufferSizeMB>16</BufferSizeMB></Mining>
  <Export><OutputDirectory>/srv/exports</OutputDirectory><DefaultFormat>sqlite</DefaultFormat></Export>
</SOMiner>`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.BindAddress)
	assert.Equal(t, 16, cfg.Mining.BufferSizeMB)
	assert.Equal(t, 100000, cfg.Mining.ProgressEvery)
	assert.Equal(t, "/srv/exports", cfg.Export.OutputDirectory)
	assert.Equal(t, "sqlite", cfg.Export.DefaultFormat)
	assert.Equal(t, "0.0.0.0:9000", cfg.GetServerAddr())
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval())
	assert.Len(t, cfg.MinerOptions(), 4)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("SOMINER_EXPORT_DIR", "/tmp/so-exports")
	t.Setenv("SOMINER_DUMP_DIR", "/tmp/so-dumps")
	t.Setenv("SOMINER_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.xml"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/tmp/so-exports", cfg.Export.OutputDirectory)
	assert.Equal(t, "/tmp/so-dumps", cfg.Storage.DumpDirectory)
	assert.Equal(t, "debug", cfg.Advanced.LogLevel)
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.xml")
	require.NoError(t, os.WriteFile(bad, []byte("<SOMiner><Server>"), 0644))
	_, err := LoadConfig(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.xml")
	require.NoError(t, os.WriteFile(invalid, []byte("<SOMiner><Export><DefaultFormat>parquet</DefaultFormat></Export></SOMiner>"), 0644))
	_, err = LoadConfig(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown export format")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Advanced.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Advanced.MaxSessions = -1
	assert.Error(t, cfg.Validate())
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	root := t.TempDir()
	cfg.Export.OutputDirectory = filepath.Join(root, "a", "b")
	cfg.Storage.DumpDirectory = filepath.Join(root, "dumps")
	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.Export.OutputDirectory, cfg.Storage.DumpDirectory} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
