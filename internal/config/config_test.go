package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndRequiredFields(t *testing.T) {
	t.Setenv("PGSYNC_DATABASE", "mydb")
	t.Setenv("PGSYNC_INDEX", "myindex")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "mydb", cfg.Database)
	require.Equal(t, "myindex", cfg.Index)
	require.Equal(t, "elasticsearch", cfg.SearchEngine)
	require.Equal(t, 10000, cfg.QueryChunkSize)
	require.Equal(t, 5, cfg.RetryMaxRetries)
}

func TestLoad_MissingDatabaseIndexFails(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: filedb\nindex: fileindex\nbulk_chunk_size: 42\n"), 0o644))

	t.Setenv("PGSYNC_BULK_CHUNK_SIZE", "99")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "filedb", cfg.Database)
	require.Equal(t, 99, cfg.BulkChunkSize)
}

func TestLoad_TomlConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgsync.toml")
	require.NoError(t, os.WriteFile(path, []byte("database = \"tomldb\"\nindex = \"tomlindex\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "tomldb", cfg.Database)
	require.Equal(t, "tomlindex", cfg.Index)
}
