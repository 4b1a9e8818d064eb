package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./inbox", cfg.Directories.Inbox)
	assert.Equal(t, 0.8, cfg.Import.MatchThreshold)
	assert.Equal(t, 70, cfg.Import.IdentityCutoff)
	assert.Equal(t, 100, cfg.Import.BatchSize)
	assert.False(t, cfg.Import.ContentOnlyFingerprint)
}

func TestLoadClampsMatchThreshold(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("SCHEMA_MATCH_THRESHOLD", "0.2")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Import.MatchThreshold)

	t.Setenv("SCHEMA_MATCH_THRESHOLD", "0.99")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 0.95, cfg.Import.MatchThreshold)
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("IMPORT_BATCH_SIZE=7\nIMPORT_INBOX_DIR=/data/drop\n"), 0o644))
	t.Chdir(dir)

	// t.Setenv restores the host values afterwards; Unsetenv clears them so
	// the .env file is what Load sees.
	for _, key := range []string{"IMPORT_BATCH_SIZE", "IMPORT_INBOX_DIR"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Import.BatchSize)
	assert.Equal(t, "/data/drop", cfg.Directories.Inbox)
}
