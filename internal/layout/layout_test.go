package layout_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/statekit/internal/layout"
)

func TestInitialize(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), ".checklist")
	l, err := layout.New(base)
	require.NoError(t, err)
	require.NoError(t, l.Initialize())

	dirs := []string{
		l.Base(),
		l.BackupsDir(),
		l.LocksDir(),
		l.CacheDir(),
		l.LogsDir(),
		l.WALDir(),
	}
	for _, dir := range dirs {
		info, statErr := os.Stat(dir)
		require.NoError(t, statErr, dir)
		assert.True(t, info.IsDir())
		if runtime.GOOS != "windows" {
			assert.Equal(t, os.FileMode(0o755), info.Mode().Perm(), dir)
		}
	}

	// Idempotent.
	assert.NoError(t, l.Initialize())
}

func TestPaths(t *testing.T) {
	t.Parallel()

	l, err := layout.New(filepath.Join(t.TempDir(), ".checklist"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(l.Base(), "state.yaml"), l.StatePath())
	assert.Equal(t, l.StatePath()+".tmp", l.StateTempPath())
	assert.Equal(t, filepath.Join(l.Base(), "backups", "manifest.yaml"), l.ManifestPath())
	assert.Equal(t, filepath.Join(l.Base(), ".locks", "state.lock"), l.LockPath("state"))
	assert.Equal(t, filepath.Join(l.Base(), ".wal", "wal.log"), l.WALPath())
	assert.Equal(t, filepath.Join(l.Base(), "logs", "audit.log"), l.AuditLogPath())
	assert.Equal(t, filepath.Join(l.Base(), "logs", "security-audit.log"), l.SecurityAuditLogPath())
	assert.Equal(t, filepath.Join(l.Base(), ".encryption-key"), l.KeyPath())
	assert.Equal(t, filepath.Join(l.Base(), ".encryption-metadata.json"), l.EncryptionMetadataPath())
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), ".checklist")
	l, err := layout.New(base)
	require.NoError(t, err)
	require.NoError(t, l.Initialize())

	// Populate the purgeable directories and the state file.
	require.NoError(t, os.WriteFile(filepath.Join(l.CacheDir(), "derived.bin"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(l.LocksDir(), "state.lock"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(l.LogsDir(), "audit.log"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(l.BackupsDir(), "state.yaml.1"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(l.StatePath(), []byte("keep"), 0o600))

	require.NoError(t, l.Cleanup())

	for _, dir := range []string{l.CacheDir(), l.LocksDir(), l.LogsDir(), l.BackupsDir()} {
		entries, readErr := os.ReadDir(dir)
		require.NoError(t, readErr, "directory must survive cleanup")
		assert.Empty(t, entries, dir)
	}

	// The state file is untouched.
	raw, err := os.ReadFile(l.StatePath())
	require.NoError(t, err)
	assert.Equal(t, "keep", string(raw))
}
