// Package layout owns the on-disk directory hierarchy of a statekit base
// directory: creation, permissions, path construction, and cleanup.
//
// Layout:
//
//	<base>/state.yaml
//	<base>/backups/manifest.yaml
//	<base>/.locks/<name>.lock
//	<base>/.cache/
//	<base>/logs/audit.log, security-audit.log
//	<base>/.wal/wal.log
//	<base>/.encryption-key
//	<base>/.encryption-metadata.json
package layout

import (
	"os"
	"path/filepath"

	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/errors"
)

// Layout resolves paths under a single base directory.
type Layout struct {
	base string
}

// New creates a Layout rooted at base. If base is empty, the default
// hidden directory under the working directory is used. The base path is
// made absolute so lock files and WAL safety checks compare real paths.
func New(base string) (*Layout, error) {
	if base == "" {
		base = constants.DefaultBaseDir
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve base directory")
	}
	return &Layout{base: abs}, nil
}

// Initialize creates the directory hierarchy with 0755 permissions.
// It is idempotent.
func (l *Layout) Initialize() error {
	dirs := []string{
		l.base,
		l.BackupsDir(),
		l.LocksDir(),
		l.CacheDir(),
		l.LogsDir(),
		l.WALDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, constants.DirPerm); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return nil
}

// Cleanup purges files under the cache, locks, logs, and backups
// directories while preserving the directories themselves.
func (l *Layout) Cleanup() error {
	for _, dir := range []string{l.CacheDir(), l.LocksDir(), l.LogsDir(), l.BackupsDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "failed to read directory %s", dir)
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
				return errors.Wrapf(err, "failed to remove %s", entry.Name())
			}
		}
	}
	return nil
}

// Base returns the absolute base directory.
func (l *Layout) Base() string { return l.base }

// StatePath returns the path of the current state document.
func (l *Layout) StatePath() string {
	return filepath.Join(l.base, constants.StateFileName)
}

// StateTempPath returns the transient path used during atomic saves.
func (l *Layout) StateTempPath() string {
	return l.StatePath() + constants.StateTempSuffix
}

// BackupsDir returns the snapshot directory.
func (l *Layout) BackupsDir() string {
	return filepath.Join(l.base, constants.BackupsDir)
}

// ManifestPath returns the backup manifest path.
func (l *Layout) ManifestPath() string {
	return filepath.Join(l.BackupsDir(), constants.ManifestFileName)
}

// LocksDir returns the lock file directory.
func (l *Layout) LocksDir() string {
	return filepath.Join(l.base, constants.LocksDir)
}

// LockPath returns the lock file path for a named lock.
func (l *Layout) LockPath(name string) string {
	return filepath.Join(l.LocksDir(), name+".lock")
}

// CacheDir returns the cache directory.
func (l *Layout) CacheDir() string {
	return filepath.Join(l.base, constants.CacheDir)
}

// LogsDir returns the log directory.
func (l *Layout) LogsDir() string {
	return filepath.Join(l.base, constants.LogsDir)
}

// AuditLogPath returns the transaction audit log path.
func (l *Layout) AuditLogPath() string {
	return filepath.Join(l.LogsDir(), constants.AuditLogFileName)
}

// SecurityAuditLogPath returns the security audit log path.
func (l *Layout) SecurityAuditLogPath() string {
	return filepath.Join(l.LogsDir(), constants.SecurityAuditLogFileName)
}

// EngineLogPath returns the rotating engine log path.
func (l *Layout) EngineLogPath() string {
	return filepath.Join(l.LogsDir(), constants.EngineLogFileName)
}

// WALDir returns the write-ahead log directory.
func (l *Layout) WALDir() string {
	return filepath.Join(l.base, constants.WALDir)
}

// WALPath returns the write-ahead log file path.
func (l *Layout) WALPath() string {
	return filepath.Join(l.WALDir(), constants.WALFileName)
}

// KeyPath returns the encryption key file path.
func (l *Layout) KeyPath() string {
	return filepath.Join(l.base, constants.EncryptionKeyFileName)
}

// EncryptionMetadataPath returns the encryption metadata file path.
func (l *Layout) EncryptionMetadataPath() string {
	return filepath.Join(l.base, constants.EncryptionMetadataFileName)
}
