package state

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/statekit/internal/audit"
	"github.com/mrz1836/statekit/internal/backup"
	"github.com/mrz1836/statekit/internal/clock"
	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/ctxutil"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/fieldcrypt"
	"github.com/mrz1836/statekit/internal/layout"
	"github.com/mrz1836/statekit/internal/lock"
	"github.com/mrz1836/statekit/internal/schema"
	"github.com/mrz1836/statekit/internal/txn"
	"github.com/mrz1836/statekit/internal/wal"
)

// Options configure a Manager.
type Options struct {
	// LockTimeout is the acquisition deadline for most operations.
	// Zero selects the default. Load uses LoadLockTimeout.
	LockTimeout     time.Duration
	LoadLockTimeout time.Duration

	// LockExpiry is how long a held lock stays valid without renewal.
	LockExpiry time.Duration

	// BackupMaxCount bounds snapshot retention.
	BackupMaxCount int

	// AutoReset permits a hard reset (data loss) when corruption recovery
	// exhausts every backup. Without it, recovery failure is surfaced.
	AutoReset bool

	// TestMode raises the WAL rate limit for test workloads.
	TestMode bool

	// Clock supplies timestamps; nil selects the real clock.
	Clock clock.Clock

	// Logger receives operational logs.
	Logger zerolog.Logger
}

// Manager orchestrates every public operation on one base directory.
// Public operations are serialized by an in-process mutex and by the
// cross-process state lock; together they guarantee at most one writer
// per base across the machine.
type Manager struct {
	layout    *layout.Layout
	locks     *lock.Manager
	validator *schema.Validator
	keyring   *fieldcrypt.Keyring
	sealer    *fieldcrypt.Sealer
	backups   *backup.Manager
	coord     *txn.Coordinator
	security  *audit.Logger
	logger    zerolog.Logger
	clk       clock.Clock

	lockTimeout     time.Duration
	loadLockTimeout time.Duration
	autoReset       bool

	mu      sync.Mutex
	current *domain.State
}

// supportedVersions lists the schema versions loadable without migration.
var supportedVersions = []string{constants.SchemaVersion}

// NewManager wires a Manager over the given base directory.
func NewManager(base string, opts Options) (*Manager, error) {
	lay, err := layout.New(base)
	if err != nil {
		return nil, err
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = constants.DefaultLockTimeout
	}
	loadTimeout := opts.LoadLockTimeout
	if loadTimeout <= 0 {
		loadTimeout = constants.LoadLockTimeout
	}

	walOpts := wal.Options{Clock: clk}
	if opts.TestMode {
		walOpts.RateLimit = constants.WALTestModeRateLimit
	}
	journal, err := wal.New(lay.WALPath(), walOpts)
	if err != nil {
		return nil, err
	}

	validator := schema.NewValidator()
	trail := txn.NewAuditTrail(lay.AuditLogPath(), 0, clk)
	keyring := fieldcrypt.NewKeyring(lay.KeyPath(), lay.EncryptionMetadataPath())
	sealer := fieldcrypt.NewSealer(keyring)

	m := &Manager{
		layout:    lay,
		validator: validator,
		keyring:   keyring,
		sealer:    sealer,
		locks: lock.NewManager(lay.LocksDir(), lock.Options{
			Timeout: lockTimeout,
			Expiry:  opts.LockExpiry,
			Clock:   clk,
		}),
		backups: backup.NewManager(lay.BackupsDir(), lay.ManifestPath(), validator, sealer, backup.Options{
			MaxCount: opts.BackupMaxCount,
			Clock:    clk,
		}),
		coord:           txn.NewCoordinator(journal, trail, clk, opts.Logger),
		security:        audit.NewLogger(lay.SecurityAuditLogPath(), audit.Options{Clock: clk}),
		logger:          opts.Logger,
		clk:             clk,
		lockTimeout:     lockTimeout,
		loadLockTimeout: loadTimeout,
		autoReset:       opts.AutoReset,
	}
	return m, nil
}

// GetCurrentState returns the cached state, nil when nothing is loaded.
func (m *Manager) GetCurrentState() *domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.Clone()
}

// ExportState renders the current state as YAML text. The state is
// loaded first when not cached.
func (m *Manager) ExportState(ctx context.Context) (string, error) {
	s, err := m.LoadState(ctx)
	if err != nil {
		return "", err
	}
	raw, err := yaml.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "failed to export state")
	}
	return string(raw), nil
}

// ImportState parses, validates, and persists externally supplied YAML,
// backing up the current state first.
func (m *Manager) ImportState(ctx context.Context, text string) (*domain.State, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.locks.Acquire(ctx, constants.StateLockName, m.lockTimeout); err != nil {
		return nil, m.lockFailure(err)
	}
	defer func() { _ = m.locks.Release(constants.StateLockName) }()

	imported, err := m.validator.Validate([]byte(text))
	if err != nil {
		return nil, err
	}
	if err := schema.VerifyChecksum(imported); err != nil {
		return nil, err
	}

	if m.current != nil {
		if _, err := m.backups.CreateBackup(m.current); err != nil {
			return nil, err
		}
	}

	checksum, err := schema.CalculateChecksum(imported)
	if err != nil {
		return nil, err
	}
	imported.Checksum = checksum
	if err := m.saveStateInternal(imported); err != nil {
		return nil, err
	}
	if _, err := m.backups.CreateBackup(imported); err != nil {
		return nil, err
	}

	m.current = imported
	return imported.Clone(), nil
}

// ArchiveState writes the current state to a manual archive and
// re-initializes a fresh document.
func (m *Manager) ArchiveState(ctx context.Context) error {
	if err := ctxutil.Canceled(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.locks.Acquire(ctx, constants.StateLockName, m.lockTimeout); err != nil {
		return m.lockFailure(err)
	}
	defer func() { _ = m.locks.Release(constants.StateLockName) }()

	if m.current == nil {
		loaded, err := m.loadStateLocked(ctx)
		if err != nil {
			return err
		}
		m.current = loaded
	}

	filename, err := m.backups.WriteArchive(m.current)
	if err != nil {
		return err
	}
	m.logger.Info().Str("archive", filename).Msg("state archived")

	_, err = m.initializeStateLocked(ctx)
	return err
}

// Cleanup rolls back active transactions, flushes the security log, and
// releases any locks this process holds. Call on shutdown paths.
func (m *Manager) Cleanup() {
	m.coord.Cleanup()
	m.locks.ReleaseAll()
	_ = m.security.Flush()
}

// Close releases resources. The security logger stops its flush loop.
func (m *Manager) Close() error {
	m.Cleanup()
	return m.security.Close()
}

// Layout exposes the directory layout (CLI and tests).
func (m *Manager) Layout() *layout.Layout { return m.layout }

// Backups exposes the backup manager (CLI verify).
func (m *Manager) Backups() *backup.Manager { return m.backups }

// SecurityAudit exposes the security audit logger (CLI status).
func (m *Manager) SecurityAudit() *audit.Logger { return m.security }

// lockFailure records lock acquisition failures in the security audit
// log and normalizes the error.
func (m *Manager) lockFailure(err error) error {
	if errors.Is(err, errors.ErrLockTimeout) {
		_ = m.security.Log(domain.EventLockTimeout, "state lock acquisition timed out", nil)
	} else {
		_ = m.security.Log(domain.EventLockDenied, "state lock denied", map[string]any{"error": err.Error()})
	}
	return err
}
