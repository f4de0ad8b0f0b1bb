// Package constants provides centralized constant values used throughout statekit.
// This package is the single source of truth for all shared constants and MUST NOT
// import any other internal packages.
package constants

import "time"

// File names used by statekit for state persistence.
const (
	// StateFileName is the name of the YAML file that stores the checklist state document.
	StateFileName = "state.yaml"

	// StateTempSuffix is appended to StateFileName while an atomic save is in flight.
	StateTempSuffix = ".tmp"

	// ManifestFileName is the name of the backup manifest inside the backups directory.
	ManifestFileName = "manifest.yaml"

	// WALFileName is the name of the write-ahead log file.
	WALFileName = "wal.log"

	// AuditLogFileName is the name of the transaction audit log.
	AuditLogFileName = "audit.log"

	// SecurityAuditLogFileName is the name of the security audit log.
	SecurityAuditLogFileName = "security-audit.log"

	// EncryptionKeyFileName holds the base64-encoded 256-bit encryption key.
	EncryptionKeyFileName = ".encryption-key"

	// EncryptionMetadataFileName tracks the active key id and encrypted field paths.
	EncryptionMetadataFileName = ".encryption-metadata.json"

	// EngineLogFileName is the global rotating log file for engine operations.
	EngineLogFileName = "statekit.log"
)

// Directory names used by statekit for organizing data under the base directory.
const (
	// DefaultBaseDir is the hidden directory name where statekit stores all its data.
	// Created relative to the working directory unless overridden by config.
	DefaultBaseDir = ".checklist"

	// BackupsDir is the directory name where rotated state snapshots are stored.
	BackupsDir = "backups"

	// LocksDir is the directory name where advisory lock files live.
	LocksDir = ".locks"

	// CacheDir is the directory name for derived, disposable files.
	CacheDir = ".cache"

	// LogsDir is the directory name where log files are stored.
	LogsDir = "logs"

	// WALDir is the directory name containing the write-ahead log.
	WALDir = ".wal"
)

// Directory and file permission constants.
const (
	// DirPerm is the permission mode for directories created under the base.
	DirPerm = 0o755

	// FilePerm is the permission mode for regular data files.
	FilePerm = 0o600

	// KeyFilePerm is the permission mode for the encryption key file (read-only, owner).
	KeyFilePerm = 0o400
)

// Lock manager defaults.
const (
	// DefaultLockTimeout is the maximum duration to wait for acquiring the state lock.
	DefaultLockTimeout = 5 * time.Second

	// LoadLockTimeout is the lock acquisition timeout used by loadState, which may
	// need to wait out a WAL recovery in another process.
	LoadLockTimeout = 10 * time.Second

	// LockRetryInterval is the sleep between lock acquisition attempts.
	LockRetryInterval = 100 * time.Millisecond

	// LockExpiry is how long a held lock remains valid without a heartbeat renewal.
	LockExpiry = 30 * time.Second

	// StateLockName is the well-known name of the lock guarding the state document.
	StateLockName = "state"
)

// Write-ahead log defaults.
const (
	// WALMaxSize is the size at which the WAL is rotated (backup then clear).
	WALMaxSize = 10 * 1024 * 1024

	// WALRateLimit is the default number of appends allowed per WALRateWindow.
	WALRateLimit = 100

	// WALRateWindow is the rolling window for the WAL append rate limit.
	WALRateWindow = time.Second

	// WALTestModeRateLimit raises the append limit when test mode is enabled.
	WALTestModeRateLimit = 10000
)

// Backup manager defaults.
const (
	// DefaultBackupMaxCount is the number of rotated snapshots retained.
	DefaultBackupMaxCount = 3

	// ManifestVersion is the current backup manifest format version.
	ManifestVersion = "1.0"
)

// Audit log defaults.
const (
	// AuditLogMaxSize is the size at which audit logs rotate.
	AuditLogMaxSize = 10 * 1024 * 1024

	// SecurityAuditMaxSizeMB is the rotation threshold for the security audit log,
	// in megabytes (lumberjack units).
	SecurityAuditMaxSizeMB = 10

	// SecurityAuditMaxBackups is the number of rolled security audit files retained.
	SecurityAuditMaxBackups = 5

	// SecurityAuditFlushInterval is how often buffered security events are flushed.
	SecurityAuditFlushInterval = time.Second
)

// Engine log rotation settings (lumberjack units where applicable).
const (
	// LogMaxSizeMB is the maximum size of the engine log before rotation.
	LogMaxSizeMB = 10

	// LogMaxBackups is the number of rotated engine log files retained.
	LogMaxBackups = 3

	// LogMaxAgeDays is the maximum age of rotated engine log files.
	LogMaxAgeDays = 28

	// LogCompress controls gzip compression of rotated engine logs.
	LogCompress = true
)

// Schema versioning.
const (
	// SchemaVersion is the schema version written to newly created state documents.
	SchemaVersion = "1.0.0"

	// ZeroChecksum is the sentinel digest carried by freshly initialized documents.
	// Verification is skipped while the stored checksum equals this value.
	ZeroChecksum = "sha256:0000000000000000000000000000000000000000000000000000000000000000"
)

// Configuration file names.
const (
	// GlobalConfigName is the name of the global statekit configuration file,
	// located in the statekit home directory.
	GlobalConfigName = "config.yaml"

	// ProjectConfigName is the name of the project-local configuration file.
	ProjectConfigName = ".statekit.yaml"

	// EnvPrefix is the prefix for statekit environment variables.
	EnvPrefix = "STATEKIT"

	// TestModeEnv enables test mode (raised WAL rate limits) when set to a
	// truthy value.
	TestModeEnv = "STATEKIT_TEST_MODE"
)
