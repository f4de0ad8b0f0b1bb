package domain

// LockFileVersion is the current lock file format version.
const LockFileVersion = "1.0"

// LockMetadata identifies the process that owns a lock.
type LockMetadata struct {
	PID      int    `yaml:"pid"`
	PPID     int    `yaml:"ppid,omitempty"`
	Hostname string `yaml:"hostname"`
	User     string `yaml:"user"`
}

// LockTiming carries the acquisition and expiry timestamps of a lock.
// Times are milliseconds since the Unix epoch.
type LockTiming struct {
	AcquiredAt int64 `yaml:"acquiredAt"`
	ExpiresAt  int64 `yaml:"expiresAt"`
	RenewedAt  int64 `yaml:"renewedAt,omitempty"`
}

// LockOperation describes what the lock holder is doing, for diagnostics.
type LockOperation struct {
	Type       string `yaml:"type"`
	StackTrace string `yaml:"stackTrace,omitempty"`
}

// LockWaiter records one process waiting on the lock.
type LockWaiter struct {
	PID   int   `yaml:"pid"`
	Since int64 `yaml:"since"`
}

// LockConcurrency tracks processes queued behind the current holder.
type LockConcurrency struct {
	WaitingProcesses []LockWaiter `yaml:"waitingProcesses"`
}

// LockFile is the YAML document stored at <base>/.locks/<name>.lock.
// The lockId is the authority for ownership: a writer confirms its
// acquisition by reading the file back and comparing lock ids.
type LockFile struct {
	Version     string          `yaml:"version"`
	LockID      string          `yaml:"lockId"`
	Metadata    LockMetadata    `yaml:"metadata"`
	Timing      LockTiming      `yaml:"timing"`
	Operation   LockOperation   `yaml:"operation"`
	Concurrency LockConcurrency `yaml:"concurrency"`
}
