package config

import (
	"github.com/mrz1836/statekit/internal/constants"
)

// DefaultConfig returns a new Config with the engine's default values.
// These defaults are the base layer overridden by config files and
// environment variables.
func DefaultConfig() *Config {
	return &Config{
		BaseDir: constants.DefaultBaseDir,
		Lock: LockConfig{
			Timeout:       constants.DefaultLockTimeout,
			LoadTimeout:   constants.LoadLockTimeout,
			RetryInterval: constants.LockRetryInterval,
			Expiry:        constants.LockExpiry,
		},
		WAL: WALConfig{
			RateLimit:  constants.WALRateLimit,
			RateWindow: constants.WALRateWindow,
			MaxSize:    constants.WALMaxSize,
		},
		Backup: BackupConfig{
			MaxCount: constants.DefaultBackupMaxCount,
		},
		Audit: AuditConfig{
			FlushInterval: constants.SecurityAuditFlushInterval,
			MaxSizeMB:     constants.SecurityAuditMaxSizeMB,
			MaxBackups:    constants.SecurityAuditMaxBackups,
		},
		Recovery: RecoveryConfig{
			AutoReset: false,
		},
	}
}
