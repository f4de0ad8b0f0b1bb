package config

import (
	"time"

	"github.com/mrz1836/statekit/internal/errors"
)

// Bounds for tunable values.
const (
	// MinLockTimeout is the smallest usable acquisition deadline.
	MinLockTimeout = 100 * time.Millisecond

	// MaxLockExpiry bounds how long a dead process can wedge the lock.
	MaxLockExpiry = 10 * time.Minute

	// MinWALRateLimit keeps the engine usable under the rate limiter.
	MinWALRateLimit = 1
)

// Validate checks the configuration for invalid or inconsistent values.
// It returns an error describing the first validation failure found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.Wrap(errors.ErrConfigInvalid, "config is nil")
	}
	if cfg.BaseDir == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "base_dir must not be empty")
	}

	if cfg.Lock.Timeout < MinLockTimeout {
		return errors.Wrapf(errors.ErrConfigInvalid, "lock.timeout must be at least %s", MinLockTimeout)
	}
	if cfg.Lock.LoadTimeout < cfg.Lock.Timeout {
		return errors.Wrap(errors.ErrConfigInvalid, "lock.load_timeout must not be below lock.timeout")
	}
	if cfg.Lock.RetryInterval <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "lock.retry_interval must be positive")
	}
	if cfg.Lock.Expiry <= 0 || cfg.Lock.Expiry > MaxLockExpiry {
		return errors.Wrapf(errors.ErrConfigInvalid, "lock.expiry must be in (0, %s]", MaxLockExpiry)
	}

	if cfg.WAL.RateLimit < MinWALRateLimit {
		return errors.Wrap(errors.ErrConfigInvalid, "wal.rate_limit must be positive")
	}
	if cfg.WAL.RateWindow <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "wal.rate_window must be positive")
	}
	if cfg.WAL.MaxSize <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "wal.max_size must be positive")
	}

	if cfg.Backup.MaxCount <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "backup.max_count must be positive")
	}
	if cfg.Backup.MaxAge < 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "backup.max_age must not be negative")
	}

	if cfg.Audit.FlushInterval <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "audit.flush_interval must be positive")
	}
	if cfg.Audit.MaxSizeMB <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "audit.max_size_mb must be positive")
	}
	if cfg.Audit.MaxBackups <= 0 {
		return errors.Wrap(errors.ErrConfigInvalid, "audit.max_backups must be positive")
	}

	return nil
}
