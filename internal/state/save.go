package state

import (
	"context"
	"os"

	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/ctxutil"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/schema"
	"github.com/mrz1836/statekit/internal/secrets"
)

// SaveState persists the given state through a transaction: BEGIN over
// the current document, journal the save, validate, then commit with an
// atomic write and a fresh snapshot. Any failure rolls the transaction
// back and surfaces the cause.
func (m *Manager) SaveState(ctx context.Context, s *domain.State) error {
	if err := ctxutil.Canceled(ctx); err != nil {
		return err
	}
	if s == nil {
		return errors.Wrap(errors.ErrEmptyValue, "state")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.locks.Acquire(ctx, constants.StateLockName, m.lockTimeout); err != nil {
		return m.lockFailure(err)
	}
	defer func() { _ = m.locks.Release(constants.StateLockName) }()

	return m.saveStateTx(ctx, s)
}

// saveStateTx runs the transactional save. Caller holds both locks.
func (m *Manager) saveStateTx(ctx context.Context, s *domain.State) error {
	base := m.current
	if base == nil {
		base = s
	}

	txID, err := m.coord.Begin(base)
	if err != nil {
		return err
	}
	if err := m.coord.AddOperation(ctx, txID, "SAVE", "/", s); err != nil {
		if _, rbErr := m.coord.Rollback(txID); rbErr != nil {
			m.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	ok := m.coord.Validate(txID, func(_ *domain.State, _ []domain.TxOperation) (bool, error) {
		if err := m.validator.ValidateState(s); err != nil {
			return false, err
		}
		return true, nil
	})
	if !ok {
		if _, rbErr := m.coord.Rollback(txID); rbErr != nil {
			m.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return errors.Wrap(errors.ErrValidationFailed, "save rejected")
	}

	committed, err := m.coord.Commit(txID, func(_ []domain.TxOperation) (*domain.State, error) {
		checksum, csErr := schema.CalculateChecksum(s)
		if csErr != nil {
			return nil, csErr
		}
		s.Checksum = checksum
		if saveErr := m.saveStateInternal(s); saveErr != nil {
			return nil, saveErr
		}
		if _, backupErr := m.backups.CreateBackup(s); backupErr != nil {
			return nil, backupErr
		}
		_ = m.security.Log(domain.EventBackupCreated, "snapshot created", nil)
		return s, nil
	})
	if err != nil {
		return err
	}

	// Cache a private copy so later caller mutations of s cannot reach it.
	m.current = committed.Clone()
	return nil
}

// UpdateState loads (or reuses) the current state, hands a deep clone to
// the updater, and saves the result.
func (m *Manager) UpdateState(ctx context.Context, updater func(*domain.State) error) (*domain.State, error) {
	s, err := m.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if err := updater(s); err != nil {
		return nil, errors.Wrap(err, "state updater failed")
	}
	if err := m.SaveState(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// saveStateInternal performs the atomic write sequence: encrypt
// sensitive fields, serialize, refuse plaintext credentials, write a
// temp file, verify it by reading back, then rename over the state file.
func (m *Manager) saveStateInternal(s *domain.State) error {
	raw, encryptedPaths, err := m.sealer.Seal(s)
	if err != nil {
		_ = m.security.Log(domain.EventEncryptionFailure, "field encryption failed", nil)
		return err
	}
	if len(encryptedPaths) > 0 {
		if err := m.keyring.RecordEncryptedFields(encryptedPaths); err != nil {
			return err
		}
		_ = m.coord.Trail().Record("ENCRYPT", "", map[string]any{"fields": len(encryptedPaths)})
		_ = m.security.Log(domain.EventEncryptionSuccess, "sensitive fields encrypted",
			map[string]any{"count": len(encryptedPaths)})
	}

	// Hard bar: plaintext credentials never reach disk.
	if findings := secrets.Scan(string(raw)); len(findings) > 0 {
		redacted := secrets.RedactFindings(findings)
		details := make([]map[string]any, 0, len(redacted))
		for _, f := range redacted {
			details = append(details, map[string]any{
				"type": f.Type, "match": f.Match, "line": f.Line, "column": f.Column,
			})
		}
		_ = m.security.Log(domain.EventSecretsDetected, "refusing to persist plaintext credentials",
			map[string]any{"findings": details})
		return errors.Wrapf(errors.ErrSecretsDetected, "%d finding(s)", len(findings))
	}

	tmpPath := m.layout.StateTempPath()
	if err := writeFileSync(tmpPath, raw); err != nil {
		return errors.Wrap(errors.ErrWriteFailed, err.Error())
	}

	// Read-back verification: the temp file must parse and carry the
	// checksum we intend to publish.
	written, err := os.ReadFile(tmpPath) //#nosec G304 -- path constructed from the validated base
	if err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(errors.ErrWriteFailed, err.Error())
	}
	verified, err := m.sealer.Open(written)
	if err != nil || verified.Checksum != s.Checksum {
		_ = os.Remove(tmpPath)
		return errors.Wrap(errors.ErrWriteFailed, "write verification mismatch")
	}

	statePath := m.layout.StatePath()
	if err := os.Remove(statePath); err != nil && !os.IsNotExist(err) {
		_ = os.Remove(tmpPath)
		return errors.Wrap(errors.ErrWriteFailed, err.Error())
	}
	if err := os.Rename(tmpPath, statePath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(errors.ErrWriteFailed, err.Error())
	}

	_ = m.security.Log(domain.EventStateWrite, "state written",
		map[string]any{"checksum": s.Checksum})
	_ = m.coord.Trail().Record("STATE_WRITE", "", map[string]any{"checksum": s.Checksum})
	return nil
}

// writeFileSync writes data and fsyncs before closing, so the bytes are
// durable prior to the rename that publishes them.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, constants.FilePerm) //#nosec G304 -- path constructed from the validated base
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
