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

// InitializeState creates the directory layout and a fresh state
// document, recovering any interrupted transaction first.
func (m *Manager) InitializeState(ctx context.Context) (*domain.State, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.locks.Acquire(ctx, constants.StateLockName, m.lockTimeout); err != nil {
		return nil, m.lockFailure(err)
	}
	defer func() { _ = m.locks.Release(constants.StateLockName) }()

	return m.initializeStateLocked(ctx)
}

// initializeStateLocked does the work of InitializeState. Caller holds
// both the in-process mutex and the state lock.
func (m *Manager) initializeStateLocked(ctx context.Context) (*domain.State, error) {
	if err := m.layout.Initialize(); err != nil {
		return nil, err
	}

	if m.coord.HasIncompleteTransactions() {
		if _, err := m.recoverFromWALLocked(ctx); err != nil {
			return nil, err
		}
	}

	doc := domain.NewState()
	checksum, err := schema.CalculateChecksum(doc)
	if err != nil {
		return nil, err
	}
	doc.Checksum = checksum

	if err := m.saveStateInternal(doc); err != nil {
		return nil, err
	}
	if err := m.backups.InitializeManifest(); err != nil {
		return nil, err
	}

	m.current = doc
	m.logger.Info().Str("base", m.layout.Base()).Msg("state initialized")
	return doc.Clone(), nil
}

// LoadState reads, decrypts, validates, and caches the state document.
// Corruption triggers backup recovery; an unsupported but migratable
// schema version triggers migration.
func (m *Manager) LoadState(ctx context.Context) (*domain.State, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.current.Clone(), nil
	}

	if err := m.locks.Acquire(ctx, constants.StateLockName, m.loadLockTimeout); err != nil {
		return nil, m.lockFailure(err)
	}
	defer func() { _ = m.locks.Release(constants.StateLockName) }()

	loaded, err := m.loadStateLocked(ctx)
	if err != nil {
		return nil, err
	}
	m.current = loaded
	return loaded.Clone(), nil
}

// loadStateLocked does the work of LoadState. Caller holds both locks.
func (m *Manager) loadStateLocked(ctx context.Context) (*domain.State, error) {
	if m.coord.HasIncompleteTransactions() {
		if _, err := m.recoverFromWALLocked(ctx); err != nil {
			return nil, err
		}
	}

	raw, err := os.ReadFile(m.layout.StatePath()) //#nosec G304 -- path constructed from the validated base
	if err != nil {
		if os.IsNotExist(err) {
			return m.initializeStateLocked(ctx)
		}
		return nil, errors.Wrap(err, "failed to read state file")
	}

	// Plaintext credentials inside the stored file are a warning on load;
	// the save path is the hard gate.
	if findings := secrets.Scan(string(raw)); len(findings) > 0 {
		m.logger.Warn().Int("findings", len(findings)).Msg("credential-shaped tokens present in state file")
		_ = m.security.Log(domain.EventSuspicious, "credential-shaped tokens present in state file",
			map[string]any{"findings": len(findings)})
	}

	parsed, err := m.sealer.Open(raw)
	if err != nil {
		if errors.Is(err, errors.ErrStateCorrupted) {
			return m.handleCorruptedState(err)
		}
		if errors.Is(err, errors.ErrDecryptionFailed) || errors.Is(err, errors.ErrInvalidEnvelope) {
			_ = m.security.Log(domain.EventDecryptionFailure, "failed to decrypt state fields", nil)
			return m.handleCorruptedState(errors.NewCorruptionError(errors.CorruptionParse, err))
		}
		return nil, err
	}

	if err := m.validator.ValidateState(parsed); err != nil {
		return m.handleCorruptedState(err)
	}
	if err := schema.VerifyChecksum(parsed); err != nil {
		return m.handleCorruptedState(err)
	}

	if !schema.IsValidSchemaVersion(parsed.SchemaVersion, supportedVersions) {
		if !schema.CanMigrate(parsed.SchemaVersion, constants.SchemaVersion) {
			return nil, errors.Wrapf(errors.ErrSchemaVersionMismatch,
				"version %s cannot migrate to %s", parsed.SchemaVersion, constants.SchemaVersion)
		}
		migrated, err := m.migrateState(parsed)
		if err != nil {
			return nil, err
		}
		parsed = migrated
	}

	_ = m.security.Log(domain.EventStateRead, "state loaded", nil)
	return parsed, nil
}

// handleCorruptedState attempts backup recovery, stamping the recovery
// section on success. When every backup fails, a configured auto-reset
// rebuilds a fresh document with dataLoss recorded; otherwise the
// recovery failure is surfaced.
func (m *Manager) handleCorruptedState(cause error) (*domain.State, error) {
	kind := corruptionKind(cause)
	m.logger.Error().Err(cause).Str("kind", string(kind)).Msg("state corrupted")
	_ = m.security.Log(domain.EventRecoveryAttempt, "attempting backup recovery",
		map[string]any{"corruptionType": string(kind)})

	now := m.clk.Now().UTC()
	recovered, err := m.backups.RecoverFromLatestBackup()
	if err == nil {
		recovered.Recovery.LastCorruption = &now
		recovered.Recovery.CorruptionType = constants.CorruptionType(kind)
		recovered.Recovery.RecoveryMethod = constants.RecoveryMethodBackup
		recovered.Recovery.DataLoss = false
		if persistErr := m.persistRecovered(recovered); persistErr != nil {
			return nil, persistErr
		}
		m.logger.Info().Msg("state recovered from backup")
		return recovered, nil
	}

	if !m.autoReset {
		return nil, err
	}

	reset := domain.NewState()
	reset.Recovery.LastCorruption = &now
	reset.Recovery.CorruptionType = constants.CorruptionType(kind)
	reset.Recovery.RecoveryMethod = constants.RecoveryMethodReset
	reset.Recovery.DataLoss = true
	if persistErr := m.persistRecovered(reset); persistErr != nil {
		return nil, persistErr
	}
	m.logger.Warn().Msg("state reset after unrecoverable corruption")
	return reset, nil
}

// persistRecovered recomputes the checksum and writes a recovered or
// reset document, snapshotting it afterwards.
func (m *Manager) persistRecovered(s *domain.State) error {
	checksum, err := schema.CalculateChecksum(s)
	if err != nil {
		return err
	}
	s.Checksum = checksum
	if err := m.saveStateInternal(s); err != nil {
		return err
	}
	_, err = m.backups.CreateBackup(s)
	return err
}

// migrateState copies the document onto the current schema version and
// persists it. Value-level migrations belong to the migration runner.
func (m *Manager) migrateState(old *domain.State) (*domain.State, error) {
	migrated := old.Clone()
	migrated.SchemaVersion = constants.SchemaVersion
	checksum, err := schema.CalculateChecksum(migrated)
	if err != nil {
		return nil, err
	}
	migrated.Checksum = checksum
	if err := m.saveStateInternal(migrated); err != nil {
		return nil, err
	}
	m.logger.Info().
		Str("from", old.SchemaVersion).
		Str("to", migrated.SchemaVersion).
		Msg("state migrated")
	return migrated, nil
}

// recoverFromWALLocked replays journaled operations into a pending
// document and persists the result, stamping the recovery section.
func (m *Manager) recoverFromWALLocked(_ context.Context) (int, error) {
	pending := m.current
	if pending == nil {
		if raw, err := os.ReadFile(m.layout.StatePath()); err == nil { //#nosec G304 -- path constructed from the validated base
			if parsed, parseErr := m.sealer.Open(raw); parseErr == nil {
				pending = parsed
			}
		}
	}
	if pending == nil {
		pending = domain.NewState()
	}

	count, err := m.coord.RecoverFromWAL(func(entry domain.WALEntry) error {
		next, applyErr := applyWALEntry(pending, entry)
		if applyErr != nil {
			return applyErr
		}
		pending = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	now := m.clk.Now().UTC()
	pending.Recovery.LastWALRecovery = &now
	pending.Recovery.RecoveredOperations = count
	if err := m.persistRecovered(pending); err != nil {
		return count, err
	}
	m.current = pending
	return count, nil
}

// applyWALEntry applies one journaled operation. A write to the root key
// replaces the whole document; other keys address dot-notation paths
// inside it.
func applyWALEntry(current *domain.State, entry domain.WALEntry) (*domain.State, error) {
	if entry.Key == "/" || entry.Key == "" {
		if entry.Op == domain.WALOpDelete {
			return domain.NewState(), nil
		}
		return stateFromWALValue(entry.Value)
	}

	doc, err := domain.ToDocument(current)
	if err != nil {
		return nil, err
	}
	if entry.Op == domain.WALOpDelete {
		deletePath(doc, entry.Key)
	} else {
		setPath(doc, entry.Key, entry.Value)
	}
	return domain.FromDocument(doc)
}

// corruptionKind extracts the corruption kind from an error chain.
func corruptionKind(err error) errors.CorruptionKind {
	var ce *errors.CorruptionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return errors.CorruptionParse
}
