package state

import (
	"context"
	"os"

	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/ctxutil"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/fieldcrypt"
)

// RotateKey re-encrypts the state under a freshly generated key. The
// prior key file is left untouched until both the decryption pass with
// the old key and the encryption pass with the new key have succeeded.
func (m *Manager) RotateKey(ctx context.Context) error {
	if err := ctxutil.Canceled(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.locks.Acquire(ctx, constants.StateLockName, m.lockTimeout); err != nil {
		return m.lockFailure(err)
	}
	defer func() { _ = m.locks.Release(constants.StateLockName) }()

	raw, err := os.ReadFile(m.layout.StatePath()) //#nosec G304 -- path constructed from the validated base
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(errors.ErrNoState, "nothing to rotate")
		}
		return errors.Wrap(err, "failed to read state file")
	}

	var plain *domain.State
	err = m.keyring.RotateKey(
		func(old *fieldcrypt.Encryptor) error {
			parsed, parseErr := fieldcrypt.OpenWith(old, raw)
			if parseErr != nil {
				return parseErr
			}
			plain = parsed
			return nil
		},
		func(next *fieldcrypt.Encryptor) error {
			encrypted, _, serErr := fieldcrypt.SealWith(next, plain)
			if serErr != nil {
				return serErr
			}
			tmp := m.layout.StateTempPath()
			if writeErr := writeFileSync(tmp, encrypted); writeErr != nil {
				return writeErr
			}
			if rmErr := os.Remove(m.layout.StatePath()); rmErr != nil && !os.IsNotExist(rmErr) {
				_ = os.Remove(tmp)
				return rmErr
			}
			return os.Rename(tmp, m.layout.StatePath())
		},
	)
	if err != nil {
		_ = m.security.Log(domain.EventEncryptionFailure, "key rotation failed",
			map[string]any{"error": err.Error()})
		return err
	}

	m.current = plain
	_ = m.security.Log(domain.EventKeyRotation, "encryption key rotated", nil)
	m.logger.Info().Msg("encryption key rotated")
	return nil
}
