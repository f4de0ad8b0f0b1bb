package fieldcrypt_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/statekit/internal/fieldcrypt"
	"github.com/mrz1836/statekit/internal/testutil"
)

func newKeyring(t *testing.T) (*fieldcrypt.Keyring, string, string) {
	t.Helper()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, ".encryption-key")
	metaPath := filepath.Join(dir, ".encryption-metadata.json")
	return fieldcrypt.NewKeyring(keyPath, metaPath), keyPath, metaPath
}

func TestKeyring(t *testing.T) {
	t.Parallel()

	t.Run("generates a key file on first use", func(t *testing.T) {
		t.Parallel()
		k, keyPath, metaPath := newKeyring(t)

		_, err := k.Encryptor()
		require.NoError(t, err)

		raw, err := os.ReadFile(keyPath)
		require.NoError(t, err)
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		require.NoError(t, err)
		assert.Len(t, key, fieldcrypt.KeySize)

		if runtime.GOOS != "windows" {
			info, err := os.Stat(keyPath)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o400), info.Mode().Perm())
		}

		_, err = os.Stat(metaPath)
		assert.NoError(t, err)
	})

	t.Run("reloads the same key", func(t *testing.T) {
		t.Parallel()
		k, keyPath, metaPath := newKeyring(t)
		enc, err := k.Encryptor()
		require.NoError(t, err)
		env, err := enc.EncryptValue("stable")
		require.NoError(t, err)

		// A second keyring over the same files must converge to the same key.
		k2 := fieldcrypt.NewKeyring(keyPath, metaPath)
		enc2, err := k2.Encryptor()
		require.NoError(t, err)
		got, err := enc2.DecryptValue(env)
		require.NoError(t, err)
		assert.Equal(t, "stable", got)
	})

	t.Run("records encrypted fields idempotently", func(t *testing.T) {
		t.Parallel()
		k, _, _ := newKeyring(t)
		require.NoError(t, k.RecordEncryptedFields([]string{"config.apiKey", "activeInstance.tokens"}))
		require.NoError(t, k.RecordEncryptedFields([]string{"config.apiKey"}))

		md, err := k.Metadata()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"config.apiKey", "activeInstance.tokens"}, md.EncryptedFields)
		assert.Len(t, md.KeyID, 16)
	})

	t.Run("rotation swaps the key and stamps metadata", func(t *testing.T) {
		t.Parallel()
		k, keyPath, _ := newKeyring(t)
		_, err := k.Encryptor()
		require.NoError(t, err)
		before, err := os.ReadFile(keyPath)
		require.NoError(t, err)
		mdBefore, err := k.Metadata()
		require.NoError(t, err)

		var sealed *fieldcrypt.Envelope
		err = k.RotateKey(
			func(_ *fieldcrypt.Encryptor) error { return nil },
			func(next *fieldcrypt.Encryptor) error {
				var encErr error
				sealed, encErr = next.EncryptValue("rotated")
				return encErr
			},
		)
		require.NoError(t, err)

		after, err := os.ReadFile(keyPath)
		require.NoError(t, err)
		assert.NotEqual(t, before, after)

		mdAfter, err := k.Metadata()
		require.NoError(t, err)
		assert.NotEqual(t, mdBefore.KeyID, mdAfter.KeyID)
		assert.NotEmpty(t, mdAfter.RotatedAt)

		// The active encryptor now holds the new key.
		enc, err := k.Encryptor()
		require.NoError(t, err)
		got, err := enc.DecryptValue(sealed)
		require.NoError(t, err)
		assert.Equal(t, "rotated", got)
	})

	t.Run("failed rotation leaves the key file untouched", func(t *testing.T) {
		t.Parallel()
		k, keyPath, _ := newKeyring(t)
		_, err := k.Encryptor()
		require.NoError(t, err)
		before, err := os.ReadFile(keyPath)
		require.NoError(t, err)

		err = k.RotateKey(
			func(_ *fieldcrypt.Encryptor) error { return nil },
			func(_ *fieldcrypt.Encryptor) error { return testutil.ErrMockApplyFailed },
		)
		require.Error(t, err)

		after, err := os.ReadFile(keyPath)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}
