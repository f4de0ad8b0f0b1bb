package fieldcrypt_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/statekit/internal/errors"
	"github.com/mrz1836/statekit/internal/fieldcrypt"
)

func newEncryptor(t *testing.T) *fieldcrypt.Encryptor {
	t.Helper()
	key, err := fieldcrypt.GenerateKey()
	require.NoError(t, err)
	enc, err := fieldcrypt.NewEncryptor(key)
	require.NoError(t, err)
	return enc
}

func TestNewEncryptor(t *testing.T) {
	t.Parallel()

	t.Run("rejects short keys", func(t *testing.T) {
		t.Parallel()
		_, err := fieldcrypt.NewEncryptor([]byte("too-short"))
		assert.ErrorIs(t, err, errors.ErrInvalidKey)
	})

	t.Run("accepts 32 byte keys", func(t *testing.T) {
		t.Parallel()
		key, err := fieldcrypt.GenerateKey()
		require.NoError(t, err)
		require.Len(t, key, fieldcrypt.KeySize)
		_, err = fieldcrypt.NewEncryptor(key)
		assert.NoError(t, err)
	})
}

func TestEncryptDecryptValue(t *testing.T) {
	t.Parallel()

	t.Run("round trips arbitrary values", func(t *testing.T) {
		t.Parallel()
		enc := newEncryptor(t)
		values := []any{
			"a plain string",
			map[string]any{"user": "svc", "token": "abc123"},
			[]any{"one", "two"},
			float64(42),
			true,
			nil,
		}
		for _, v := range values {
			env, err := enc.EncryptValue(v)
			require.NoError(t, err)
			assert.True(t, env.Encrypted)
			assert.Equal(t, fieldcrypt.Algorithm, env.Algorithm)

			got, err := enc.DecryptValue(env)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})

	t.Run("uses a fresh iv per operation", func(t *testing.T) {
		t.Parallel()
		enc := newEncryptor(t)
		a, err := enc.EncryptValue("same value")
		require.NoError(t, err)
		b, err := enc.EncryptValue("same value")
		require.NoError(t, err)
		assert.NotEqual(t, a.IV, b.IV)
		assert.NotEqual(t, a.Data, b.Data)
	})

	t.Run("iv and tag are 16 bytes", func(t *testing.T) {
		t.Parallel()
		enc := newEncryptor(t)
		env, err := enc.EncryptValue("x")
		require.NoError(t, err)
		iv, err := base64.StdEncoding.DecodeString(env.IV)
		require.NoError(t, err)
		tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
		require.NoError(t, err)
		assert.Len(t, iv, fieldcrypt.IVSize)
		assert.Len(t, tag, fieldcrypt.TagSize)
	})

	t.Run("tampered ciphertext fails authentication", func(t *testing.T) {
		t.Parallel()
		enc := newEncryptor(t)
		env, err := enc.EncryptValue("attack at dawn")
		require.NoError(t, err)

		ct, err := base64.StdEncoding.DecodeString(env.Data)
		require.NoError(t, err)
		ct[0] ^= 0xff
		env.Data = base64.StdEncoding.EncodeToString(ct)

		_, err = enc.DecryptValue(env)
		assert.ErrorIs(t, err, errors.ErrDecryptionFailed)
	})

	t.Run("wrong key fails authentication", func(t *testing.T) {
		t.Parallel()
		enc := newEncryptor(t)
		other := newEncryptor(t)
		env, err := enc.EncryptValue("secret payload")
		require.NoError(t, err)
		_, err = other.DecryptValue(env)
		assert.ErrorIs(t, err, errors.ErrDecryptionFailed)
	})

	t.Run("rejects malformed envelopes", func(t *testing.T) {
		t.Parallel()
		enc := newEncryptor(t)
		_, err := enc.DecryptValue(&fieldcrypt.Envelope{Encrypted: true, Algorithm: "rot13"})
		assert.ErrorIs(t, err, errors.ErrInvalidEnvelope)
	})
}
