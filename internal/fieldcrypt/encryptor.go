// Package fieldcrypt provides authenticated encryption of designated
// state document paths. Values at sensitive paths are replaced on disk
// by envelopes carrying AES-256-GCM ciphertext of their JSON encoding.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/mrz1836/statekit/internal/errors"
)

// AEAD parameters. The IV is 16 bytes (GCM with an extended nonce size)
// and the auth tag is the standard 16 bytes, stored separately from the
// ciphertext in the envelope.
const (
	KeySize   = 32
	IVSize    = 16
	TagSize   = 16
	Algorithm = "aes-256-gcm"
)

// Envelope is the on-disk representation of an encrypted value.
type Envelope struct {
	Encrypted bool   `yaml:"encrypted" json:"encrypted"`
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	IV        string `yaml:"iv" json:"iv"`
	AuthTag   string `yaml:"authTag" json:"authTag"`
	Data      string `yaml:"data" json:"data"`
}

// Encryptor performs AEAD operations with a fixed key.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor for the given 256-bit key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, errors.Wrapf(errors.ErrInvalidKey, "expected %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM")
	}
	return &Encryptor{aead: aead}, nil
}

// EncryptValue encrypts any JSON-encodable value into an envelope.
// The value is encoded as JSON text and the UTF-8 bytes are sealed.
func (e *Encryptor) EncryptValue(value any) (*Envelope, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(errors.ErrEncryptionFailed, err.Error())
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, errors.Wrap(errors.ErrEncryptionFailed, err.Error())
	}

	// Seal appends the tag to the ciphertext; the envelope stores it apart.
	sealed := e.aead.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	return &Envelope{
		Encrypted: true,
		Algorithm: Algorithm,
		IV:        base64.StdEncoding.EncodeToString(iv),
		AuthTag:   base64.StdEncoding.EncodeToString(tag),
		Data:      base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// DecryptValue opens an envelope and decodes the JSON plaintext back
// into a value. Tampered ciphertext fails authentication.
func (e *Encryptor) DecryptValue(env *Envelope) (any, error) {
	if env == nil || !env.Encrypted || env.Algorithm != Algorithm {
		return nil, errors.ErrInvalidEnvelope
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != IVSize {
		return nil, errors.Wrap(errors.ErrInvalidEnvelope, "bad iv")
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil || len(tag) != TagSize {
		return nil, errors.Wrap(errors.ErrInvalidEnvelope, "bad auth tag")
	}
	ct, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidEnvelope, "bad ciphertext")
	}

	plaintext, err := e.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDecryptionFailed, err.Error())
	}

	var value any
	if err := json.Unmarshal(plaintext, &value); err != nil {
		return nil, errors.Wrap(errors.ErrDecryptionFailed, err.Error())
	}
	return value, nil
}

// GenerateKey produces a random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}
	return key, nil
}
