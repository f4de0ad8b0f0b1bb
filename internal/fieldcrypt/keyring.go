package fieldcrypt

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
)

// MetadataVersion is the current encryption metadata format version.
const MetadataVersion = "1.0"

// Keyring owns the key file and encryption metadata for one base
// directory. The key is loaded or generated once per Keyring; concurrent
// initializations converge to the same key.
type Keyring struct {
	keyPath      string
	metadataPath string

	mu        sync.Mutex
	key       []byte
	encryptor *Encryptor
	metadata  *domain.EncryptionMetadata
}

// NewKeyring creates a Keyring for the given key and metadata paths.
// Nothing is read from disk until first use.
func NewKeyring(keyPath, metadataPath string) *Keyring {
	return &Keyring{keyPath: keyPath, metadataPath: metadataPath}
}

// Encryptor returns the AEAD handle, loading or generating the key on
// first use.
func (k *Keyring) Encryptor() (*Encryptor, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.ensureKeyLocked(); err != nil {
		return nil, err
	}
	return k.encryptor, nil
}

// Metadata returns the current encryption metadata, creating it alongside
// the key if missing.
func (k *Keyring) Metadata() (*domain.EncryptionMetadata, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.ensureKeyLocked(); err != nil {
		return nil, err
	}
	out := *k.metadata
	out.EncryptedFields = append([]string(nil), k.metadata.EncryptedFields...)
	return &out, nil
}

// RecordEncryptedFields merges newly encrypted paths into the metadata
// and persists it.
func (k *Keyring) RecordEncryptedFields(paths []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.ensureKeyLocked(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(k.metadata.EncryptedFields))
	for _, p := range k.metadata.EncryptedFields {
		seen[p] = struct{}{}
	}
	for _, p := range paths {
		if _, ok := seen[p]; !ok {
			k.metadata.EncryptedFields = append(k.metadata.EncryptedFields, p)
			seen[p] = struct{}{}
		}
	}
	return k.writeMetadataLocked()
}

// RotateKey decrypts the document with the current key, generates and
// persists a new key, and re-encrypts with it. decryptFn runs under the
// old key, encryptFn under the new one. A failure at any step leaves the
// prior key file untouched on disk.
func (k *Keyring) RotateKey(decryptFn func(*Encryptor) error, encryptFn func(*Encryptor) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.ensureKeyLocked(); err != nil {
		return err
	}

	if err := decryptFn(k.encryptor); err != nil {
		return errors.Wrap(err, "key rotation: decrypt with current key failed")
	}

	newKey, err := GenerateKey()
	if err != nil {
		return err
	}
	newEnc, err := NewEncryptor(newKey)
	if err != nil {
		return err
	}
	if err := encryptFn(newEnc); err != nil {
		return errors.Wrap(err, "key rotation: encrypt with new key failed")
	}

	// All cryptographic work succeeded; persist the new key last so a
	// failure above never clobbers the old key file.
	if err := k.writeKeyFile(newKey); err != nil {
		return err
	}
	k.key = newKey
	k.encryptor = newEnc
	k.metadata.KeyID = newKeyID()
	k.metadata.RotatedAt = time.Now().UTC().Format(time.RFC3339)
	return k.writeMetadataLocked()
}

// ensureKeyLocked loads the key and metadata from disk, generating both
// when absent. Caller holds k.mu.
func (k *Keyring) ensureKeyLocked() error {
	if k.encryptor != nil {
		return nil
	}

	raw, err := os.ReadFile(k.keyPath) //#nosec G304 -- path is constructed from the validated base
	switch {
	case err == nil:
		key, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if decErr != nil || len(key) != KeySize {
			return errors.Wrapf(errors.ErrInvalidKey, "key file %s", k.keyPath)
		}
		k.key = key
	case os.IsNotExist(err):
		key, genErr := GenerateKey()
		if genErr != nil {
			return genErr
		}
		if writeErr := k.writeKeyFile(key); writeErr != nil {
			return writeErr
		}
		k.key = key
	default:
		return errors.Wrap(err, "failed to read key file")
	}

	enc, err := NewEncryptor(k.key)
	if err != nil {
		return err
	}
	k.encryptor = enc
	return k.loadMetadataLocked()
}

// writeKeyFile writes the base64 key with 0400 permissions, replacing any
// existing file via temp + rename so a crash never leaves a torn key.
func (k *Keyring) writeKeyFile(key []byte) error {
	tmp := k.keyPath + ".tmp"
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(tmp, []byte(encoded), constants.FilePerm); err != nil {
		return errors.Wrap(err, "failed to write key file")
	}
	if err := os.Chmod(tmp, constants.KeyFilePerm); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to chmod key file")
	}
	if err := os.Rename(tmp, k.keyPath); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "failed to install key file")
	}
	return nil
}

func (k *Keyring) loadMetadataLocked() error {
	raw, err := os.ReadFile(k.metadataPath) //#nosec G304 -- path is constructed from the validated base
	switch {
	case err == nil:
		var md domain.EncryptionMetadata
		if err := json.Unmarshal(raw, &md); err != nil {
			return errors.Wrap(err, "failed to parse encryption metadata")
		}
		k.metadata = &md
		return nil
	case os.IsNotExist(err):
		k.metadata = &domain.EncryptionMetadata{
			Version:         MetadataVersion,
			KeyID:           newKeyID(),
			EncryptedFields: []string{},
			CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		}
		return k.writeMetadataLocked()
	default:
		return errors.Wrap(err, "failed to read encryption metadata")
	}
}

func (k *Keyring) writeMetadataLocked() error {
	raw, err := json.MarshalIndent(k.metadata, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode encryption metadata")
	}
	if err := os.WriteFile(k.metadataPath, raw, constants.FilePerm); err != nil {
		return errors.Wrap(err, "failed to write encryption metadata")
	}
	return nil
}

// newKeyID returns a random 8-byte hex key identifier.
func newKeyID() string {
	b := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		// rand.Reader failing is unrecoverable for key generation anyway;
		// a zero id only affects metadata labeling.
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
