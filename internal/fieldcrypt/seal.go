package fieldcrypt

import (
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
)

// SealWith encrypts sensitive paths of a state document and renders it
// as YAML. yaml.v3 emits map keys sorted, giving a deterministic file.
// Returns the serialized bytes and the paths that were encrypted.
// Every at-rest copy of the document (state file, snapshots, archives)
// goes through this so none carries plaintext sensitive fields.
func SealWith(enc *Encryptor, s *domain.State) ([]byte, []string, error) {
	doc, err := domain.ToDocument(s)
	if err != nil {
		return nil, nil, err
	}
	result, err := enc.EncryptObject(doc)
	if err != nil {
		return nil, nil, err
	}
	raw, err := yaml.Marshal(result.Data)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to serialize state")
	}
	return raw, result.EncryptedPaths, nil
}

// OpenWith parses raw YAML, opens any encrypted envelopes, and returns
// the typed state. Parse failures are parse_error corruption.
func OpenWith(enc *Encryptor, raw []byte) (*domain.State, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.NewCorruptionError(errors.CorruptionParse, err)
	}
	decrypted, err := enc.DecryptObject(doc)
	if err != nil {
		return nil, err
	}
	return domain.FromDocument(decrypted)
}

// Sealer binds document sealing to a keyring, resolving the encryptor
// lazily on each use so callers share the keyring's initialize-once key.
type Sealer struct {
	keyring *Keyring
}

// NewSealer creates a Sealer over the given keyring.
func NewSealer(k *Keyring) *Sealer {
	return &Sealer{keyring: k}
}

// Seal renders the document into its at-rest form. Returns the
// serialized bytes and the paths that were encrypted.
func (s *Sealer) Seal(st *domain.State) ([]byte, []string, error) {
	enc, err := s.keyring.Encryptor()
	if err != nil {
		return nil, nil, err
	}
	return SealWith(enc, st)
}

// Open reverses Seal.
func (s *Sealer) Open(raw []byte) (*domain.State, error) {
	enc, err := s.keyring.Encryptor()
	if err != nil {
		return nil, err
	}
	return OpenWith(enc, raw)
}
