// Package schema provides state document validation, canonical
// checksumming, and schema version gating.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mrz1836/statekit/internal/constants"
	"github.com/mrz1836/statekit/internal/domain"
	"github.com/mrz1836/statekit/internal/errors"
)

// ChecksumPrefix prefixes every digest string.
const ChecksumPrefix = "sha256:"

// CalculateChecksum computes "sha256:<hex>" over the canonical JSON form
// of the document with the checksum field removed. The canonical form
// sorts object keys lexicographically at every level and contains no
// insignificant whitespace, so the digest is stable across YAML
// round-trips and map iteration order.
func CalculateChecksum(s *domain.State) (string, error) {
	doc, err := toDocument(s)
	if err != nil {
		return "", err
	}
	delete(doc, "checksum")

	var b strings.Builder
	if err := writeCanonical(&b, doc); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(b.String()))
	return ChecksumPrefix + hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum recomputes the document digest and compares it with the
// stored checksum. Verification is skipped while the stored checksum
// equals the zero sentinel carried by freshly initialized documents.
func VerifyChecksum(s *domain.State) error {
	if s.Checksum == constants.ZeroChecksum {
		return nil
	}
	want, err := CalculateChecksum(s)
	if err != nil {
		return err
	}
	if s.Checksum != want {
		return errors.NewCorruptionError(errors.CorruptionChecksum, nil,
			fmt.Sprintf("stored %s, computed %s", s.Checksum, want))
	}
	return nil
}

// toDocument converts the typed state into a generic JSON document tree.
// Numbers are decoded as json.Number so canonical serialization reproduces
// the exact text encoding/json produced.
func toDocument(s *domain.State) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode state")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode state document")
	}
	return doc, nil
}

// writeCanonical serializes a decoded JSON value with recursively sorted
// object keys and no insignificant whitespace.
func writeCanonical(b *strings.Builder, v any) error {
	switch tv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kj, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(kj)
			b.WriteByte(':')
			if err := writeCanonical(b, tv[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range tv {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case json.Number:
		b.WriteString(tv.String())
	default:
		out, err := json.Marshal(tv)
		if err != nil {
			return err
		}
		b.Write(out)
	}
	return nil
}
