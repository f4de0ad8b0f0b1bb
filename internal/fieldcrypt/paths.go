package fieldcrypt

import (
	"sort"
	"strconv"
	"strings"
)

// SensitivePaths are the document paths encrypted at rest, in dot
// notation. "*" matches exactly one path segment (array indices included).
var SensitivePaths = []string{
	"activeInstance.apiKeys",
	"activeInstance.credentials",
	"activeInstance.tokens",
	"activeInstance.secrets",
	"completedSteps.*.secrets",
	"completedSteps.*.credentials",
	"config.apiKey",
	"config.databaseUrl",
	"config.authToken",
}

// EncryptResult carries the transformed document and the paths whose
// values were replaced by envelopes.
type EncryptResult struct {
	Data           map[string]any
	EncryptedPaths []string
}

// EncryptObject walks the document and replaces each value whose full
// path matches a sensitive pattern with an encrypted envelope, unless the
// value already is one. The input document is not modified.
func (e *Encryptor) EncryptObject(doc map[string]any) (*EncryptResult, error) {
	result := &EncryptResult{}
	out, err := e.encryptWalk(doc, nil, result)
	if err != nil {
		return nil, err
	}
	sort.Strings(result.EncryptedPaths)
	result.Data = out.(map[string]any)
	return result, nil
}

func (e *Encryptor) encryptWalk(v any, path []string, result *EncryptResult) (any, error) {
	if len(path) > 0 && matchesSensitivePath(path) {
		if IsEnvelope(v) {
			return v, nil
		}
		env, err := e.EncryptValue(v)
		if err != nil {
			return nil, err
		}
		result.EncryptedPaths = append(result.EncryptedPaths, strings.Join(path, "."))
		return envelopeToMap(env), nil
	}

	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, child := range tv {
			enc, err := e.encryptWalk(child, append(path, k), result)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, child := range tv {
			enc, err := e.encryptWalk(child, append(path, indexSegment(i)), result)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	default:
		return v, nil
	}
}

// DecryptObject reverses EncryptObject, opening every envelope it finds
// regardless of path. The input document is not modified.
func (e *Encryptor) DecryptObject(doc map[string]any) (map[string]any, error) {
	out, err := e.decryptWalk(doc)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (e *Encryptor) decryptWalk(v any) (any, error) {
	if IsEnvelope(v) {
		env := envelopeFromMap(v.(map[string]any))
		return e.DecryptValue(env)
	}

	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, child := range tv {
			dec, err := e.decryptWalk(child)
			if err != nil {
				return nil, err
			}
			out[k] = dec
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, child := range tv {
			dec, err := e.decryptWalk(child)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	default:
		return v, nil
	}
}

// IsEnvelope reports whether v is an encrypted-field envelope.
func IsEnvelope(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	enc, ok := m["encrypted"].(bool)
	if !ok || !enc {
		return false
	}
	alg, ok := m["algorithm"].(string)
	if !ok || alg != Algorithm {
		return false
	}
	_, hasIV := m["iv"].(string)
	_, hasTag := m["authTag"].(string)
	_, hasData := m["data"].(string)
	return hasIV && hasTag && hasData
}

// matchesSensitivePath reports whether the path matches any sensitive
// pattern. "*" in a pattern matches one segment.
func matchesSensitivePath(path []string) bool {
	for _, pattern := range SensitivePaths {
		if matchPattern(strings.Split(pattern, "."), path) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, seg := range pattern {
		if seg != "*" && seg != path[i] {
			return false
		}
	}
	return true
}

// indexSegment renders an array index as its own path segment so
// patterns like "completedSteps.*.secrets" match element subtrees.
func indexSegment(i int) string {
	return strconv.Itoa(i)
}

func envelopeToMap(env *Envelope) map[string]any {
	return map[string]any{
		"encrypted": true,
		"algorithm": env.Algorithm,
		"iv":        env.IV,
		"authTag":   env.AuthTag,
		"data":      env.Data,
	}
}

func envelopeFromMap(m map[string]any) *Envelope {
	env := &Envelope{Encrypted: true}
	env.Algorithm, _ = m["algorithm"].(string)
	env.IV, _ = m["iv"].(string)
	env.AuthTag, _ = m["authTag"].(string)
	env.Data, _ = m["data"].(string)
	return env
}
