// Package logging provides logging utilities including sensitive data
// filtering. The filters ensure credential-shaped tokens never reach log
// files, sharing detection patterns with the secrets detector.
package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mrz1836/statekit/internal/secrets"
)

// RedactedValue is the replacement string for sensitive data.
const RedactedValue = "[REDACTED]"

// sensitiveFieldSet contains field names whose values are always
// redacted. Stored as a map for O(1) exact lookups; matching lowercases
// the input first.
var sensitiveFieldSet = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"api-key":       {},
	"auth_token":    {},
	"authtoken":     {},
	"auth-token":    {},
	"password":      {},
	"passwd":        {},
	"secret":        {},
	"credential":    {},
	"credentials":   {},
	"private_key":   {},
	"privatekey":    {},
	"access_token":  {},
	"refresh_token": {},
	"bearer":        {},
	"authorization": {},
	"database_url":  {},
	"databaseurl":   {},
}

// SensitiveDataHook is a zerolog hook that flags log entries whose
// message contains credential-shaped tokens. Zerolog hooks cannot
// rewrite the message; redaction happens in FilteringWriter and at call
// sites via FilterSensitiveValue.
type SensitiveDataHook struct{}

// NewSensitiveDataHook creates a SensitiveDataHook.
func NewSensitiveDataHook() *SensitiveDataHook {
	return &SensitiveDataHook{}
}

// Run implements the zerolog.Hook interface.
func (h *SensitiveDataHook) Run(e *zerolog.Event, _ zerolog.Level, msg string) {
	if secrets.HasSecrets(msg) {
		e.Bool("contains_filtered_data", true)
	}
}

// FilterSensitiveValue replaces credential-shaped tokens in value with
// their redacted form.
func FilterSensitiveValue(value string) string {
	findings := secrets.Scan(value)
	if len(findings) == 0 {
		return value
	}
	out := value
	for _, f := range findings {
		out = strings.ReplaceAll(out, f.Match, secrets.Redact(f.Match))
	}
	return out
}

// IsSensitiveFieldName reports whether a field name indicates sensitive
// data, using word-boundary matching so "auth_type" does not match
// "auth".
func IsSensitiveFieldName(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	if _, ok := sensitiveFieldSet[lower]; ok {
		return true
	}
	for sensitive := range sensitiveFieldSet {
		if containsWordBoundary(lower, sensitive) {
			return true
		}
	}
	return false
}

// containsWordBoundary checks if name contains word at an underscore or
// dash boundary.
func containsWordBoundary(name, word string) bool {
	for _, sep := range []string{"_", "-"} {
		if strings.HasPrefix(name, word+sep) ||
			strings.HasSuffix(name, sep+word) ||
			strings.Contains(name, sep+word+sep) {
			return true
		}
	}
	return false
}

// RedactIfSensitive returns [REDACTED] when the field name indicates
// sensitive data, otherwise the value with token-level filtering applied.
func RedactIfSensitive(fieldName, value string) string {
	if IsSensitiveFieldName(fieldName) {
		return RedactedValue
	}
	return FilterSensitiveValue(value)
}

// FilteringWriter wraps an io.Writer and filters sensitive data from
// output. Used to wrap log file writers so credentials never reach disk
// even when they appear in messages or field values.
type FilteringWriter struct {
	w io.Writer
}

// NewFilteringWriter creates a FilteringWriter over w.
func NewFilteringWriter(w io.Writer) *FilteringWriter {
	return &FilteringWriter{w: w}
}

// Write implements io.Writer, filtering sensitive data before writing.
// The original length is returned so callers do not see a short write.
func (fw *FilteringWriter) Write(p []byte) (n int, err error) {
	filtered := FilterSensitiveValue(string(p))
	if _, err = fw.w.Write([]byte(filtered)); err != nil {
		return 0, err
	}
	return len(p), nil
}
