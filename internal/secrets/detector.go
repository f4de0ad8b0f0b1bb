// Package secrets scans serialized state for credential-shaped tokens.
// The detector is the last gate before persistence: any match that
// survives the false-positive filter aborts the save.
package secrets

import (
	"regexp"
	"strings"
)

// Finding is one credential-shaped token located in scanned text.
type Finding struct {
	// Type names the pattern that matched (e.g. "github-token").
	Type string

	// Match is the matched text. Callers should redact before logging.
	Match string

	// Line and Column locate the match (1-based).
	Line   int
	Column int
}

// pattern pairs a name with its compiled expression.
type pattern struct {
	name string
	re   *regexp.Regexp
}

// patterns contains the credential formats the detector recognizes.
// Case-insensitive where the format allows it.
var patterns = []pattern{
	{"aws-access-key-id", regexp.MustCompile(`\b(AKIA|A3T|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`)},
	{"aws-secret-key", regexp.MustCompile(`(?i)aws[_-]?secret[_-]?(access[_-]?)?key\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}["']?`)},
	{"github-token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36}\b`)},
	{"gitlab-pat", regexp.MustCompile(`\bglpat-[A-Za-z0-9_-]{20,}`)},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}`)},
	{"stripe-key", regexp.MustCompile(`\b(sk|pk)_(test|live)_[A-Za-z0-9]{24,}\b`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_.+/=-]+`)},
	{"database-url", regexp.MustCompile(`(?i)\b(postgres|postgresql|mysql|mongodb|redis|sqlite)://[^\s:@/]+:[^\s@/]+@[^\s]+`)},
	{"ssh-private-key", regexp.MustCompile(`-----BEGIN[A-Z ]*PRIVATE KEY-----`)},
	{"api-key", regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?[A-Za-z0-9_-]{16,}["']?`)},
	{"generic-password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?[^\s"']{8,}["']?`)},
	{"generic-secret", regexp.MustCompile(`(?i)(secret|token|credential)\s*[:=]\s*["']?[^\s"']{8,}["']?`)},
}

// placeholders are known non-secret values. Matching is case-insensitive
// substring: a candidate containing any of these is discarded.
var placeholders = []string{
	"password123",
	"changeme",
	"change-me",
	"example",
	"placeholder",
	"<password>",
	"<secret>",
	"<token>",
	"your-",
	"xxx",
	"${",
	"{{",
	"undefined",
	"null",
	"true",
	"false",
	"redacted",
}

// Scan finds credential-shaped tokens in text and returns their locations.
// Matches that look like placeholders are filtered out.
func Scan(text string) []Finding {
	var findings []Finding
	for lineIdx, line := range strings.Split(text, "\n") {
		for _, p := range patterns {
			for _, loc := range p.re.FindAllStringIndex(line, -1) {
				match := line[loc[0]:loc[1]]
				if isPlaceholder(match) {
					continue
				}
				findings = append(findings, Finding{
					Type:   p.name,
					Match:  match,
					Line:   lineIdx + 1,
					Column: loc[0] + 1,
				})
			}
		}
	}
	return findings
}

// HasSecrets reports whether text contains at least one finding.
func HasSecrets(text string) bool {
	return len(Scan(text)) > 0
}

// isPlaceholder reports whether the match contains a known placeholder.
func isPlaceholder(match string) bool {
	lower := strings.ToLower(match)
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
