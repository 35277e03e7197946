// Package redact masks credentials and wallet secrets in document text
// before it leaves the process.
package redact

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// pemPattern matches PEM key blocks across multiple lines.
var pemPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+KEY-----.*?-----END [A-Z ]+KEY-----`)

// patterns holds single-line secret-detection regexes in priority order.
var patterns = []*regexp.Regexp{
	// AWS access key IDs
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// OpenAI / Anthropic / PDF.co style secret keys; the boundary in group 1
	// is kept
	regexp.MustCompile(`(^|\s|["'])sk-[a-zA-Z0-9]{20,}`),
	// JWT tokens (three base64url segments)
	regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
	// Bearer tokens; 20-char minimum avoids prose false positives
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`),
	// Inline password assignments
	regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
	// Raw 256-bit private keys (EVM style)
	regexp.MustCompile(`\b0x[0-9a-fA-F]{64}\b`),
	// Extended private keys (BIP32)
	regexp.MustCompile(`\b[xtyz]prv[1-9A-HJ-NP-Za-km-z]{100,}\b`),
	// Labelled seed / mnemonic phrases up to the end of the line
	regexp.MustCompile(`(?i)(?:seed|mnemonic|recovery)\s+phrase\s*[:=][^\n]+`),
	// Emirates ID numbers
	regexp.MustCompile(`\b784-\d{4}-\d{7}-\d\b`),
}

// Redact replaces known secret patterns in input with [REDACTED].
// Line structure is preserved: the number of newlines in the output
// always equals the number of newlines in the input.
func Redact(input string) string {
	out, _ := Count(input)
	return out
}

// Count redacts input and also returns how many replacements were made.
func Count(input string) (string, int) {
	n := 0
	// PEM blocks first, one marker per line so line count is preserved.
	input = pemPattern.ReplaceAllStringFunc(input, func(match string) string {
		n++
		lines := strings.Split(match, "\n")
		for i := range lines {
			lines[i] = redacted
		}
		return strings.Join(lines, "\n")
	})

	for _, re := range patterns {
		input = re.ReplaceAllStringFunc(input, func(m string) string {
			n++
			if sub := re.FindStringSubmatch(m); len(sub) > 1 {
				return sub[1] + redacted
			}
			return redacted
		})
	}
	return input, n
}
