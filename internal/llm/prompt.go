package llm

import (
	"fmt"

	"github.com/dshills/vaspgap/internal/rules"
)

// SystemPrompt is the persona every gap analysis request runs under.
const SystemPrompt = "You are a Dubai VASP compliance expert"

// DefaultExcerptChars bounds the document text sent with each request.
const DefaultExcerptChars = 12000

// Excerpt returns the first n characters (runes) of text. Longer documents
// are cut silently. n <= 0 disables truncation.
func Excerpt(text string, n int) string {
	if n <= 0 {
		return text
	}
	// Fast path: byte length bounds rune count.
	if len(text) <= n {
		return text
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i]
		}
		count++
	}
	return text
}

// BuildUserPrompt asks about a single rule against the given excerpt. The
// excerpt is used as-is; callers truncate it first.
func BuildUserPrompt(excerpt string, r rules.Rule) string {
	return fmt.Sprintf("Document excerpt: %s\n\nRule: %s\n\nSpecific question: %s", excerpt, r.Requirement, r.GPTPrompt)
}

// BuildGapRequest assembles the completion request for one unmatched rule.
func BuildGapRequest(excerpt string, r rules.Rule, maxTokens int, temperature float64) *Request {
	return &Request{
		SystemPrompt: SystemPrompt,
		UserPrompt:   BuildUserPrompt(excerpt, r),
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	}
}
