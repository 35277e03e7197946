// Package extract turns a PDF, given as a local path or an HTTP(S) URL, into
// plain text.
//
// Extractors report failure by returning an empty string. The cause is logged
// but never distinguished to the caller: an auth error, a network fault and an
// unreadable document all look the same.
package extract

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// sharedHTTPClient is used by extractors that were not given a client.
var sharedHTTPClient = &http.Client{
	Timeout: 5 * time.Minute,
}

// Extractor converts a document reference into plain text.
type Extractor interface {
	// Extract returns the document text, or "" when extraction failed.
	// A non-nil error is returned only when ctx is done.
	Extract(ctx context.Context, source string) (string, error)
}

// Document is an extracted document with derived metadata.
type Document struct {
	Source string
	Hash   string // "sha256:<hex>" of Text
	Text   string
}

// Load runs ex against source and wraps the text. An empty Text means
// extraction failed.
func Load(ctx context.Context, ex Extractor, source string) (*Document, error) {
	text, err := ex.Extract(ctx, source)
	if err != nil {
		return nil, err
	}
	return &Document{
		Source: source,
		Hash:   Hash(text),
		Text:   text,
	}, nil
}

// Hash returns the "sha256:<hex>" digest of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("sha256:%x", sum)
}

// IsURL reports whether source should be submitted by reference.
func IsURL(source string) bool {
	s := strings.ToLower(strings.TrimSpace(source))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// New returns the extractor registered under name. apiKey is only used by
// the pdfco backend.
func New(name, apiKey string, opts ...Option) (Extractor, error) {
	switch name {
	case "pdfco", "":
		if apiKey == "" {
			return nil, fmt.Errorf("pdfco extractor requires an API key (PDFCO_API_KEY)")
		}
		return NewPDFCo(apiKey, opts...), nil
	case "local":
		return NewLocal(opts...), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q: supported extractors are pdfco, local", name)
	}
}
