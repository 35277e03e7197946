package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DefaultPDFCoEndpoint is the PDF.co PDF-to-text conversion endpoint.
const DefaultPDFCoEndpoint = "https://api.pdf.co/v1/pdf/convert/to/text"

// PDFCo extracts text through the PDF.co conversion API.
type PDFCo struct {
	apiKey string // unexported; never serialized
	opts   options
}

// NewPDFCo returns a PDF.co extractor authenticating with apiKey.
func NewPDFCo(apiKey string, opts ...Option) *PDFCo {
	o := buildOptions(opts)
	if o.endpoint == "" {
		o.endpoint = DefaultPDFCoEndpoint
	}
	return &PDFCo{apiKey: apiKey, opts: o}
}

type pdfcoResponse struct {
	Body    string `json:"body"`
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Extract submits a URL by reference or uploads a local file, and returns the
// converted text. Every failure yields "".
func (p *PDFCo) Extract(ctx context.Context, source string) (string, error) {
	log := p.opts.logger.With(zap.String("source", source))

	req, err := p.newRequest(ctx, source)
	if err != nil {
		log.Debug("building pdf.co request failed", zap.Error(err))
		return "", nil
	}
	req.Header.Set("x-api-key", p.apiKey)

	resp, err := p.opts.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Debug("pdf.co request failed", zap.Error(err))
		return "", nil
	}
	defer resp.Body.Close()

	const maxBodyBytes = 64 * 1024 * 1024 // 64 MiB
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		log.Debug("reading pdf.co response failed", zap.Error(err))
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		log.Debug("pdf.co returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 200)))
		return "", nil
	}

	var out pdfcoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		log.Debug("parsing pdf.co response failed", zap.Error(err))
		return "", nil
	}
	if out.Body == "" {
		log.Debug("pdf.co response has no body field", zap.String("message", out.Message))
	}
	return out.Body, nil
}

func (p *PDFCo) newRequest(ctx context.Context, source string) (*http.Request, error) {
	if IsURL(source) {
		form := url.Values{"url": {strings.TrimSpace(source)}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("creating HTTP request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("opening document: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(source))
	if err != nil {
		return nil, fmt.Errorf("creating multipart field: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// truncate limits a string to maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
