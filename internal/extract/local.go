package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Local parses PDFs in-process. URL sources are downloaded first.
type Local struct {
	opts options
}

// NewLocal returns an in-process PDF extractor.
func NewLocal(opts ...Option) *Local {
	return &Local{opts: buildOptions(opts)}
}

// Extract returns the plain text of every page, or "" on any failure.
func (l *Local) Extract(ctx context.Context, source string) (string, error) {
	log := l.opts.logger.With(zap.String("source", source))

	data, err := l.read(ctx, source)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Debug("reading document failed", zap.Error(err))
		return "", nil
	}

	text, err := plainText(data)
	if err != nil {
		log.Debug("parsing pdf failed", zap.Error(err))
		return "", nil
	}
	return text, nil
}

func (l *Local) read(ctx context.Context, source string) ([]byte, error) {
	if !IsURL(source) {
		return os.ReadFile(source)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(source), nil)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	resp, err := l.opts.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading document: HTTP %d", resp.StatusCode)
	}
	const maxDocBytes = 256 * 1024 * 1024 // 256 MiB
	return io.ReadAll(io.LimitReader(resp.Body, maxDocBytes))
}

// plainText concatenates the text of every page. The pdf package panics on
// some malformed inputs; those are reported as errors.
func plainText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
