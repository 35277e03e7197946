package render

import (
	"fmt"

	"github.com/dshills/vaspgap/internal/schema"
)

// Renderer formats a Report into bytes for output.
type Renderer interface {
	Render(report *schema.Report) ([]byte, error)
}

// NewRenderer returns a Renderer for the given format string.
// Supported formats: "md" (default), "json", "text".
func NewRenderer(format string) (Renderer, error) {
	switch format {
	case "md", "":
		return &markdownRenderer{}, nil
	case "json":
		return &jsonRenderer{}, nil
	case "text":
		return &textRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q: supported formats are md, json, text", format)
	}
}
