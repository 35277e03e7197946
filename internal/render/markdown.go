package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/dshills/vaspgap/internal/rules"
	"github.com/dshills/vaspgap/internal/schema"
)

type markdownRenderer struct{}

var mdTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"upper": func(c rules.Criticality) string { return strings.ToUpper(string(c)) },
}).Parse(`# VASP Compliance Gap Report

**Document Analyzed**: {{ .Document }}

{{ range .Gaps }}## {{ .ID }}: {{ .Requirement }}
- **Criticality**: {{ upper .Criticality }}
- **Analysis**: {{ .Analysis }}
- **Reference**: {{ .Reference }}

{{ end }}`))

type markdownData struct {
	Document string
	Gaps     []schema.Gap
}

// Markdown renders the downloadable gap report for document. The output is
// a pure function of its inputs.
func Markdown(result *schema.AnalysisResult, document string) ([]byte, error) {
	var gaps []schema.Gap
	if result != nil {
		gaps = result.Gaps
	}
	var buf bytes.Buffer
	if err := mdTemplate.Execute(&buf, markdownData{Document: document, Gaps: gaps}); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *markdownRenderer) Render(report *schema.Report) ([]byte, error) {
	return Markdown(report.Result, report.Input.Document)
}
