package render

import (
	"encoding/json"

	"github.com/dshills/vaspgap/internal/schema"
)

type jsonRenderer struct{}

func (r *jsonRenderer) Render(report *schema.Report) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// ErrorJSON renders the {"error": msg} shape returned when a run fails.
func ErrorJSON(msg string) ([]byte, error) {
	return json.MarshalIndent(schema.ErrorResult{Error: msg}, "", "  ")
}
