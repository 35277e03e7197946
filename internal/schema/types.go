package schema

import (
	"time"

	"github.com/dshills/vaspgap/internal/rules"
)

// Gap is a rule the keyword scan did not satisfy, with the model's verdict.
type Gap struct {
	ID          string            `json:"id"`
	Requirement string            `json:"requirement"`
	Criticality rules.Criticality `json:"criticality"`
	Analysis    string            `json:"analysis"`
	Reference   string            `json:"reference"`
	// Error is set only when the analysis request failed and Analysis holds
	// a placeholder.
	Error string `json:"error,omitempty"`
}

// Degraded reports whether the gap's analysis request failed.
func (g Gap) Degraded() bool { return g.Error != "" }

// AnalysisResult is the outcome of one pipeline run. MatchedRules and the
// ids in Gaps together cover every rule in the table exactly once.
type AnalysisResult struct {
	Summary      string   `json:"summary"`
	Gaps         []Gap    `json:"gaps"`
	MatchedRules []string `json:"matched_rules"`
}

// ErrorResult is the error shape returned in place of an AnalysisResult.
type ErrorResult struct {
	Error string `json:"error"`
}

// Report is the JSON envelope written by the CLI.
type Report struct {
	Tool    string          `json:"tool"`
	Version string          `json:"version"`
	RunID   string          `json:"run_id"`
	Input   Input           `json:"input"`
	Result  *AnalysisResult `json:"result"`
	Counts  Counts          `json:"counts"`
	Score   int             `json:"score"`
	Meta    Meta            `json:"meta"`
}

// Input captures the parameters used for this run.
type Input struct {
	Document     string `json:"document"`
	DocumentHash string `json:"document_hash"` // SHA-256 of the extracted text
	RulesSource  string `json:"rules_source"`
	Extractor    string `json:"extractor"`
	ExcerptChars int    `json:"excerpt_chars"`
	Model        string `json:"model"` // provider:model
}

// Counts holds the number of gaps per criticality.
type Counts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Total returns the sum of all counts.
func (c Counts) Total() int { return c.Critical + c.High + c.Medium + c.Low }

// Meta holds runtime metadata about the run.
type Meta struct {
	Model      string    `json:"model"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}
