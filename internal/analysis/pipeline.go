// Package analysis runs the extract → match → analyze → assemble pipeline.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/vaspgap/internal/extract"
	"github.com/dshills/vaspgap/internal/match"
	"github.com/dshills/vaspgap/internal/rules"
	"github.com/dshills/vaspgap/internal/schema"
)

// ErrExtractionFailed is returned when the extractor produced no text.
// Its message is the user-facing error string.
var ErrExtractionFailed = errors.New("Text extraction failed") //nolint:staticcheck // user-facing message

// GapAnalyzer adjudicates unmatched rules. *gap.Analyzer implements it.
type GapAnalyzer interface {
	Analyze(ctx context.Context, text string, rs []rules.Rule, matched map[string]bool) ([]schema.Gap, error)
}

// Pipeline wires the stages of one analysis run.
type Pipeline struct {
	Extractor extract.Extractor
	Rules     *rules.Table
	Match     match.Options
	Analyzer  GapAnalyzer
	Logger    *zap.Logger
}

// Outcome is a completed run.
type Outcome struct {
	Document *extract.Document
	Match    match.Result
	Result   *schema.AnalysisResult
}

// Run analyzes the document at source. When extraction yields no text it
// returns ErrExtractionFailed without matching or calling the analyzer.
func (p *Pipeline) Run(ctx context.Context, source string) (*Outcome, error) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	log.Info("extracting text", zap.String("source", source))
	doc, err := extract.Load(ctx, p.Extractor, source)
	if err != nil {
		return nil, fmt.Errorf("extracting text: %w", err)
	}
	if doc.Text == "" {
		return nil, ErrExtractionFailed
	}
	log.Info("text extracted", zap.Int("chars", len([]rune(doc.Text))), zap.String("hash", doc.Hash))

	rs := p.Rules.Rules()
	res := match.New(rs, p.Match).Match(doc.Text)
	matched := res.MatchedIDs(rs)
	log.Info("keyword scan complete",
		zap.Int("rules", len(rs)),
		zap.Int("matched", len(matched)),
		zap.Strings("matched_rules", matched))
	for _, id := range matched {
		log.Debug("rule satisfied", zap.String("rule", id), zap.Strings("keywords", res.Hits[id]))
	}

	gaps, err := p.Analyzer.Analyze(ctx, doc.Text, rs, res.Matched)
	if err != nil {
		return nil, fmt.Errorf("analyzing gaps: %w", err)
	}

	return &Outcome{
		Document: doc,
		Match:    res,
		Result:   Assemble(gaps, matched),
	}, nil
}

// Assemble builds the result from analyzed gaps and matched rule ids.
func Assemble(gaps []schema.Gap, matched []string) *schema.AnalysisResult {
	if gaps == nil {
		gaps = []schema.Gap{}
	}
	if matched == nil {
		matched = []string{}
	}
	return &schema.AnalysisResult{
		Summary:      fmt.Sprintf("%d compliance gaps found", len(gaps)),
		Gaps:         gaps,
		MatchedRules: matched,
	}
}

// AsErrorResult maps a run error onto the {error} shape.
func AsErrorResult(err error) schema.ErrorResult {
	if errors.Is(err, ErrExtractionFailed) {
		return schema.ErrorResult{Error: ErrExtractionFailed.Error()}
	}
	return schema.ErrorResult{Error: err.Error()}
}
