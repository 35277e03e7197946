// Package gap asks a language model to adjudicate every rule the keyword
// scan left unsatisfied.
package gap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/vaspgap/internal/llm"
	"github.com/dshills/vaspgap/internal/redact"
	"github.com/dshills/vaspgap/internal/rules"
	"github.com/dshills/vaspgap/internal/schema"
)

// ErrAnalysisAborted wraps the first failed request when FailFast is set.
var ErrAnalysisAborted = errors.New("gap analysis aborted")

// unavailablePrefix starts the analysis text of a degraded gap.
const unavailablePrefix = "Analysis unavailable: "

// Analyzer issues one completion request per unmatched rule.
type Analyzer struct {
	Provider llm.Provider
	// ExcerptChars bounds the document text sent per request; <= 0 sends
	// the whole document.
	ExcerptChars int
	MaxTokens    int
	Temperature  float64
	// Concurrency > 1 overlaps requests. Output order is unaffected.
	Concurrency int
	// FailFast aborts the batch on the first failed request instead of
	// recording a degraded gap.
	FailFast bool
	// Redact masks secrets in the excerpt before sending.
	Redact bool
	Logger *zap.Logger
}

// Analyze returns one Gap per rule in rs whose id is not in matched, in the
// order of rs.
func (a *Analyzer) Analyze(ctx context.Context, text string, rs []rules.Rule, matched map[string]bool) ([]schema.Gap, error) {
	log := a.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Redact before truncating: a secret cut at the bound no longer matches
	// its pattern.
	if a.Redact {
		var n int
		text, n = redact.Count(text)
		if n > 0 {
			log.Info("redacted secrets from document", zap.Int("count", n))
		}
	}
	excerpt := llm.Excerpt(text, a.ExcerptChars)

	var pending []rules.Rule
	for _, r := range rs {
		if !matched[r.ID] {
			pending = append(pending, r)
		}
	}
	gaps := make([]schema.Gap, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	limit := a.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, r := range pending {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			gap, err := a.analyzeOne(gctx, excerpt, r, log)
			if err != nil {
				return err
			}
			gaps[i] = gap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return gaps, nil
}

func (a *Analyzer) analyzeOne(ctx context.Context, excerpt string, r rules.Rule, log *zap.Logger) (schema.Gap, error) {
	gap := schema.Gap{
		ID:          r.ID,
		Requirement: r.Requirement,
		Criticality: r.Criticality,
		Reference:   r.Reference,
	}

	req := llm.BuildGapRequest(excerpt, r, a.MaxTokens, a.Temperature)
	log.Info("analyzing gap", zap.String("rule", r.ID))
	log.Debug("gap request", zap.String("rule", r.ID), zap.String("system", req.SystemPrompt), zap.String("user", req.UserPrompt))
	resp, err := a.Provider.Complete(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return gap, ctxErr
		}
		if a.FailFast {
			return gap, fmt.Errorf("%w: rule %s: %w", ErrAnalysisAborted, r.ID, err)
		}
		cause := err.Error()
		if a.Redact {
			// Provider errors can echo part of the API key.
			cause = redact.Redact(cause)
		}
		log.Warn("gap analysis failed", zap.String("rule", r.ID), zap.String("cause", cause))
		gap.Analysis = unavailablePrefix + cause
		gap.Error = cause
		return gap, nil
	}

	gap.Analysis = strings.TrimSpace(resp.Content)
	return gap, nil
}
