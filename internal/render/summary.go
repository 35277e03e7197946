package render

import (
	"fmt"
	"strings"

	"github.com/dshills/vaspgap/internal/review"
	"github.com/dshills/vaspgap/internal/rules"
	"github.com/dshills/vaspgap/internal/schema"
)

type textRenderer struct{}

func (r *textRenderer) Render(report *schema.Report) ([]byte, error) {
	if report.Result == nil {
		return nil, fmt.Errorf("rendering summary: report has no result")
	}
	return []byte(Summary(report.Result)), nil
}

// Summary renders the terminal overview: counts, critical and high gaps in
// full, medium gaps as a list, and the rules that passed.
func Summary(result *schema.AnalysisResult) string {
	var sb strings.Builder
	c := review.Counts(result.Gaps)

	fmt.Fprintf(&sb, "Analysis complete: %s\n", result.Summary)
	fmt.Fprintf(&sb, "Critical: %d | High: %d | Medium: %d | Low: %d | Passed: %d\n",
		c.Critical, c.High, c.Medium, c.Low, len(result.MatchedRules))

	sb.WriteString("\nCritical Compliance Gaps\n")
	severe := review.ByCriticality(result.Gaps, rules.CriticalityCritical, rules.CriticalityHigh)
	if len(severe) == 0 {
		sb.WriteString("  None\n")
	}
	for _, g := range severe {
		fmt.Fprintf(&sb, "  %s: %s (%s)\n", g.ID, g.Requirement, strings.ToUpper(string(g.Criticality)))
		fmt.Fprintf(&sb, "    Analysis: %s\n", g.Analysis)
		fmt.Fprintf(&sb, "    Reference: %s\n", g.Reference)
	}

	sb.WriteString("\nMedium Priority Gaps\n")
	medium := review.ByCriticality(result.Gaps, rules.CriticalityMedium)
	if len(medium) == 0 {
		sb.WriteString("  None\n")
	}
	for _, g := range medium {
		fmt.Fprintf(&sb, "  %s: %s\n", g.ID, g.Requirement)
	}

	sb.WriteString("\nPassed Compliance Checks\n")
	if len(result.MatchedRules) == 0 {
		sb.WriteString("  None found\n")
	} else {
		fmt.Fprintf(&sb, "  %s\n", strings.Join(result.MatchedRules, ", "))
	}

	if degraded := review.Degraded(result.Gaps); len(degraded) > 0 {
		ids := make([]string, len(degraded))
		for i, g := range degraded {
			ids[i] = g.ID
		}
		fmt.Fprintf(&sb, "\nWarning: analysis unavailable for %s\n", strings.Join(ids, ", "))
	}
	return sb.String()
}
