// Package review derives deterministic figures from a set of gaps.
package review

import (
	"github.com/dshills/vaspgap/internal/rules"
	"github.com/dshills/vaspgap/internal/schema"
)

// Score computes a readiness score from all gaps.
// Start: 100, -25 per critical, -10 per high, -4 per medium, -1 per low,
// clamped at 0. Degraded gaps count like any other gap.
func Score(gaps []schema.Gap) int {
	score := 100
	for _, g := range gaps {
		switch g.Criticality {
		case rules.CriticalityCritical:
			score -= 25
		case rules.CriticalityHigh:
			score -= 10
		case rules.CriticalityMedium:
			score -= 4
		case rules.CriticalityLow:
			score--
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Counts returns the number of gaps per criticality.
func Counts(gaps []schema.Gap) schema.Counts {
	var c schema.Counts
	for _, g := range gaps {
		switch g.Criticality {
		case rules.CriticalityCritical:
			c.Critical++
		case rules.CriticalityHigh:
			c.High++
		case rules.CriticalityMedium:
			c.Medium++
		case rules.CriticalityLow:
			c.Low++
		}
	}
	return c
}

// MeetsThreshold reports whether any gap is at or above threshold. Used by
// --fail-on.
func MeetsThreshold(gaps []schema.Gap, threshold rules.Criticality) bool {
	for _, g := range gaps {
		if g.Criticality.Ordinal() >= threshold.Ordinal() {
			return true
		}
	}
	return false
}

// ByCriticality returns the gaps whose criticality is one of cs, preserving
// order.
func ByCriticality(gaps []schema.Gap, cs ...rules.Criticality) []schema.Gap {
	out := make([]schema.Gap, 0, len(gaps))
	for _, g := range gaps {
		for _, c := range cs {
			if g.Criticality == c {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

// Degraded returns the gaps whose analysis request failed.
func Degraded(gaps []schema.Gap) []schema.Gap {
	var out []schema.Gap
	for _, g := range gaps {
		if g.Degraded() {
			out = append(out, g)
		}
	}
	return out
}
