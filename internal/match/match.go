// Package match scans document text for rule keywords.
//
// Keywords are matched as phrases: both the keyword and the text are split
// into tokens, and a keyword matches when its tokens appear contiguously in
// the text. "AML" therefore matches "AML." and "AML/CFT" but not "AMLA".
package match

import (
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/dshills/vaspgap/internal/rules"
)

// MaxFuzzyThreshold caps Options.FuzzyThreshold. Above it Bitap accepts
// almost any text as a match, which would mark every rule satisfied.
const MaxFuzzyThreshold = 0.5

// Options controls matching behaviour.
type Options struct {
	// CaseInsensitive folds case on both keywords and text.
	CaseInsensitive bool
	// FuzzyThreshold enables approximate recall for keywords that were not
	// found exactly. 0 disables it; 0.1–0.3 tolerates OCR and hyphenation
	// noise. Values are clamped to [0, MaxFuzzyThreshold].
	FuzzyThreshold float64
}

// pattern is one distinct keyword phrase and the rules it belongs to.
type pattern struct {
	key     string
	tokens  []string
	ruleIDs []string
}

// Matcher is a phrase index built once from a rule set.
type Matcher struct {
	opts  Options
	rules []rules.Rule
	// byFirst maps a pattern's first token to every pattern starting with it.
	byFirst map[string][]*pattern
	// byKey maps the normalised phrase to its pattern.
	byKey map[string]*pattern
	// keyOf maps a raw keyword to its normalised phrase.
	keyOf map[string]string
}

// New builds the index. Every keyword of every rule is added, and each
// phrase records the ids of the rules that declared it.
func New(rs []rules.Rule, opts Options) *Matcher {
	if opts.FuzzyThreshold < 0 {
		opts.FuzzyThreshold = 0
	}
	if opts.FuzzyThreshold > MaxFuzzyThreshold {
		opts.FuzzyThreshold = MaxFuzzyThreshold
	}
	m := &Matcher{
		opts:    opts,
		rules:   rs,
		byFirst: make(map[string][]*pattern),
		byKey:   make(map[string]*pattern),
		keyOf:   make(map[string]string),
	}
	for _, r := range rs {
		for _, kw := range r.Keywords {
			toks := m.tokenize(kw)
			if len(toks) == 0 {
				continue
			}
			key := strings.Join(toks, " ")
			m.keyOf[kw] = key
			p, ok := m.byKey[key]
			if !ok {
				p = &pattern{key: key, tokens: toks}
				m.byKey[key] = p
				m.byFirst[toks[0]] = append(m.byFirst[toks[0]], p)
			}
			if !containsString(p.ruleIDs, r.ID) {
				p.ruleIDs = append(p.ruleIDs, r.ID)
			}
		}
	}
	return m
}

// Result is the outcome of a scan.
type Result struct {
	// Matched holds the ids of rules with at least one keyword present.
	Matched map[string]bool
	// Hits lists, per matched rule, the keywords found in rule keyword order.
	Hits map[string][]string
}

// IsMatched reports whether the rule with id was satisfied.
func (r Result) IsMatched(id string) bool { return r.Matched[id] }

// MatchedIDs returns matched rule ids in the order of rs.
func (r Result) MatchedIDs(rs []rules.Rule) []string {
	ids := make([]string, 0, len(r.Matched))
	for _, rule := range rs {
		if r.Matched[rule.ID] {
			ids = append(ids, rule.ID)
		}
	}
	return ids
}

// Match scans text once and returns the satisfied rules.
func (m *Matcher) Match(text string) Result {
	toks := m.tokenize(text)
	found := make(map[string]bool)

	for i, tok := range toks {
		for _, p := range m.byFirst[tok] {
			if found[p.key] || i+len(p.tokens) > len(toks) {
				continue
			}
			if equalTokens(toks[i:i+len(p.tokens)], p.tokens) {
				found[p.key] = true
			}
		}
	}

	if m.opts.FuzzyThreshold > 0 {
		m.fuzzy(strings.Join(toks, " "), found)
	}

	res := Result{
		Matched: make(map[string]bool),
		Hits:    make(map[string][]string),
	}
	for key := range found {
		for _, id := range m.byKey[key].ruleIDs {
			res.Matched[id] = true
		}
	}
	for _, r := range m.rules {
		for _, kw := range r.Keywords {
			if key, ok := m.keyOf[kw]; ok && found[key] {
				res.Hits[r.ID] = append(res.Hits[r.ID], kw)
			}
		}
	}
	return res
}

// fuzzy runs Bitap approximate search for patterns not found exactly.
func (m *Matcher) fuzzy(normText string, found map[string]bool) {
	if normText == "" {
		return
	}
	dmp := diffmatchpatch.New()
	dmp.MatchThreshold = m.opts.FuzzyThreshold
	// Keyword position carries no weight.
	dmp.MatchDistance = (len(normText) + 1) * 1000

	for key := range m.byKey {
		if found[key] || len(key) > dmp.MatchMaxBits {
			continue
		}
		if dmp.MatchMain(normText, key, 0) >= 0 {
			found[key] = true
		}
	}
}

// tokenize splits s into runs of letters/digits and single punctuation runes.
func (m *Matcher) tokenize(s string) []string {
	if m.opts.CaseInsensitive {
		s = strings.ToLower(s)
	}
	var toks []string
	start := -1
	for i, r := range s {
		word := unicode.IsLetter(r) || unicode.IsDigit(r)
		if word {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			toks = append(toks, s[start:i])
			start = -1
		}
		if !unicode.IsSpace(r) {
			toks = append(toks, string(r))
		}
	}
	if start >= 0 {
		toks = append(toks, s[start:])
	}
	return toks
}

func equalTokens(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
