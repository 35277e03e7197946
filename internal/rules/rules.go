// Package rules holds the compliance rule table the matcher and gap analyzer
// run against.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed dubai_vasp.yaml
var defaultTable []byte

// DefaultSource names the built-in table in reports and errors.
const DefaultSource = "builtin:dubai-vasp"

// Criticality is the severity tag on a rule.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

// ParseCriticality accepts any casing of the four criticality names.
func ParseCriticality(s string) (Criticality, error) {
	c := Criticality(strings.ToLower(strings.TrimSpace(s)))
	if c.Ordinal() < 0 {
		return "", fmt.Errorf("unknown criticality %q: valid values are critical, high, medium, low", s)
	}
	return c, nil
}

// Ordinal orders criticalities low(0) < medium(1) < high(2) < critical(3).
// Returns -1 for an unrecognised value.
func (c Criticality) Ordinal() int {
	switch c {
	case CriticalityLow:
		return 0
	case CriticalityMedium:
		return 1
	case CriticalityHigh:
		return 2
	case CriticalityCritical:
		return 3
	}
	return -1
}

// Rule is one regulatory requirement with the keywords that indicate the
// document addresses it.
type Rule struct {
	ID          string      `yaml:"id" json:"id"`
	Requirement string      `yaml:"requirement" json:"requirement"`
	Keywords    []string    `yaml:"keywords" json:"keywords"`
	Criticality Criticality `yaml:"criticality" json:"criticality"`
	Reference   string      `yaml:"reference" json:"reference"`
	GPTPrompt   string      `yaml:"gpt_prompt" json:"gpt_prompt"`
}

// Table is an ordered, immutable rule collection.
type Table struct {
	Source string
	rules  []Rule
	byID   map[string]int
}

type tableFile struct {
	Rules []Rule `yaml:"rules"`
}

// Default returns the built-in Dubai VASP rule table.
func Default() (*Table, error) {
	return Parse(defaultTable, DefaultSource)
}

// Load reads a YAML rule file from disk.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	return Parse(data, path)
}

// LoadOrDefault loads path, or the built-in table when path is empty.
func LoadOrDefault(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	return Load(path)
}

// Parse decodes and validates a YAML rule table.
func Parse(data []byte, source string) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules %s: %w", source, err)
	}
	return New(source, f.Rules)
}

// New validates rs and builds a Table. The slice is copied.
func New(source string, rs []Rule) (*Table, error) {
	if len(rs) == 0 {
		return nil, fmt.Errorf("rules %s: table is empty", source)
	}
	t := &Table{
		Source: source,
		rules:  make([]Rule, 0, len(rs)),
		byID:   make(map[string]int, len(rs)),
	}
	for i, r := range rs {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			return nil, fmt.Errorf("rules %s: rule #%d: id is required", source, i+1)
		}
		if _, dup := t.byID[r.ID]; dup {
			return nil, fmt.Errorf("rules %s: duplicate rule id %q", source, r.ID)
		}
		if strings.TrimSpace(r.Requirement) == "" {
			return nil, fmt.Errorf("rules %s: rule %s: requirement is required", source, r.ID)
		}
		if strings.TrimSpace(r.GPTPrompt) == "" {
			return nil, fmt.Errorf("rules %s: rule %s: gpt_prompt is required", source, r.ID)
		}
		crit, err := ParseCriticality(string(r.Criticality))
		if err != nil {
			return nil, fmt.Errorf("rules %s: rule %s: %w", source, r.ID, err)
		}
		r.Criticality = crit

		keywords := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("rules %s: rule %s: at least one keyword is required", source, r.ID)
		}
		r.Keywords = keywords

		t.byID[r.ID] = len(t.rules)
		t.rules = append(t.rules, r)
	}
	return t, nil
}

// Rules returns the rules in table order. Callers must not modify the result.
func (t *Table) Rules() []Rule { return t.rules }

// Len returns the number of rules.
func (t *Table) Len() int { return len(t.rules) }

// Get looks up a rule by id.
func (t *Table) Get(id string) (Rule, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Rule{}, false
	}
	return t.rules[i], true
}

// IDs returns every rule id in table order.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.rules))
	for i, r := range t.rules {
		ids[i] = r.ID
	}
	return ids
}
