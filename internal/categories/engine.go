package categories

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// MatchType defines how patterns are matched against transaction descriptions
type MatchType string

const (
	MatchTypeExact    MatchType = "exact"
	MatchTypeContains MatchType = "contains"
)

// Rule maps a description pattern to a category. Transfer marks movements
// between the user's own accounts.
type Rule struct {
	Name      string    `yaml:"name"`
	Pattern   string    `yaml:"pattern"`
	MatchType MatchType `yaml:"match_type"`
	Priority  int       `yaml:"priority"`
	Category  string    `yaml:"category"`
	Transfer  bool      `yaml:"transfer"`
}

type ruleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Engine performs rule matching on transaction descriptions
type Engine struct {
	rules []Rule // highest priority first
}

type MatchResult struct {
	Category string
	Transfer bool
	RuleName string
}

// NewEngine creates a rules engine from YAML data
func NewEngine(data []byte) (*Engine, error) {
	var rs ruleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, r := range rs.Rules {
		if !IsBuiltin(r.Category) {
			return nil, fmt.Errorf("rule %d (%s): unknown category %q", i, r.Name, r.Category)
		}
		if r.Priority < 0 || r.Priority > 999 {
			return nil, fmt.Errorf("rule %d (%s): priority must be in [0,999], got %d", i, r.Name, r.Priority)
		}
		if r.MatchType != MatchTypeExact && r.MatchType != MatchTypeContains {
			return nil, fmt.Errorf("rule %d (%s): invalid match_type %q", i, r.Name, r.MatchType)
		}
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("rule %d (%s): pattern cannot be empty", i, r.Name)
		}
		rs.Rules[i].Pattern = strings.ToLower(strings.TrimSpace(r.Pattern))
	}

	// Equal priorities keep file order.
	sort.SliceStable(rs.Rules, func(i, j int) bool {
		return rs.Rules[i].Priority > rs.Rules[j].Priority
	})
	return &Engine{rules: rs.Rules}, nil
}

// LoadEmbedded loads the rules shipped with the binary.
func LoadEmbedded() (*Engine, error) {
	e, err := NewEngine(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("load embedded rules: %w", err)
	}
	return e, nil
}

// MustLoadEmbedded panics if the embedded rules are broken.
func MustLoadEmbedded() *Engine {
	e, err := LoadEmbedded()
	if err != nil {
		panic(err)
	}
	return e
}

// LoadFromFile loads rules from a filesystem path
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	e, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("load rules from %q: %w", path, err)
	}
	return e, nil
}

// Match returns the first rule matching description in priority order.
func (e *Engine) Match(description string) (MatchResult, bool) {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return MatchResult{}, false
	}
	for _, r := range e.rules {
		var matched bool
		switch r.MatchType {
		case MatchTypeExact:
			matched = desc == r.Pattern
		case MatchTypeContains:
			matched = strings.Contains(desc, r.Pattern)
		}
		if matched {
			return MatchResult{Category: r.Category, Transfer: r.Transfer, RuleName: r.Name}, true
		}
	}
	return MatchResult{}, false
}

// IsTransfer reports whether description matches a transfer rule.
func (e *Engine) IsTransfer(description string) bool {
	m, ok := e.Match(description)
	return ok && m.Transfer
}

// Rules returns a copy of the rules in priority order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}
