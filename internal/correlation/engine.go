// Package correlation groups related threats from one run and matches them
// against multi-stage attack templates.
package correlation

import (
	"fmt"
	"slices"
	"time"

	"github.com/iyulab/logwarden/internal/model"
)

// Correlation type labels, in the order they are reported on a group.
const (
	TypeTemporal    = "temporal"
	TypeSource      = "source"
	TypeCategorical = "categorical"
)

// Order selects the sequence the grouping pass walks threats in.
type Order string

const (
	// OrderInput walks threats as produced (line then pattern).
	OrderInput Order = "input"
	// OrderTime walks threats stably sorted by timestamp.
	OrderTime Order = "time"
)

// ParseOrder parses "input" or "time"; empty selects OrderInput.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "", OrderInput:
		return OrderInput, nil
	case OrderTime:
		return OrderTime, nil
	}
	return "", fmt.Errorf("unknown correlation order %q (want input or time)", s)
}

// Group is a primary threat with the later threats it claimed.
type Group struct {
	ID        string            `json:"id"`
	Primary   model.Threat      `json:"primary"`
	Related   []model.Threat    `json:"related"`
	Types     []string          `json:"types"`
	RiskLevel model.ThreatLevel `json:"risk_level"`
}

// PatternMatch is one attack template hit.
type PatternMatch struct {
	Template    string         `json:"template"`
	Description string         `json:"description"`
	Threats     []model.Threat `json:"threats"`
	Timestamp   time.Time      `json:"timestamp"`
	Confidence  string         `json:"confidence"`
}

// Summary aggregates a correlation result.
type Summary struct {
	TotalGroups      int      `json:"total_groups"`
	TotalPatterns    int      `json:"total_patterns"`
	CriticalGroups   int      `json:"critical_groups"`
	MatchedTemplates []string `json:"matched_templates"`
	// MostCommonType is the type label on the most groups; ties go to the
	// label seen first walking groups in order and types in label order.
	MostCommonType string `json:"most_common_type,omitempty"`
}

// Result is the output of Correlate.
type Result struct {
	Groups   []Group        `json:"correlated_events"`
	Patterns []PatternMatch `json:"patterns"`
	Summary  Summary        `json:"summary"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithOrder sets the grouping order.
func WithOrder(o Order) Option {
	return func(e *Engine) { e.order = o }
}

// WithRules replaces the category rule table.
func WithRules(rules map[string]Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// Engine correlates threats. It is stateless between calls.
type Engine struct {
	order Order
	rules map[string]Rule
}

// New creates an Engine with the default rule table and input order.
func New(opts ...Option) *Engine {
	e := &Engine{order: OrderInput, rules: DefaultRules}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Correlate runs the grouping and template passes over threats. The input
// slice is not modified.
func (e *Engine) Correlate(threats []model.Threat) Result {
	groups := e.group(threats)
	patterns := matchTemplates(threats)
	return Result{
		Groups:   groups,
		Patterns: patterns,
		Summary:  summarize(groups, patterns),
	}
}

// group is a greedy forward pass: each unclaimed threat claims every later
// unclaimed threat it correlates with. A threat with no match forms no group.
func (e *Engine) group(threats []model.Threat) []Group {
	ordered := threats
	if e.order == OrderTime {
		ordered = sortedByTime(threats)
	}

	groups := []Group{}
	claimed := make([]bool, len(ordered))
	for i, t := range ordered {
		if claimed[i] {
			continue
		}
		rule, ok := e.rules[t.Category]
		if !ok {
			rule = Rule{Window: DefaultWindow}
		}

		var related []model.Threat
		var seen [3]bool
		for j := i + 1; j < len(ordered); j++ {
			if claimed[j] {
				continue
			}
			types := correlationTypes(t, ordered[j], rule)
			if types == [3]bool{} {
				continue
			}
			claimed[j] = true
			related = append(related, ordered[j])
			for k := range seen {
				seen[k] = seen[k] || types[k]
			}
		}
		if len(related) == 0 {
			continue
		}
		claimed[i] = true

		level := t.ThreatLevel
		for _, r := range related {
			if r.ThreatLevel.Rank() > level.Rank() {
				level = r.ThreatLevel
			}
		}
		groups = append(groups, Group{
			ID:        fmt.Sprintf("group-%d", len(groups)+1),
			Primary:   t,
			Related:   related,
			Types:     typeLabels(seen),
			RiskLevel: level,
		})
	}
	return groups
}

// correlationTypes reports, in label order, which of temporal, source and
// categorical link u to t.
func correlationTypes(t, u model.Threat, rule Rule) [3]bool {
	delta := u.Timestamp.Sub(t.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return [3]bool{
		delta <= rule.Window,
		t.SourceID != "" && t.SourceID == u.SourceID,
		slices.Contains(rule.Related, u.Category),
	}
}

func typeLabels(seen [3]bool) []string {
	labels := [3]string{TypeTemporal, TypeSource, TypeCategorical}
	out := []string{}
	for i, ok := range seen {
		if ok {
			out = append(out, labels[i])
		}
	}
	return out
}

func sortedByTime(threats []model.Threat) []model.Threat {
	out := slices.Clone(threats)
	slices.SortStableFunc(out, func(a, b model.Threat) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}

func summarize(groups []Group, patterns []PatternMatch) Summary {
	s := Summary{
		TotalGroups:      len(groups),
		TotalPatterns:    len(patterns),
		MatchedTemplates: []string{},
	}
	for _, p := range patterns {
		s.MatchedTemplates = append(s.MatchedTemplates, p.Template)
	}

	counts := map[string]int{}
	var firstSeen []string
	for _, g := range groups {
		if g.RiskLevel == model.LevelCritical {
			s.CriticalGroups++
		}
		for _, typ := range g.Types {
			if _, ok := counts[typ]; !ok {
				firstSeen = append(firstSeen, typ)
			}
			counts[typ]++
		}
	}
	best := 0
	for _, typ := range firstSeen {
		if counts[typ] > best {
			best = counts[typ]
			s.MostCommonType = typ
		}
	}
	return s
}
