// Package sigma evaluates Sigma detection rules against individual log lines.
package sigma

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigmalib "github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
)

//go:embed rules
var embeddedRules embed.FS

// defaultCategory is used for rules without a logsource.category.
const defaultCategory = "SUSPICIOUS_ACTIVITY"

// Engine evaluates Sigma rules against log lines.
type Engine struct {
	rules []evaluator.RuleEvaluator
}

// NewDefault creates an Engine loaded with the built-in embedded Sigma rules.
func NewDefault() (*Engine, error) {
	sub, err := fs.Sub(embeddedRules, "rules")
	if err != nil {
		return nil, err
	}
	return New(sub)
}

// NewFromDir loads every .yml/.yaml rule below dir.
func NewFromDir(dir string) (*Engine, error) {
	return New(os.DirFS(dir))
}

// New parses every .yml/.yaml file in rulesFS as a Sigma rule. A rule that
// fails to parse, or a tree with no rules at all, is a configuration error.
func New(rulesFS fs.FS) (*Engine, error) {
	e := &Engine{}
	walk := func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isRuleFile(name) {
			return nil
		}
		raw, err := fs.ReadFile(rulesFS, name)
		if err != nil {
			return fmt.Errorf("read rule %s: %w", name, err)
		}
		parsed, err := sigmalib.ParseRule(raw)
		if err != nil {
			return fmt.Errorf("parse rule %s: %w", name, err)
		}
		e.rules = append(e.rules, *evaluator.ForRule(parsed))
		return nil
	}
	if err := fs.WalkDir(rulesFS, ".", walk); err != nil {
		return nil, err
	}
	if len(e.rules) == 0 {
		return nil, errors.New("no sigma rules found")
	}
	return e, nil
}

func isRuleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// MatchLine evaluates all rules against one line, in rule load order.
func (e *Engine) MatchLine(ctx context.Context, ev Event) []Match {
	if ev.Message == "" {
		return nil
	}
	fields := ev.fields()

	var matches []Match
	for _, rule := range e.rules {
		res, err := rule.Matches(ctx, fields)
		if err != nil || !res.Match {
			continue
		}
		level := strings.ToLower(rule.Rule.Level)
		matches = append(matches, Match{
			RuleTitle: rule.Rule.Title,
			RuleID:    rule.Rule.ID,
			Level:     level,
			Severity:  severityForLevel(level),
			Category:  categoryFor(rule.Rule.Logsource.Category),
		})
	}
	return matches
}

func categoryFor(logsourceCategory string) string {
	c := strings.ToUpper(strings.TrimSpace(logsourceCategory))
	if c == "" {
		return defaultCategory
	}
	return c
}
