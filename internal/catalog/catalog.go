// Package catalog loads and validates the regex detection pattern catalog.
//
// A catalog is a YAML (or JSON) document with a top-level "patterns" list.
// It is validated once at load time and read-only afterwards.
package catalog

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/iyulab/logwarden/internal/model"
)

//go:embed patterns/default.yaml
var defaultPatterns []byte

//go:embed schema.json
var schemaFS embed.FS

// Definition is the on-disk form of a pattern.
type Definition struct {
	Name         string `yaml:"name" json:"name"`
	Regex        string `yaml:"regex" json:"regex"`
	Severity     string `yaml:"severity" json:"severity"`
	Category     string `yaml:"category" json:"category"`
	Threshold    int    `yaml:"threshold" json:"threshold"`
	TimeWindowMs int    `yaml:"time_window_ms" json:"time_window_ms"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
}

type document struct {
	Patterns []Definition `yaml:"patterns"`
}

// Pattern is a compiled, validated detection rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Severity    model.Severity
	Category    string
	Threshold   int
	TimeWindow  time.Duration
	Description string
}

// Definition returns the on-disk form of p.
func (p Pattern) Definition() Definition {
	var expr string
	if p.Regex != nil {
		expr = p.Regex.String()
	}
	return Definition{
		Name:         p.Name,
		Regex:        expr,
		Severity:     string(p.Severity),
		Category:     p.Category,
		Threshold:    p.Threshold,
		TimeWindowMs: int(p.TimeWindow / time.Millisecond),
		Description:  p.Description,
	}
}

// MarshalJSON renders the pattern with its regex source.
func (p Pattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Definition())
}

// Catalog is an immutable set of detection patterns.
type Catalog struct {
	patterns []Pattern
}

// New validates defs and compiles them into a Catalog.
func New(defs []Definition) (*Catalog, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}
	patterns := make([]Pattern, 0, len(defs))
	for i, d := range defs {
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("pattern-%d", i+1)
		}
		sev, _ := model.ParseSeverity(d.Severity)
		patterns = append(patterns, Pattern{
			Name:        name,
			Regex:       regexp.MustCompile(d.Regex),
			Severity:    sev,
			Category:    strings.ToUpper(strings.TrimSpace(d.Category)),
			Threshold:   d.Threshold,
			TimeWindow:  time.Duration(d.TimeWindowMs) * time.Millisecond,
			Description: d.Description,
		})
	}
	return &Catalog{patterns: patterns}, nil
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Load(defaultPatterns)
}

// Load parses a YAML or JSON catalog document, checks it against the catalog
// schema and validates every pattern.
func Load(data []byte) (*Catalog, error) {
	if err := checkSchema(data); err != nil {
		return nil, err
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(doc.Patterns) == 0 {
		return nil, &ValidationError{Index: -1, Field: "patterns", Message: "catalog has no patterns"}
	}
	return New(doc.Patterns)
}

// LoadFile reads a catalog from a .yaml, .yml or .json file.
func LoadFile(path string) (*Catalog, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, fmt.Errorf("unsupported catalog extension: %s", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// Patterns returns a copy of the catalog's patterns in declaration order.
func (c *Catalog) Patterns() []Pattern {
	out := make([]Pattern, len(c.patterns))
	copy(out, c.patterns)
	return out
}

// Len returns the number of patterns.
func (c *Catalog) Len() int {
	return len(c.patterns)
}

// Categories returns the distinct categories in first-seen order.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.patterns {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	return out
}

var catalogSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	raw, err := schemaFS.ReadFile("schema.json")
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("catalog.json", bytes.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("catalog.json")
}

// checkSchema validates the document shape before decoding into structs so
// that unknown keys and wrongly typed fields are reported instead of ignored.
func checkSchema(data []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(asJSON))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}
	if err := catalogSchema.Validate(v); err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}
	return nil
}
