package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/iyulab/logwarden/internal/catalog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootRequiresInput(t *testing.T) {
	if _, err := execute(t); err == nil {
		t.Fatal("expected error without input files")
	}
}

func TestRootRejectsBadFailOn(t *testing.T) {
	_, err := execute(t, "--fail-on", "SEVERE", "x.log")
	if err == nil || !strings.Contains(err.Error(), "--fail-on") {
		t.Fatalf("expected --fail-on error, got %v", err)
	}
}

func TestRootExplicitConfigMustExist(t *testing.T) {
	_, err := execute(t, "-c", filepath.Join(t.TempDir(), "missing.toml"), "x.log")
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected missing config error, got %v", err)
	}
}

func TestRootAnalyzesFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "auth.log")
	logs := "2024-01-01T03:00:00Z failed login from 10.0.0.5\n" +
		"2024-01-01T03:00:01Z failed login from 10.0.0.5\n"
	if err := os.WriteFile(input, []byte(logs), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--replay", "--no-sigma", "-o", filepath.Join(dir, "out"), "-f", "json", input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "=== logwarden Report ===") {
		t.Errorf("summary missing from output:\n%s", out)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "out", "*", "report.json"))
	if len(matches) != 1 {
		t.Errorf("expected one report.json, got %v", matches)
	}

	_, err = execute(t, "--replay", "--no-sigma", "-o", filepath.Join(dir, "out2"), "-f", "json", "--fail-on", "low", input)
	if !errors.Is(err, errThreatsFound) {
		t.Errorf("expected errThreatsFound, got %v", err)
	}
}

func TestPatternsFormats(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := printPatterns(&buf, cat, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	var doc struct {
		Patterns []catalog.Definition `json:"patterns"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(doc.Patterns) != cat.Len() {
		t.Errorf("json patterns = %d, want %d", len(doc.Patterns), cat.Len())
	}

	buf.Reset()
	if err := printPatterns(&buf, cat, "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var ydoc map[string][]map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &ydoc); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	// The YAML output is a loadable catalog.
	if _, err := catalog.Load(buf.Bytes()); err != nil {
		t.Errorf("reload yaml catalog: %v", err)
	}

	buf.Reset()
	if err := printPatterns(&buf, cat, "table"); err != nil {
		t.Fatalf("table: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "NAME") {
		t.Errorf("table header missing:\n%s", buf.String())
	}

	if err := printPatterns(&buf, cat, "xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
