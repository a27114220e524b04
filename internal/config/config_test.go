package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTestConfig(t, `
timezone = "Asia/Seoul"

[catalog]
path = "patterns.yaml"

[tracker]
scope                = "run"
clock                = "wall"
max_sources          = 500
retention            = "30m"
frequency_window     = "2m"
rapid_succession_ms  = 250
regular_deviation_ms = 50
gc_interval          = "1m"

[correlation]
order = "time"

[sigma]
enabled   = false
rules_dir = "rules"

[server]
addr               = ":9090"
max_upload_mb      = 5
allowed_extensions = ["LOG", ".json"]

[output]
dir          = "out"
formats      = ["json", "csv"]
open_browser = true
bundle       = true

[nats]
enabled   = true
url       = "nats://nats:4222"
subject   = "alerts"
min_level = "critical"

[logging]
level  = "debug"
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Location().String() != "Asia/Seoul" {
		t.Errorf("location = %q, want Asia/Seoul", cfg.Location())
	}
	if cfg.Catalog.Path != "patterns.yaml" {
		t.Errorf("catalog.path = %q", cfg.Catalog.Path)
	}
	if cfg.Tracker.Scope != ScopeRun || cfg.Tracker.Clock != ClockWall {
		t.Errorf("tracker scope/clock = %q/%q", cfg.Tracker.Scope, cfg.Tracker.Clock)
	}
	if cfg.Tracker.Retention != 30*time.Minute {
		t.Errorf("tracker.retention = %v, want 30m", cfg.Tracker.Retention)
	}
	if cfg.Correlation.Order != "time" {
		t.Errorf("correlation.order = %q", cfg.Correlation.Order)
	}
	if cfg.Sigma.Enabled {
		t.Error("sigma should be disabled")
	}
	if got := strings.Join(cfg.Server.AllowedExtensions, ","); got != ".log,.json" {
		t.Errorf("allowed_extensions = %q, want normalized .log,.json", got)
	}
	if !cfg.HasFormat("CSV") || cfg.HasFormat("html") {
		t.Errorf("formats = %v", cfg.Output.Formats)
	}
	if cfg.NATS.MinLevel != "CRITICAL" {
		t.Errorf("nats.min_level = %q, want CRITICAL", cfg.NATS.MinLevel)
	}

	bc := cfg.Behavior()
	if bc.MaxSources != 500 {
		t.Errorf("MaxSources = %d", bc.MaxSources)
	}
	if bc.RapidSuccession != 250*time.Millisecond {
		t.Errorf("RapidSuccession = %v", bc.RapidSuccession)
	}
	if bc.RegularDeviation != 50*time.Millisecond {
		t.Errorf("RegularDeviation = %v", bc.RegularDeviation)
	}
	if bc.FailedLoginThreshold != 5 {
		t.Errorf("FailedLoginThreshold = %d, want default 5", bc.FailedLoginThreshold)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTestConfig(t, ``)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Output.Dir != "output" {
		t.Errorf("output.dir = %q, want default %q", cfg.Output.Dir, "output")
	}
	if cfg.Tracker.Scope != ScopeShared || cfg.Tracker.Clock != ClockReplay {
		t.Errorf("tracker defaults = %q/%q", cfg.Tracker.Scope, cfg.Tracker.Clock)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if !cfg.Sigma.Enabled {
		t.Error("sigma should be enabled by default")
	}
	if cfg.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", cfg.Location())
	}
	if cfg.Behavior().Retention != time.Hour {
		t.Errorf("retention = %v, want 1h", cfg.Behavior().Retention)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"scope":      "[tracker]\nscope = \"global\"",
		"clock":      "[tracker]\nclock = \"sundial\"",
		"sources":    "[tracker]\nmax_sources = 0",
		"order":      "[correlation]\norder = \"random\"",
		"format":     "[output]\nformats = [\"pdf\"]",
		"upload":     "[server]\nmax_upload_mb = 0",
		"nats url":   "[nats]\nenabled = true\nurl = \"\"",
		"min level":  "[nats]\nmin_level = \"URGENT\"",
		"log format": "[logging]\nformat = \"xml\"",
		"timezone":   "timezone = \"Mars/Olympus\"",
		"bad toml":   "[tracker\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTestConfig(t, content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
level = "info"

[nats]
url = "nats://from-file:4222"
`)

	t.Setenv("LOGWARDEN_LOG_LEVEL", "debug")
	t.Setenv("LOGWARDEN_NATS_URL", "nats://from-env:4222")
	t.Setenv("LOGWARDEN_ADDR", "127.0.0.1:9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want %q (env override)", cfg.Logging.Level, "debug")
	}
	if cfg.NATS.URL != "nats://from-env:4222" {
		t.Errorf("nats.url = %q, want env override", cfg.NATS.URL)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("server.addr = %q, want env override", cfg.Server.Addr)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	// Should contain helpful guidance
	errMsg := err.Error()
	if !strings.Contains(errMsg, "not found") {
		t.Errorf("error should mention 'not found', got: %s", errMsg)
	}
	if !strings.Contains(errMsg, "config.example.toml") {
		t.Errorf("error should mention config.example.toml, got: %s", errMsg)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Output.Dir != "output" {
		t.Errorf("output.dir = %q, want default", cfg.Output.Dir)
	}
}

func TestLoadOrDefault_ExistingFile(t *testing.T) {
	path := writeTestConfig(t, "[output]\ndir = \"custom\"\n")
	cfg, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Output.Dir != "custom" {
		t.Errorf("output.dir = %q, want custom", cfg.Output.Dir)
	}
}
