// Package config handles loading and validating the config.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // zone database for hosts without one

	"github.com/BurntSushi/toml"

	"github.com/iyulab/logwarden/internal/behavior"
	"github.com/iyulab/logwarden/internal/model"
)

// Tracker scopes.
const (
	ScopeShared = "shared" // one tracker for the lifetime of the process
	ScopeRun    = "run"    // a fresh tracker per analysis
)

// Tracker clocks.
const (
	ClockWall   = "wall"   // prune against the system clock; live feeds only
	ClockReplay = "replay" // prune against the latest log timestamp seen
)

// Config is the top-level configuration.
type Config struct {
	// Timezone is an IANA zone name used for hour-of-day and weekday logic.
	Timezone    string            `toml:"timezone"`
	Catalog     CatalogConfig     `toml:"catalog"`
	Scanner     ScannerConfig     `toml:"scanner"`
	Tracker     TrackerConfig     `toml:"tracker"`
	Correlation CorrelationConfig `toml:"correlation"`
	Sigma       SigmaConfig       `toml:"sigma"`
	Server      ServerConfig      `toml:"server"`
	Output      OutputConfig      `toml:"output"`
	NATS        NATSConfig        `toml:"nats"`
	Logging     LoggingConfig     `toml:"logging"`

	location *time.Location
}

// CatalogConfig selects the pattern catalog. An empty path uses the built-in one.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// ScannerConfig configures line matching.
type ScannerConfig struct {
	FoldUnicode bool `toml:"fold_unicode"` // match against the NFKC form of each line
}

// TrackerConfig configures behavior tracking.
type TrackerConfig struct {
	Scope                  string        `toml:"scope"` // shared | run
	Clock                  string        `toml:"clock"` // replay | wall
	MaxSources             int           `toml:"max_sources"`
	Retention              time.Duration `toml:"retention"`
	FrequencyWindow        time.Duration `toml:"frequency_window"`
	HighFrequencyThreshold int           `toml:"high_frequency_threshold"`
	RegularDeviationMs     int           `toml:"regular_deviation_ms"`
	RapidSuccessionMs      int           `toml:"rapid_succession_ms"`
	FailedLoginThreshold   int           `toml:"failed_login_threshold"`
	GCInterval             time.Duration `toml:"gc_interval"`
}

// CorrelationConfig configures the correlation pass.
type CorrelationConfig struct {
	Order string `toml:"order"` // input | time
}

// SigmaConfig configures the Sigma rule detector.
type SigmaConfig struct {
	Enabled  bool   `toml:"enabled"`
	RulesDir string `toml:"rules_dir"` // empty = embedded rules
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string   `toml:"addr"`
	MaxUploadMB       int      `toml:"max_upload_mb"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// OutputConfig configures output behavior.
type OutputConfig struct {
	Dir         string   `toml:"dir"`
	Formats     []string `toml:"formats"` // json, html, csv
	OpenBrowser bool     `toml:"open_browser"`
	Bundle      bool     `toml:"bundle"`
}

// NATSConfig configures alert publishing.
type NATSConfig struct {
	Enabled  bool   `toml:"enabled"`
	URL      string `toml:"url"`
	Subject  string `toml:"subject"`
	MinLevel string `toml:"min_level"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | json
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	bc := behavior.DefaultConfig()
	cfg := &Config{
		Timezone: "UTC",
		Tracker: TrackerConfig{
			Scope:                  ScopeShared,
			Clock:                  ClockReplay,
			MaxSources:             bc.MaxSources,
			Retention:              bc.Retention,
			FrequencyWindow:        bc.FrequencyWindow,
			HighFrequencyThreshold: bc.HighFrequencyThreshold,
			RegularDeviationMs:     int(bc.RegularDeviation / time.Millisecond),
			RapidSuccessionMs:      int(bc.RapidSuccession / time.Millisecond),
			FailedLoginThreshold:   bc.FailedLoginThreshold,
			GCInterval:             5 * time.Minute,
		},
		Correlation: CorrelationConfig{Order: "input"},
		Sigma:       SigmaConfig{Enabled: true},
		Server: ServerConfig{
			Addr:              ":8080",
			MaxUploadMB:       10,
			AllowedExtensions: []string{".log", ".txt", ".json", ".ndjson", ".csv", ".gz", ".zst"},
		},
		Output: OutputConfig{
			Dir:     "output",
			Formats: []string{"json", "html"},
		},
		NATS: NATSConfig{
			URL:      "nats://127.0.0.1:4222",
			Subject:  "logwarden",
			MinLevel: string(model.LevelHigh),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	cfg.location = time.UTC
	return cfg
}

// Load reads a config.toml file and returns a validated Config.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s\n  Create one with: cp config.example.toml config.toml", path)
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return finish(Default())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	// Environment variable overrides
	if level := os.Getenv("LOGWARDEN_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if url := os.Getenv("LOGWARDEN_NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}
	if addr := os.Getenv("LOGWARDEN_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	c.location = loc

	c.Tracker.Scope = strings.ToLower(c.Tracker.Scope)
	switch c.Tracker.Scope {
	case ScopeShared, ScopeRun:
	default:
		return fmt.Errorf("unsupported tracker.scope: %q (shared, run)", c.Tracker.Scope)
	}
	c.Tracker.Clock = strings.ToLower(c.Tracker.Clock)
	switch c.Tracker.Clock {
	case ClockWall, ClockReplay:
	default:
		return fmt.Errorf("unsupported tracker.clock: %q (wall, replay)", c.Tracker.Clock)
	}
	if c.Tracker.MaxSources <= 0 {
		return fmt.Errorf("tracker.max_sources must be positive")
	}
	if c.Tracker.Retention <= 0 || c.Tracker.FrequencyWindow <= 0 {
		return fmt.Errorf("tracker.retention and tracker.frequency_window must be positive")
	}
	if c.Tracker.RegularDeviationMs < 0 || c.Tracker.RapidSuccessionMs < 0 {
		return fmt.Errorf("tracker timing thresholds must not be negative")
	}

	c.Correlation.Order = strings.ToLower(c.Correlation.Order)
	switch c.Correlation.Order {
	case "", "input", "time":
	default:
		return fmt.Errorf("unsupported correlation.order: %q (input, time)", c.Correlation.Order)
	}

	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}
	for i, ext := range c.Server.AllowedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Server.AllowedExtensions[i] = ext
	}

	for _, f := range c.Output.Formats {
		switch strings.ToLower(f) {
		case "json", "html", "csv":
		default:
			return fmt.Errorf("unsupported output format: %q (json, html, csv)", f)
		}
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats.enabled is true")
		}
		if c.NATS.Subject == "" {
			return fmt.Errorf("nats.subject is required when nats.enabled is true")
		}
	}
	level, err := model.ParseThreatLevel(c.NATS.MinLevel)
	if err != nil {
		return fmt.Errorf("nats.min_level: %w", err)
	}
	c.NATS.MinLevel = string(level)

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported logging.format: %q (text, json)", c.Logging.Format)
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Behavior converts the tracker section into tracker thresholds.
func (c *Config) Behavior() behavior.Config {
	return behavior.Config{
		MaxSources:             c.Tracker.MaxSources,
		Retention:              c.Tracker.Retention,
		FrequencyWindow:        c.Tracker.FrequencyWindow,
		HighFrequencyThreshold: c.Tracker.HighFrequencyThreshold,
		RegularDeviation:       time.Duration(c.Tracker.RegularDeviationMs) * time.Millisecond,
		RapidSuccession:        time.Duration(c.Tracker.RapidSuccessionMs) * time.Millisecond,
		FailedLoginThreshold:   c.Tracker.FailedLoginThreshold,
		Location:               c.Location(),
	}
}

// HasFormat reports whether the output formats include f.
func (c *Config) HasFormat(f string) bool {
	for _, have := range c.Output.Formats {
		if strings.EqualFold(have, f) {
			return true
		}
	}
	return false
}
