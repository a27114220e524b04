package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/iyulab/logwarden/internal/behavior"
	"github.com/iyulab/logwarden/internal/catalog"
	"github.com/iyulab/logwarden/internal/config"
	"github.com/iyulab/logwarden/internal/correlation"
	"github.com/iyulab/logwarden/internal/pipeline"
	"github.com/iyulab/logwarden/internal/sigma"
)

// BuildOptions adjusts pipeline construction beyond the config file.
type BuildOptions struct {
	NoSigma  bool
	Replay   bool // force the replay clock
	Observer pipeline.Observer
	Logger   *slog.Logger
}

// Build is an assembled pipeline plus the resources it owns.
type Build struct {
	Pipeline *pipeline.Pipeline
	Catalog  *catalog.Catalog
	Sigma    *sigma.Engine     // nil when disabled
	Tracker  *behavior.Tracker // nil unless tracker.scope is shared
}

// Close stops background work started by BuildPipeline.
func (b *Build) Close() {
	if b.Tracker != nil {
		b.Tracker.StopGC()
	}
}

// LoadCatalog loads the configured catalog, or the built-in one.
func LoadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(cfg.Catalog.Path)
}

// BuildPipeline wires catalog, Sigma rules, behavior tracking and
// correlation according to cfg. Every failure here is a configuration error.
func BuildPipeline(cfg *config.Config, opts BuildOptions) (*Build, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cat, err := LoadCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	b := &Build{Catalog: cat}
	pipeOpts := []pipeline.Option{
		pipeline.WithLocation(cfg.Location()),
		pipeline.WithLogger(logger),
		pipeline.WithUnicodeFolding(cfg.Scanner.FoldUnicode),
	}

	if cfg.Sigma.Enabled && !opts.NoSigma {
		if cfg.Sigma.RulesDir != "" {
			b.Sigma, err = sigma.NewFromDir(cfg.Sigma.RulesDir)
		} else {
			b.Sigma, err = sigma.NewDefault()
		}
		if err != nil {
			return nil, fmt.Errorf("load sigma rules: %w", err)
		}
		pipeOpts = append(pipeOpts, pipeline.WithSigma(b.Sigma))
		logger.Debug("sigma rules loaded", "rules", b.Sigma.Len())
	}

	order, err := correlation.ParseOrder(cfg.Correlation.Order)
	if err != nil {
		return nil, err
	}
	pipeOpts = append(pipeOpts, pipeline.WithCorrelator(correlation.New(correlation.WithOrder(order))))

	replay := opts.Replay || cfg.Tracker.Clock == config.ClockReplay
	newTracker := func() (*behavior.Tracker, error) {
		var clock behavior.Clock = behavior.WallClock{}
		if replay {
			clock = behavior.NewReplayClock()
		}
		return behavior.New(cfg.Behavior(),
			behavior.WithClock(clock),
			behavior.WithLogger(logger))
	}

	if cfg.Tracker.Scope == config.ScopeShared {
		b.Tracker, err = newTracker()
		if err != nil {
			return nil, fmt.Errorf("create behavior tracker: %w", err)
		}
		b.Tracker.StartGC(cfg.Tracker.GCInterval)
		pipeOpts = append(pipeOpts, pipeline.WithTracker(b.Tracker))
	} else {
		pipeOpts = append(pipeOpts, pipeline.WithTrackerFactory(newTracker))
	}

	if opts.Observer != nil {
		pipeOpts = append(pipeOpts, pipeline.WithObserver(opts.Observer))
	}

	b.Pipeline, err = pipeline.New(cat, pipeOpts...)
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}
