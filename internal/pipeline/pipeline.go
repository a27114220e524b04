// Package pipeline composes scanning, behavior tracking, scoring, correlation
// and feature extraction into one synchronous analysis call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iyulab/logwarden/internal/behavior"
	"github.com/iyulab/logwarden/internal/catalog"
	"github.com/iyulab/logwarden/internal/correlation"
	"github.com/iyulab/logwarden/internal/features"
	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/scanner"
	"github.com/iyulab/logwarden/internal/scoring"
	"github.com/iyulab/logwarden/internal/sigma"
)

// Observer receives run measurements. internal/metrics implements it.
type Observer interface {
	LinesScanned(n int)
	ThreatDetected(level model.ThreatLevel, category string)
	AnalysisFinished(outcome string, d time.Duration)
	SetTrackedSources(n int)
}

// Analysis outcomes reported to the Observer.
const (
	OutcomeThreats = "threats"
	OutcomeClean   = "clean"
	OutcomeError   = "error"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTracker shares one tracker across every Analyze call.
func WithTracker(t *behavior.Tracker) Option {
	return func(p *Pipeline) { p.shared = t }
}

// WithTrackerFactory creates a fresh tracker for each Analyze call. It is
// ignored when WithTracker is also given. The default factory uses a
// replay clock so records keep their log timestamps.
func WithTrackerFactory(f func() (*behavior.Tracker, error)) Option {
	return func(p *Pipeline) {
		if f != nil {
			p.newTracker = f
		}
	}
}

// WithSigma adds Sigma rule hits to the scan.
func WithSigma(e *sigma.Engine) Option {
	return func(p *Pipeline) { p.sigma = e }
}

// WithCorrelator sets the correlation engine.
func WithCorrelator(e *correlation.Engine) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.correlator = e
		}
	}
}

// WithLocation sets the zone used for hour and weekday features.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithUnicodeFolding matches patterns against NFKC-normalized lines.
func WithUnicodeFolding(enabled bool) Option {
	return func(p *Pipeline) { p.fold = enabled }
}

// WithObserver reports run measurements to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline runs analyses over one immutable catalog.
type Pipeline struct {
	catalog    *catalog.Catalog
	scanner    *scanner.Scanner
	scorer     *scoring.Scorer
	correlator *correlation.Engine
	extractor  *features.Extractor
	sigma      *sigma.Engine
	loc        *time.Location
	fold       bool

	shared     *behavior.Tracker
	newTracker func() (*behavior.Tracker, error)

	observer Observer
	logger   *slog.Logger
}

// New builds a Pipeline. A nil or empty catalog is a configuration error.
func New(cat *catalog.Catalog, opts ...Option) (*Pipeline, error) {
	if cat == nil || cat.Len() == 0 {
		return nil, errors.New("pipeline: catalog has no patterns")
	}
	p := &Pipeline{
		catalog:    cat,
		correlator: correlation.New(),
		loc:        time.UTC,
		newTracker: func() (*behavior.Tracker, error) {
			return behavior.New(behavior.DefaultConfig(), behavior.WithClock(behavior.NewReplayClock()))
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	scanOpts := []scanner.Option{scanner.WithLocation(p.loc), scanner.WithUnicodeFolding(p.fold)}
	if p.sigma != nil {
		scanOpts = append(scanOpts, scanner.WithSigma(p.sigma))
	}
	p.scanner = scanner.New(cat, scanOpts...)
	p.scorer = scoring.New(p.loc)
	p.extractor = features.New(p.loc)
	return p, nil
}

// Catalog returns the pattern catalog the pipeline scans with.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.catalog }

// Analyze scans text and returns the full report. It fails only for input
// that violates the scanner contract or a cancelled context; text without
// matches yields a report holding the sentinel INFO threat.
func (p *Pipeline) Analyze(ctx context.Context, text string) (*Report, error) {
	start := time.Now()
	report, err := p.analyze(ctx, text)
	elapsed := time.Since(start)

	if err != nil {
		p.finish(OutcomeError, elapsed)
		return nil, err
	}
	report.Duration = elapsed
	if report.Clean() {
		p.finish(OutcomeClean, elapsed)
	} else {
		p.finish(OutcomeThreats, elapsed)
	}
	p.logger.Debug("analysis complete",
		"report_id", report.ID,
		"lines", report.LinesScanned,
		"threats", report.Summary.TotalThreats,
		"groups", report.Summary.CorrelationSummary.TotalGroups,
		"duration", elapsed)
	return report, nil
}

func (p *Pipeline) analyze(ctx context.Context, text string) (*Report, error) {
	tracker := p.shared
	if tracker == nil {
		var err error
		if tracker, err = p.newTracker(); err != nil {
			return nil, fmt.Errorf("create behavior tracker: %w", err)
		}
	}

	scan, err := p.scanner.Scan(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if p.observer != nil {
		p.observer.LinesScanned(scan.LineCount)
	}

	clock := tracker.Clock()
	thresholds := newThresholdCounter()
	threats := make([]model.Threat, 0, len(scan.Hits))

	for i, hit := range scan.Hits {
		ts := hit.Line.Timestamp
		if ts.IsZero() {
			ts = clock.Now()
		}

		var signal *model.BehaviorSignal
		if src := hit.Line.SourceID; src != "" {
			tracker.Track(src, hit.Line.Action, ts)
			s := tracker.Analyze(src)
			signal = &s
		}

		score := p.scorer.Score(scoring.Input{
			Severity:  hit.Pattern.Severity,
			Category:  hit.Pattern.Category,
			Context:   hit.Context,
			Behavior:  signal,
			Timestamp: ts,
		})
		level := scoring.Classify(score)

		t := model.Threat{
			ID:                fmt.Sprintf("threat-%d", i+1),
			Message:           hit.Line.Text,
			Severity:          hit.Pattern.Severity,
			Category:          hit.Pattern.Category,
			Pattern:           hit.Pattern.Name,
			Detector:          hit.Detector,
			Timestamp:         ts,
			LineNumber:        hit.Line.Number,
			Context:           hit.Context,
			SourceID:          hit.Line.SourceID,
			Behavior:          signal,
			Score:             score,
			ThreatLevel:       level,
			Recommendation:    scoring.Recommend(score, hit.Pattern.Category),
			ThresholdExceeded: thresholds.observe(hit, ts),
		}
		threats = append(threats, t)
		if p.observer != nil {
			p.observer.ThreatDetected(level, t.Category)
		}
	}
	if p.observer != nil {
		p.observer.SetTrackedSources(tracker.Stats().Sources)
	}

	corr := p.correlator.Correlate(threats)
	feats := p.extractor.Extract(threats)
	now := clock.Now()

	report := &Report{
		ID:           uuid.NewString(),
		GeneratedAt:  now,
		LinesScanned: scan.LineCount,
		Threats:      threats,
		Correlations: corr,
		MLFeatures:   feats,
		Summary:      summarize(threats, corr, feats),
	}
	if len(threats) == 0 {
		report.Threats = []model.Threat{model.SentinelThreat(now)}
	}
	return report, nil
}

func (p *Pipeline) finish(outcome string, d time.Duration) {
	if p.observer != nil {
		p.observer.AnalysisFinished(outcome, d)
	}
}
