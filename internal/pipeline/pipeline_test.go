package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/logwarden/internal/behavior"
	"github.com/iyulab/logwarden/internal/catalog"
	"github.com/iyulab/logwarden/internal/correlation"
	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/scanner"
	"github.com/iyulab/logwarden/internal/sigma"
)

const nightBurst = "2024-01-01T03:00:00Z failed login from 10.0.0.5\n" +
	"2024-01-01T03:00:01Z failed login from 10.0.0.5\n" +
	"2024-01-01T03:00:02Z failed login from 10.0.0.5"

func fixedTrackers(now time.Time) Option {
	return WithTrackerFactory(func() (*behavior.Tracker, error) {
		return behavior.New(behavior.DefaultConfig(), behavior.WithClock(behavior.FixedClock(now)))
	})
}

func newPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	p, err := New(cat, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresCatalog(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestAnalyze_EmptyInput(t *testing.T) {
	p := newPipeline(t)
	report, err := p.Analyze(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, report.Threats, 1)
	assert.Equal(t, model.NoThreatsMessage, report.Threats[0].Message)
	assert.Equal(t, model.SeverityInfo, report.Threats[0].Severity)
	assert.NotNil(t, report.Correlations.Groups)
	assert.Empty(t, report.Correlations.Groups)
	assert.Empty(t, report.MLFeatures.Features)
	assert.Equal(t, 0, report.Summary.TotalThreats)
	assert.True(t, report.Clean())
	assert.NotEmpty(t, report.ID)
}

func TestAnalyze_NoMatches(t *testing.T) {
	p := newPipeline(t)
	report, err := p.Analyze(context.Background(), "user bob logged out\nbackup completed")
	require.NoError(t, err)
	require.Len(t, report.Threats, 1)
	assert.Equal(t, model.NoThreatsMessage, report.Threats[0].Message)
	assert.Equal(t, 2, report.LinesScanned)
}

func TestAnalyze_InvalidInput(t *testing.T) {
	p := newPipeline(t)
	_, err := p.Analyze(context.Background(), "bad \xff bytes")
	assert.ErrorIs(t, err, scanner.ErrInvalidInput)
}

func TestAnalyze_NightBurstScenario(t *testing.T) {
	p := newPipeline(t, fixedTrackers(time.Date(2024, 1, 1, 3, 0, 2, 0, time.UTC)))
	report, err := p.Analyze(context.Background(), nightBurst)
	require.NoError(t, err)

	require.Len(t, report.Threats, 3)
	prevRank := -1
	for i, th := range report.Threats {
		assert.Equal(t, "AUTH", th.Category)
		assert.Equal(t, "10.0.0.5", th.SourceID)
		assert.Equal(t, i+1, th.LineNumber)
		require.NotNil(t, th.Behavior)
		assert.Contains(t, []model.ThreatLevel{model.LevelHigh, model.LevelCritical}, th.ThreatLevel)
		assert.GreaterOrEqual(t, th.ThreatLevel.Rank(), prevRank)
		prevRank = th.ThreatLevel.Rank()
	}
	assert.True(t, report.Threats[2].Behavior.Sequence.RapidSuccession)
	assert.Equal(t, 100, report.Threats[2].Score)

	s := report.Summary
	assert.Equal(t, 3, s.TotalThreats)
	assert.Equal(t, 0, s.HighSeverity)
	assert.Equal(t, 3, s.CriticalThreats)
	assert.Equal(t, map[string]int{"AUTH": 3}, s.Categories)
	assert.Equal(t, []string{"10.0.0.5"}, s.SuspiciousSourceIDs)
	assert.Len(t, report.MLFeatures.Features, 3)
}

func TestAnalyze_NightBurstDefaultTracker(t *testing.T) {
	p := newPipeline(t)
	report, err := p.Analyze(context.Background(), nightBurst)
	require.NoError(t, err)

	require.Len(t, report.Threats, 3)
	last := report.Threats[2]
	require.NotNil(t, last.Behavior)
	assert.Equal(t, 3, last.Behavior.RecordCount)
	assert.True(t, last.Behavior.Sequence.RapidSuccession)
	assert.Equal(t, 100, last.Score)
	assert.Equal(t, model.LevelCritical, last.ThreatLevel)
}

func TestAnalyze_ReconThenInjectionScenario(t *testing.T) {
	text := "2024-01-01T10:00:00Z nmap scan detected from 192.0.2.10\n" +
		"2024-01-01T10:10:00Z GET /item?id=1 UNION SELECT password FROM users from 192.0.2.10"
	p := newPipeline(t, fixedTrackers(time.Date(2024, 1, 1, 10, 10, 0, 0, time.UTC)))
	report, err := p.Analyze(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, report.Threats, 2)
	assert.Equal(t, "RECONNAISSANCE", report.Threats[0].Category)
	assert.Equal(t, "INJECTION", report.Threats[1].Category)

	var found *correlation.PatternMatch
	for i := range report.Correlations.Patterns {
		if report.Correlations.Patterns[i].Template == correlation.TemplateReconThenAttack {
			found = &report.Correlations.Patterns[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, correlation.ConfidenceHigh, found.Confidence)
	assert.Contains(t, report.Summary.CorrelationSummary.MatchedTemplates, correlation.TemplateReconThenAttack)
}

func TestAnalyze_Idempotent(t *testing.T) {
	p := newPipeline(t, fixedTrackers(time.Date(2024, 1, 1, 3, 0, 2, 0, time.UTC)))
	text := nightBurst + "\n2024-01-01T03:00:03Z nmap scan from 10.0.0.7\n2024-01-01T03:00:04Z <script>alert(1)</script> from 10.0.0.7"

	a, err := p.Analyze(context.Background(), text)
	require.NoError(t, err)
	b, err := p.Analyze(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, a.Threats, b.Threats)
	assert.Equal(t, a.Correlations, b.Correlations)
	assert.Equal(t, a.MLFeatures, b.MLFeatures)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAnalyze_SharedTrackerAccumulates(t *testing.T) {
	tr, err := behavior.New(behavior.DefaultConfig(),
		behavior.WithClock(behavior.FixedClock(time.Date(2024, 1, 1, 3, 0, 2, 0, time.UTC))))
	require.NoError(t, err)
	p := newPipeline(t, WithTracker(tr))

	_, err = p.Analyze(context.Background(), nightBurst)
	require.NoError(t, err)
	second, err := p.Analyze(context.Background(), nightBurst)
	require.NoError(t, err)
	assert.Equal(t, 6, second.Threats[2].Behavior.RecordCount)
}

func TestAnalyze_ThresholdExceeded(t *testing.T) {
	var text string
	for i := 0; i < 5; i++ {
		text += "2024-01-01T12:00:0" + string(rune('0'+i)) + "Z failed login from 10.0.0.8\n"
	}
	p := newPipeline(t, fixedTrackers(time.Date(2024, 1, 1, 12, 0, 5, 0, time.UTC)))
	report, err := p.Analyze(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, report.Threats, 5)
	for i, th := range report.Threats {
		// failed-login threshold is 5 within 5 minutes.
		assert.Equal(t, i == 4, th.ThresholdExceeded, "threat %d", i)
	}
}

func TestAnalyze_LinesWithoutTimestampUseClock(t *testing.T) {
	now := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	p := newPipeline(t, fixedTrackers(now))
	report, err := p.Analyze(context.Background(), "failed login from 10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, now, report.Threats[0].Timestamp)
	assert.Equal(t, now, report.GeneratedAt)
}

func TestAnalyze_WithSigma(t *testing.T) {
	eng, err := sigma.NewDefault()
	require.NoError(t, err)
	p := newPipeline(t, WithSigma(eng))
	report, err := p.Analyze(context.Background(), "wevtutil cl Security executed from 10.2.0.1")
	require.NoError(t, err)
	require.Len(t, report.Threats, 1)
	assert.Equal(t, "DEFENSE_EVASION", report.Threats[0].Category)
	assert.Equal(t, scanner.DetectorSigma, report.Threats[0].Detector)
}

func TestAnalyze_Cancelled(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Analyze(ctx, nightBurst)
	assert.True(t, errors.Is(err, context.Canceled))
}

type recordingObserver struct {
	mu       sync.Mutex
	lines    int
	threats  int
	outcomes []string
	sources  int
}

func (o *recordingObserver) LinesScanned(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines += n
}

func (o *recordingObserver) ThreatDetected(model.ThreatLevel, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.threats++
}

func (o *recordingObserver) AnalysisFinished(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) SetTrackedSources(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources = n
}

func TestAnalyze_Observer(t *testing.T) {
	obs := &recordingObserver{}
	p := newPipeline(t, WithObserver(obs), fixedTrackers(time.Date(2024, 1, 1, 3, 0, 2, 0, time.UTC)))

	_, err := p.Analyze(context.Background(), nightBurst)
	require.NoError(t, err)
	_, err = p.Analyze(context.Background(), "nothing here")
	require.NoError(t, err)
	_, err = p.Analyze(context.Background(), "\xff")
	require.Error(t, err)

	assert.Equal(t, 4, obs.lines)
	assert.Equal(t, 3, obs.threats)
	assert.Equal(t, 0, obs.sources)
	assert.Equal(t, []string{OutcomeThreats, OutcomeClean, OutcomeError}, obs.outcomes)
}
