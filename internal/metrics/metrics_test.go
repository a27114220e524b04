package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/pipeline"
)

var _ pipeline.Observer = (*Metrics)(nil)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LinesScanned(10)
	m.LinesScanned(5)
	m.ThreatDetected(model.LevelHigh, "AUTH")
	m.ThreatDetected(model.LevelHigh, "AUTH")
	m.ThreatDetected(model.LevelCritical, "MALWARE")
	m.AnalysisFinished(pipeline.OutcomeThreats, 20*time.Millisecond)
	m.SetTrackedSources(7)
	m.IncrementPublishErrors()
	m.UploadRejected("too_large")

	assert.Equal(t, 15.0, testutil.ToFloat64(m.LinesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ThreatsTotal.WithLabelValues("HIGH", "AUTH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThreatsTotal.WithLabelValues("CRITICAL", "MALWARE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysesTotal.WithLabelValues(pipeline.OutcomeThreats)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.TrackedSources))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsRejected.WithLabelValues("too_large")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AnalysisDuration))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Registering twice on the same registry panics; separate registries do not.
	require.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
