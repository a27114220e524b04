// Package metrics exposes Prometheus instrumentation for analyses.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iyulab/logwarden/internal/model"
)

// Metrics holds all the Prometheus metrics for logwarden.
type Metrics struct {
	LinesTotal       prometheus.Counter
	ThreatsTotal     *prometheus.CounterVec
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	TrackedSources   prometheus.Gauge
	PublishErrors    prometheus.Counter
	UploadsRejected  *prometheus.CounterVec
}

// New registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LinesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_lines_scanned_total",
			Help: "Total number of log lines scanned",
		}),
		ThreatsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logwarden_threats_total",
			Help: "Total number of threats detected",
		}, []string{"level", "category"}),
		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logwarden_analyses_total",
			Help: "Total number of analyses by outcome",
		}, []string{"outcome"}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "logwarden_analysis_duration_seconds",
			Help:    "Duration of pipeline analyses",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		TrackedSources: f.NewGauge(prometheus.GaugeOpts{
			Name: "logwarden_tracked_sources",
			Help: "Number of sources held by the behavior tracker after the last analysis",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "logwarden_publish_errors_total",
			Help: "Total number of NATS publish errors",
		}),
		UploadsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logwarden_uploads_rejected_total",
			Help: "Total number of rejected uploads by reason",
		}, []string{"reason"}),
	}
}

// LinesScanned adds n scanned lines.
func (m *Metrics) LinesScanned(n int) {
	m.LinesTotal.Add(float64(n))
}

// ThreatDetected counts one threat.
func (m *Metrics) ThreatDetected(level model.ThreatLevel, category string) {
	m.ThreatsTotal.WithLabelValues(string(level), category).Inc()
}

// AnalysisFinished records an analysis outcome and its duration.
func (m *Metrics) AnalysisFinished(outcome string, d time.Duration) {
	m.AnalysesTotal.WithLabelValues(outcome).Inc()
	m.AnalysisDuration.Observe(d.Seconds())
}

// SetTrackedSources sets the tracked-source gauge.
func (m *Metrics) SetTrackedSources(n int) {
	m.TrackedSources.Set(float64(n))
}

// IncrementPublishErrors increments the publish error counter.
func (m *Metrics) IncrementPublishErrors() {
	m.PublishErrors.Inc()
}

// UploadRejected counts a rejected upload.
func (m *Metrics) UploadRejected(reason string) {
	m.UploadsRejected.WithLabelValues(reason).Inc()
}
