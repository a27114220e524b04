package pipeline

import (
	"math"
	"slices"
	"time"

	"github.com/iyulab/logwarden/internal/correlation"
	"github.com/iyulab/logwarden/internal/features"
	"github.com/iyulab/logwarden/internal/model"
)

// suspiciousRiskScore is the behavior risk score at which a source is listed
// as suspicious in the summary.
const suspiciousRiskScore = 50

// Report is the result of one pipeline run.
type Report struct {
	ID           string             `json:"id"`
	GeneratedAt  time.Time          `json:"generated_at"`
	LinesScanned int                `json:"lines_scanned"`
	Duration     time.Duration      `json:"duration_ns"`
	Threats      []model.Threat     `json:"threats"`
	Correlations correlation.Result `json:"correlations"`
	MLFeatures   features.Result    `json:"ml_features"`
	Summary      Summary            `json:"summary"`
}

// Summary aggregates a run.
type Summary struct {
	TotalThreats        int                 `json:"total_threats"`
	HighSeverity        int                 `json:"high_severity"`
	CriticalThreats     int                 `json:"critical_threats"`
	AverageThreatScore  float64             `json:"average_threat_score"`
	Categories          map[string]int      `json:"categories"`
	SuspiciousSourceIDs []string            `json:"suspicious_source_ids"`
	CorrelationSummary  correlation.Summary `json:"correlation_summary"`
	MLMetadata          features.Metadata   `json:"ml_metadata"`
}

// Clean reports whether the run found nothing.
func (r *Report) Clean() bool {
	return r.Summary.TotalThreats == 0
}

// summarize counts over the real threats; the sentinel is never passed in.
func summarize(threats []model.Threat, corr correlation.Result, feats features.Result) Summary {
	s := Summary{
		TotalThreats:        len(threats),
		Categories:          map[string]int{},
		SuspiciousSourceIDs: []string{},
		CorrelationSummary:  corr.Summary,
		MLMetadata:          feats.Metadata,
	}
	var total int
	for _, t := range threats {
		if t.Severity == model.SeverityHigh || t.Severity == model.SeverityCritical {
			s.HighSeverity++
		}
		if t.ThreatLevel == model.LevelCritical {
			s.CriticalThreats++
		}
		s.Categories[t.Category]++
		total += t.Score
		if t.Behavior != nil && t.Behavior.RiskScore >= suspiciousRiskScore &&
			!slices.Contains(s.SuspiciousSourceIDs, t.SourceID) {
			s.SuspiciousSourceIDs = append(s.SuspiciousSourceIDs, t.SourceID)
		}
	}
	if len(threats) > 0 {
		s.AverageThreatScore = math.Round(float64(total)/float64(len(threats))*100) / 100
	}
	slices.Sort(s.SuspiciousSourceIDs)
	return s
}
