// Package reporter handles report generation from analysis results.
package reporter

import (
	"fmt"
	"slices"
	"strings"

	"github.com/iyulab/logwarden/internal/correlation"
	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/pipeline"
)

// Verdict is the response decision for one run.
type Verdict struct {
	Escalate bool   `json:"escalate"`
	Urgency  string `json:"urgency"` // immediate, urgent, monitor, none
	Reason   string `json:"reason"`
	Banner   string `json:"banner"` // red, yellow, green
}

// Aggregator computes the overall verdict from a report.
type Aggregator struct{}

// Assess derives the verdict. Correlated critical activity outranks
// isolated critical threats, which outrank anything merely elevated.
func (a *Aggregator) Assess(r *pipeline.Report) Verdict {
	if r == nil || r.Clean() {
		return Verdict{
			Urgency: "none",
			Reason:  "No threats detected",
			Banner:  "green",
		}
	}

	// Immediate: any correlated group whose primary threat is critical
	for _, g := range r.Correlations.Groups {
		if g.RiskLevel == model.LevelCritical {
			return Verdict{
				Escalate: true,
				Urgency:  "immediate",
				Reason:   fmt.Sprintf("Correlated critical activity (%s): %s", strings.Join(g.Types, "+"), g.Primary.Message),
				Banner:   "red",
			}
		}
	}

	// Urgent: 2+ critical threats, or a high-confidence attack template
	critical := r.Summary.CriticalThreats
	if critical >= 2 {
		return Verdict{
			Escalate: true,
			Urgency:  "urgent",
			Reason:   fmt.Sprintf("%d critical threats detected", critical),
			Banner:   "red",
		}
	}
	if tmpl, ok := highConfidenceTemplate(r.Correlations.Patterns); ok {
		return Verdict{
			Escalate: true,
			Urgency:  "urgent",
			Reason:   fmt.Sprintf("Attack pattern matched: %s", tmpl),
			Banner:   "red",
		}
	}

	// Monitor: one critical threat or anything rated HIGH
	if critical == 1 {
		return Verdict{
			Urgency: "monitor",
			Reason:  "One critical threat detected, further investigation required",
			Banner:  "yellow",
		}
	}
	levels := SummarizeLevels(r.Threats)
	if levels.High > 0 || len(r.Summary.SuspiciousSourceIDs) > 0 {
		return Verdict{
			Urgency: "monitor",
			Reason:  "Suspicious activity found, monitoring recommended",
			Banner:  "yellow",
		}
	}

	return Verdict{
		Urgency: "none",
		Reason:  "Only low-risk threats detected",
		Banner:  "green",
	}
}

func highConfidenceTemplate(patterns []correlation.PatternMatch) (string, bool) {
	for _, p := range patterns {
		if p.Confidence == correlation.ConfidenceHigh {
			return p.Template, true
		}
	}
	return "", false
}

// LevelSummary counts threats per threat level for display.
type LevelSummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// SummarizeLevels counts threats by level. The INFO sentinel is not counted.
func SummarizeLevels(threats []model.Threat) LevelSummary {
	var s LevelSummary
	for _, t := range threats {
		switch t.ThreatLevel {
		case model.LevelCritical:
			s.Critical++
		case model.LevelHigh:
			s.High++
		case model.LevelMedium:
			s.Medium++
		case model.LevelLow:
			s.Low++
		}
	}
	return s
}

// Indicator is one source address seen in threats, with its worst outcome.
type Indicator struct {
	SourceID   string            `json:"source_id"`
	Threats    int               `json:"threats"`
	MaxScore   int               `json:"max_score"`
	Level      model.ThreatLevel `json:"level"`
	RiskScore  int               `json:"risk_score"`
	Categories []string          `json:"categories"`
}

// CollectIndicators groups threats by source, ordered by highest score then
// source ID. Threats without a source are skipped.
func CollectIndicators(threats []model.Threat) []Indicator {
	bySource := map[string]*Indicator{}
	var order []string
	for _, t := range threats {
		if t.SourceID == "" {
			continue
		}
		ind, ok := bySource[t.SourceID]
		if !ok {
			ind = &Indicator{SourceID: t.SourceID, Level: t.ThreatLevel}
			bySource[t.SourceID] = ind
			order = append(order, t.SourceID)
		}
		ind.Threats++
		if t.Score > ind.MaxScore {
			ind.MaxScore = t.Score
		}
		if t.ThreatLevel.Rank() > ind.Level.Rank() {
			ind.Level = t.ThreatLevel
		}
		// The latest snapshot carries the most history.
		if t.Behavior != nil {
			ind.RiskScore = t.Behavior.RiskScore
		}
		if t.Category != "" && !slices.Contains(ind.Categories, t.Category) {
			ind.Categories = append(ind.Categories, t.Category)
		}
	}

	out := make([]Indicator, 0, len(order))
	for _, id := range order {
		out = append(out, *bySource[id])
	}
	slices.SortStableFunc(out, func(a, b Indicator) int {
		if a.MaxScore != b.MaxScore {
			return b.MaxScore - a.MaxScore
		}
		return strings.Compare(a.SourceID, b.SourceID)
	})
	return out
}
