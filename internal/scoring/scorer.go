// Package scoring turns a pattern hit and its signals into a bounded risk
// score, a threat level and remediation actions.
package scoring

import (
	"math"
	"time"

	"github.com/iyulab/logwarden/internal/model"
)

// SeverityWeights are the base points per pattern severity.
var SeverityWeights = map[model.Severity]float64{
	model.SeverityCritical: 90,
	model.SeverityHigh:     70,
	model.SeverityMedium:   40,
	model.SeverityLow:      20,
	model.SeverityInfo:     0,
}

// CategoryWeights are the points added per threat category. Unknown
// categories add nothing.
var CategoryWeights = map[string]float64{
	"AUTH":                 25,
	"INJECTION":            30,
	"XSS":                  25,
	"RECONNAISSANCE":       20,
	"MALWARE":              30,
	"PRIVILEGE_ESCALATION": 30,
	"DATA_EXFILTRATION":    30,
	"DOS":                  25,
	"FILE_ACCESS":          25,
	"SYSTEM":               20,
	"CREDENTIAL_ACCESS":    30,
	"DEFENSE_EVASION":      25,
	"SUSPICIOUS_ACTIVITY":  20,
}

// Input is everything a score is computed from.
type Input struct {
	Severity  model.Severity
	Category  string
	Context   model.ContextWindow
	Behavior  *model.BehaviorSignal // nil when the line has no source
	Timestamp time.Time
}

// Scorer computes scores. The zero value is not usable; call New.
type Scorer struct {
	loc *time.Location
}

// New returns a Scorer that evaluates hour-of-day and weekend in loc
// (UTC when nil).
func New(loc *time.Location) *Scorer {
	if loc == nil {
		loc = time.UTC
	}
	return &Scorer{loc: loc}
}

// Score returns the risk score in [0,100]. Components are summed as floats
// and clamped once before rounding.
func (s *Scorer) Score(in Input) int {
	total := SeverityWeights[in.Severity] + CategoryWeights[in.Category]
	total += contextWeight(in.Context)
	total += behaviorWeight(in.Behavior)
	total += s.temporalWeight(in.Timestamp)

	total = math.Max(0, math.Min(100, total))
	return int(math.Round(total))
}

func contextWeight(c model.ContextWindow) float64 {
	return math.Min(float64(c.Occurrences)*5, 20) + math.Min(float64(len(c.RelatedEvents))*3, 15)
}

func behaviorWeight(b *model.BehaviorSignal) float64 {
	if b == nil {
		return 0
	}
	var w float64
	if b.Frequency.IsHighFrequency {
		w += 15
	}
	if b.Timing.Suspicious {
		w += 10
		if b.Timing.RegularPattern {
			w += 5
		}
	}
	if b.Sequence.Suspicious {
		w += 15
	}
	return w
}

func (s *Scorer) temporalWeight(ts time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	local := ts.In(s.loc)
	var w float64
	if h := local.Hour(); h >= 22 || h <= 5 {
		w += 10
	}
	if d := local.Weekday(); d == time.Saturday || d == time.Sunday {
		w += 5
	}
	return w
}

// Classify maps a score to a threat level. Bounds are inclusive and checked
// highest first.
func Classify(score int) model.ThreatLevel {
	switch {
	case score >= 80:
		return model.LevelCritical
	case score >= 60:
		return model.LevelHigh
	case score >= 40:
		return model.LevelMedium
	case score >= 20:
		return model.LevelLow
	default:
		return model.LevelInfo
	}
}
