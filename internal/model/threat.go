// Package model holds the value types shared by the detection pipeline stages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the static severity assigned to a detection pattern.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Severities lists the valid severities, highest first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// ParseSeverity normalizes s (case-insensitive) into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("invalid severity %q (want CRITICAL, HIGH, MEDIUM, LOW or INFO)", s)
	}
	return sev, nil
}

// Valid reports whether s is one of the enumerated severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// ThreatLevel is the discrete level derived from a threat score.
type ThreatLevel string

const (
	LevelCritical ThreatLevel = "CRITICAL"
	LevelHigh     ThreatLevel = "HIGH"
	LevelMedium   ThreatLevel = "MEDIUM"
	LevelLow      ThreatLevel = "LOW"
	LevelInfo     ThreatLevel = "INFO"
)

// Rank orders levels: CRITICAL=4 > HIGH=3 > MEDIUM=2 > LOW=1 > INFO=0.
// Unknown levels rank below INFO.
func (l ThreatLevel) Rank() int {
	switch l {
	case LevelCritical:
		return 4
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	case LevelInfo:
		return 0
	}
	return -1
}

// ParseThreatLevel normalizes s into a ThreatLevel.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	l := ThreatLevel(strings.ToUpper(strings.TrimSpace(s)))
	if l.Rank() < 0 {
		return "", fmt.Errorf("invalid threat level %q", s)
	}
	return l, nil
}

// ContextWindow describes near-duplicate lines around a hit.
type ContextWindow struct {
	Occurrences   int      `json:"occurrences"`
	RelatedEvents []string `json:"related_events"`
}

// FrequencySignal is the per-source event rate over the frequency window.
type FrequencySignal struct {
	Count           int  `json:"count"`
	IsHighFrequency bool `json:"is_high_frequency"`
}

// TimingSignal flags scripted or off-hours activity.
type TimingSignal struct {
	RegularPattern bool `json:"regular_pattern"`
	UnusualTiming  bool `json:"unusual_timing"`
	Suspicious     bool `json:"suspicious"`
}

// SequenceSignal flags brute force, bursts and known attack sequences.
type SequenceSignal struct {
	FailedLogins    int    `json:"failed_logins"`
	RapidSuccession bool   `json:"rapid_succession"`
	KnownSequence   string `json:"known_sequence,omitempty"`
	Suspicious      bool   `json:"suspicious"`
}

// BehaviorSignal is the per-source behavior snapshot attached to a threat.
type BehaviorSignal struct {
	SourceID    string          `json:"source_id"`
	RecordCount int             `json:"record_count"`
	Frequency   FrequencySignal `json:"frequency"`
	Timing      TimingSignal    `json:"timing"`
	Sequence    SequenceSignal  `json:"sequence"`
	RiskScore   int             `json:"risk_score"`
}

// Recommendation lists remediation actions for a scored threat.
type Recommendation struct {
	Immediate bool     `json:"immediate"`
	Actions   []string `json:"actions"`
}

// Threat is one detected pattern hit enriched with score and actions.
// Threats are built once by the pipeline and never mutated afterwards.
type Threat struct {
	ID             string          `json:"id,omitempty"`
	Message        string          `json:"message"`
	Severity       Severity        `json:"severity"`
	Category       string          `json:"category,omitempty"`
	Pattern        string          `json:"pattern,omitempty"`
	Detector       string          `json:"detector,omitempty"` // regex | sigma
	Timestamp      time.Time       `json:"timestamp"`
	LineNumber     int             `json:"line_number,omitempty"`
	Context        ContextWindow   `json:"context"`
	SourceID       string          `json:"source_id,omitempty"`
	Behavior       *BehaviorSignal `json:"behavior,omitempty"`
	Score          int             `json:"score"`
	ThreatLevel    ThreatLevel     `json:"threat_level,omitempty"`
	Recommendation Recommendation  `json:"recommendation"`

	// ThresholdExceeded reports whether the source hit this pattern at least
	// Threshold times within the pattern's time window.
	ThresholdExceeded bool `json:"threshold_exceeded"`
}

// NoThreatsMessage is the message of the sentinel threat returned for clean input.
const NoThreatsMessage = "No threats detected."

// SentinelThreat returns the INFO entry reported when nothing matched.
func SentinelThreat(ts time.Time) Threat {
	return Threat{
		Message:     NoThreatsMessage,
		Severity:    SeverityInfo,
		Timestamp:   ts,
		ThreatLevel: LevelInfo,
	}
}
