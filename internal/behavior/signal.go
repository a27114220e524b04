package behavior

import (
	"strings"
	"time"

	"github.com/iyulab/logwarden/internal/model"
)

// Action labels that only appear in known attack sequences.
const (
	ActionAccessSensitive   = "access_sensitive"
	ActionVulnerabilityScan = "vulnerability_scan"
	ActionExploitAttempt    = "exploit_attempt"
)

// KnownSequence is a fixed multi-step attack signature over action labels.
type KnownSequence struct {
	Name    string
	Actions []string
}

// KnownSequences are matched as contiguous runs of actions.
var KnownSequences = []KnownSequence{
	{Name: "credential_compromise", Actions: []string{"failed_login", "success_login", ActionAccessSensitive}},
	{Name: "scan_and_exploit", Actions: []string{"port_scan", ActionVulnerabilityScan, ActionExploitAttempt}},
}

func analyze(sourceID string, records []Record, now time.Time, cfg Config) model.BehaviorSignal {
	sig := model.BehaviorSignal{
		SourceID:    sourceID,
		RecordCount: len(records),
		Frequency:   frequency(records, now, cfg),
		Timing:      timing(records, cfg),
		Sequence:    sequence(records, cfg),
	}

	risk := 0
	if sig.Frequency.IsHighFrequency {
		risk += 30
	}
	if sig.Timing.Suspicious {
		risk += 25
	}
	if sig.Sequence.Suspicious {
		risk += 25
	}
	risk += min(20, len(records))
	sig.RiskScore = min(100, risk)
	return sig
}

func frequency(records []Record, now time.Time, cfg Config) model.FrequencySignal {
	cutoff := now.Add(-cfg.FrequencyWindow)
	count := 0
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			count++
		}
	}
	return model.FrequencySignal{
		Count:           count,
		IsHighFrequency: count > cfg.HighFrequencyThreshold,
	}
}

func timing(records []Record, cfg Config) model.TimingSignal {
	var sig model.TimingSignal

	if len(records) >= 4 {
		gaps := make([]float64, 0, len(records)-1)
		for i := 1; i < len(records); i++ {
			gaps = append(gaps, float64(records[i].Timestamp.Sub(records[i-1].Timestamp)))
		}
		var sum float64
		for _, g := range gaps {
			sum += g
		}
		mean := sum / float64(len(gaps))
		var dev float64
		for _, g := range gaps {
			if g > mean {
				dev += g - mean
			} else {
				dev += mean - g
			}
		}
		sig.RegularPattern = dev/float64(len(gaps)) < float64(cfg.RegularDeviation)
	}

	for _, r := range records {
		if h := r.Timestamp.In(cfg.Location).Hour(); h >= 2 && h <= 5 {
			sig.UnusualTiming = true
			break
		}
	}
	sig.Suspicious = sig.RegularPattern || sig.UnusualTiming
	return sig
}

func sequence(records []Record, cfg Config) model.SequenceSignal {
	var sig model.SequenceSignal
	actions := make([]string, len(records))
	for i, r := range records {
		actions[i] = r.Action
		if r.Action == "failed_login" {
			sig.FailedLogins++
		}
		if i > 0 && absDuration(r.Timestamp.Sub(records[i-1].Timestamp)) <= cfg.RapidSuccession {
			sig.RapidSuccession = true
		}
	}
	sig.KnownSequence = matchKnownSequence(actions)
	sig.Suspicious = sig.FailedLogins >= cfg.FailedLoginThreshold ||
		sig.RapidSuccession ||
		sig.KnownSequence != ""
	return sig
}

// matchKnownSequence returns the name of the first known sequence whose
// actions appear contiguously in actions, or "".
func matchKnownSequence(actions []string) string {
	joined := "," + strings.Join(actions, ",") + ","
	for _, ks := range KnownSequences {
		if strings.Contains(joined, ","+strings.Join(ks.Actions, ",")+",") {
			return ks.Name
		}
	}
	return ""
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
