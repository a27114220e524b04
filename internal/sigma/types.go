package sigma

import "github.com/iyulab/logwarden/internal/model"

// Match records a Sigma rule hit against one log line.
type Match struct {
	RuleTitle string         `json:"rule_title"`
	RuleID    string         `json:"rule_id,omitempty"`
	Level     string         `json:"level"` // informational | low | medium | high | critical
	Severity  model.Severity `json:"severity"`
	Category  string         `json:"category"`
}

// Event is the flat view of a log line that rules are evaluated against.
type Event struct {
	Message  string
	SourceIP string
	Action   string
}

func (e Event) fields() map[string]interface{} {
	return map[string]interface{}{
		"message":   e.Message,
		"source_ip": e.SourceIP,
		"action":    e.Action,
	}
}

// severityForLevel maps a Sigma level onto the catalog severity scale.
func severityForLevel(level string) model.Severity {
	switch level {
	case "critical":
		return model.SeverityCritical
	case "high":
		return model.SeverityHigh
	case "medium":
		return model.SeverityMedium
	case "low":
		return model.SeverityLow
	default:
		return model.SeverityInfo
	}
}
