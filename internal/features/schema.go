package features

// Kind classifies a feature column.
type Kind string

const (
	Numeric     Kind = "numeric"
	Binary      Kind = "binary"
	Categorical Kind = "categorical"
)

// Column is one named feature.
type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema lists every feature in output order.
var Schema = []Column{
	{"hour", Numeric},
	{"minute", Numeric},
	{"day_of_week", Categorical},
	{"is_weekend", Binary},
	{"is_business_hours", Binary},
	{"is_night_time", Binary},

	{"ip_first_octet", Numeric},
	{"ip_second_octet", Numeric},
	{"is_private_ip", Binary},
	{"has_ip", Binary},

	{"message_length", Numeric},
	{"has_error_keywords", Binary},
	{"has_admin_keywords", Binary},
	{"has_sql_keywords", Binary},
	{"has_script_keywords", Binary},

	{"frequency_rate", Numeric},
	{"is_high_frequency", Binary},
	{"has_suspicious_timing", Binary},
	{"has_regular_pattern", Binary},
	{"has_suspicious_sequence", Binary},
	{"behavior_risk_score", Numeric},

	{"occurrence_count", Numeric},
	{"has_related_events", Binary},
	{"related_event_count", Numeric},

	{"category_encoded", Categorical},
	{"severity_encoded", Categorical},
	{"threat_score", Numeric},
}

// CategoryCodes encodes threat categories; unknown categories encode as 0.
var CategoryCodes = map[string]float64{
	"AUTH":                 1,
	"INJECTION":            2,
	"XSS":                  3,
	"RECONNAISSANCE":       4,
	"MALWARE":              5,
	"PRIVILEGE_ESCALATION": 6,
	"DATA_EXFILTRATION":    7,
	"DOS":                  8,
	"FILE_ACCESS":          9,
	"SYSTEM":               10,
	"CREDENTIAL_ACCESS":    11,
	"DEFENSE_EVASION":      12,
	"SUSPICIOUS_ACTIVITY":  13,
}

// SeverityCodes encodes severities; unknown severities encode as 0.
var SeverityCodes = map[string]float64{
	"INFO":     1,
	"LOW":      2,
	"MEDIUM":   3,
	"HIGH":     4,
	"CRITICAL": 5,
}
