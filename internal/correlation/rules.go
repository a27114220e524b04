package correlation

import "time"

// Rule describes how threats of one category relate to later threats.
type Rule struct {
	Window  time.Duration
	Related []string
}

// DefaultWindow applies to categories without a rule.
const DefaultWindow = 15 * time.Minute

// DefaultRules is the category rule table used for grouping.
var DefaultRules = map[string]Rule{
	"AUTH":                 {Window: 10 * time.Minute, Related: []string{"PRIVILEGE_ESCALATION", "RECONNAISSANCE"}},
	"INJECTION":            {Window: 15 * time.Minute, Related: []string{"XSS", "FILE_ACCESS", "DATA_EXFILTRATION"}},
	"XSS":                  {Window: 15 * time.Minute, Related: []string{"INJECTION"}},
	"RECONNAISSANCE":       {Window: 30 * time.Minute, Related: []string{"AUTH", "INJECTION", "XSS"}},
	"MALWARE":              {Window: time.Hour, Related: []string{"DATA_EXFILTRATION", "CREDENTIAL_ACCESS", "DEFENSE_EVASION"}},
	"PRIVILEGE_ESCALATION": {Window: 30 * time.Minute, Related: []string{"AUTH", "DEFENSE_EVASION"}},
	"DATA_EXFILTRATION":    {Window: time.Hour, Related: []string{"MALWARE"}},
	"DOS":                  {Window: 5 * time.Minute, Related: []string{"RECONNAISSANCE"}},
}

// Template names.
const (
	TemplateReconThenAttack = "reconnaissance_followed_by_attack"
	TemplateBruteForce      = "brute_force_burst"
	TemplateMultiVector     = "multi_vector_attack"
)

// Confidence values for template matches.
const (
	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
)

const (
	reconFollowUpWindow = 30 * time.Minute
	bruteForceWindow    = 5 * time.Minute
	bruteForceMinimum   = 5
	multiVectorWindow   = 15 * time.Minute
	multiVectorMinimum  = 3
)

var attackCategories = map[string]bool{"INJECTION": true, "XSS": true, "AUTH": true}
