package scoring

import "github.com/iyulab/logwarden/internal/model"

var baseActions = map[model.ThreatLevel][]string{
	model.LevelCritical: {
		"Isolate affected systems immediately",
		"Escalate to the incident response team",
		"Preserve logs and forensic evidence",
	},
	model.LevelHigh: {
		"Investigate within 1 hour",
		"Block the source if confirmed malicious",
		"Review related activity from the same source",
	},
	model.LevelMedium: {
		"Investigate within 24 hours",
		"Increase monitoring of the source",
	},
	model.LevelLow: {
		"Review during routine log analysis",
	},
	model.LevelInfo: {
		"No action required",
	},
}

var categoryActions = map[string]map[model.ThreatLevel][]string{
	"AUTH": {
		model.LevelCritical: {"Lock affected accounts", "Force password reset for targeted users", "Enable multi-factor authentication"},
		model.LevelHigh:     {"Temporarily block the source address", "Review authentication logs for successful logins"},
		model.LevelMedium:   {"Monitor for continued authentication failures"},
		model.LevelLow:      {"Verify account lockout policy"},
	},
	"INJECTION": {
		model.LevelCritical: {"Take the affected application offline", "Audit database for unauthorized changes"},
		model.LevelHigh:     {"Enable WAF blocking rules for injection payloads", "Review input validation on the targeted endpoint"},
		model.LevelMedium:   {"Add the payload signature to WAF monitoring"},
		model.LevelLow:      {"Review query parameterization"},
	},
	"XSS": {
		model.LevelCritical: {"Invalidate active user sessions", "Remove injected content"},
		model.LevelHigh:     {"Enable output encoding and CSP headers", "Review the targeted page for stored payloads"},
		model.LevelMedium:   {"Add the payload signature to WAF monitoring"},
	},
	"RECONNAISSANCE": {
		model.LevelCritical: {"Block the scanning source at the perimeter", "Audit exposed services"},
		model.LevelHigh:     {"Rate-limit the scanning source", "Check for follow-up exploitation attempts"},
		model.LevelMedium:   {"Add the source to the watch list"},
		model.LevelLow:      {"Review firewall exposure"},
	},
	"MALWARE": {
		model.LevelCritical: {"Quarantine infected hosts", "Run a full antivirus scan", "Rotate credentials used on affected hosts"},
		model.LevelHigh:     {"Scan affected hosts", "Block known malicious hashes and domains"},
		model.LevelMedium:   {"Verify endpoint protection status"},
	},
	"PRIVILEGE_ESCALATION": {
		model.LevelCritical: {"Revoke elevated privileges", "Audit sudoers and administrator groups"},
		model.LevelHigh:     {"Review recent privilege changes"},
		model.LevelMedium:   {"Verify least-privilege configuration"},
	},
	"DATA_EXFILTRATION": {
		model.LevelCritical: {"Block outbound traffic from affected hosts", "Identify exposed data sets"},
		model.LevelHigh:     {"Review egress traffic for the source", "Check DLP alerts"},
		model.LevelMedium:   {"Monitor outbound transfer volumes"},
	},
	"DOS": {
		model.LevelCritical: {"Engage upstream DDoS mitigation", "Scale or shed load on affected services"},
		model.LevelHigh:     {"Apply rate limiting to the source"},
		model.LevelMedium:   {"Monitor request rates"},
	},
	"FILE_ACCESS": {
		model.LevelCritical: {"Audit access to sensitive files", "Restrict file permissions"},
		model.LevelHigh:     {"Review path normalization on the targeted endpoint"},
		model.LevelMedium:   {"Monitor access to sensitive paths"},
	},
	"CREDENTIAL_ACCESS": {
		model.LevelCritical: {"Reset credentials for all accounts on the host", "Isolate the host"},
		model.LevelHigh:     {"Audit LSASS access and credential stores"},
	},
	"DEFENSE_EVASION": {
		model.LevelCritical: {"Restore audit logging", "Collect remaining logs off-host"},
		model.LevelHigh:     {"Verify audit configuration integrity"},
	},
}

// Recommend returns the base actions for the score's level followed by any
// category specific actions for that level. Unknown categories get the base
// set alone. Immediate is true for CRITICAL and HIGH.
func Recommend(score int, category string) model.Recommendation {
	level := Classify(score)
	actions := append([]string{}, baseActions[level]...)
	actions = append(actions, categoryActions[category][level]...)
	return model.Recommendation{
		Immediate: level == model.LevelCritical || level == model.LevelHigh,
		Actions:   actions,
	}
}
