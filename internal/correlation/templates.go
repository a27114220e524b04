package correlation

import (
	"time"

	"github.com/iyulab/logwarden/internal/model"
)

// matchTemplates runs the three fixed templates over a time-sorted copy of
// threats. Each template reports at most its first qualifying match.
func matchTemplates(threats []model.Threat) []PatternMatch {
	sorted := sortedByTime(threats)
	matches := []PatternMatch{}
	if m, ok := reconThenAttack(sorted); ok {
		matches = append(matches, m)
	}
	if m, ok := bruteForce(sorted); ok {
		matches = append(matches, m)
	}
	if m, ok := multiVector(sorted); ok {
		matches = append(matches, m)
	}
	return matches
}

func reconThenAttack(sorted []model.Threat) (PatternMatch, bool) {
	for i, recon := range sorted {
		if recon.Category != "RECONNAISSANCE" {
			continue
		}
		for _, next := range sorted[i+1:] {
			if next.Timestamp.Sub(recon.Timestamp) > reconFollowUpWindow {
				break
			}
			if attackCategories[next.Category] {
				return PatternMatch{
					Template:    TemplateReconThenAttack,
					Description: "Reconnaissance followed by an attack attempt within 30 minutes",
					Threats:     []model.Threat{recon, next},
					Timestamp:   recon.Timestamp,
					Confidence:  ConfidenceHigh,
				}, true
			}
		}
	}
	return PatternMatch{}, false
}

func bruteForce(sorted []model.Threat) (PatternMatch, bool) {
	var auth []model.Threat
	for _, t := range sorted {
		if t.Category == "AUTH" {
			auth = append(auth, t)
		}
	}
	for _, w := range slidingWindows(auth, bruteForceWindow) {
		if len(w) >= bruteForceMinimum {
			return PatternMatch{
				Template:    TemplateBruteForce,
				Description: "Burst of authentication threats within 5 minutes",
				Threats:     w,
				Timestamp:   w[0].Timestamp,
				Confidence:  ConfidenceHigh,
			}, true
		}
	}
	return PatternMatch{}, false
}

func multiVector(sorted []model.Threat) (PatternMatch, bool) {
	for _, w := range slidingWindows(sorted, multiVectorWindow) {
		categories := map[string]bool{}
		for _, t := range w {
			categories[t.Category] = true
		}
		if len(categories) >= multiVectorMinimum {
			return PatternMatch{
				Template:    TemplateMultiVector,
				Description: "Three or more attack categories within 15 minutes",
				Threats:     w,
				Timestamp:   w[0].Timestamp,
				Confidence:  ConfidenceMedium,
			}, true
		}
	}
	return PatternMatch{}, false
}

// slidingWindows returns, for each start index, the run of threats whose
// time from the start is within size. Single-threat windows are dropped.
func slidingWindows(sorted []model.Threat, size time.Duration) [][]model.Threat {
	var windows [][]model.Threat
	for i := range sorted {
		end := i + 1
		for end < len(sorted) && sorted[end].Timestamp.Sub(sorted[i].Timestamp) <= size {
			end++
		}
		if end-i > 1 {
			windows = append(windows, sorted[i:end])
		}
	}
	return windows
}
