package scanner

import (
	"strings"

	"github.com/iyulab/logwarden/internal/model"
)

// BuildContext counts the lines within contextRadius of lines[idx] (the line
// itself excluded, clamped at both ends) that contain the first
// contextPrefixLen characters of lines[idx].
func BuildContext(lines []string, idx int) model.ContextWindow {
	window := model.ContextWindow{RelatedEvents: []string{}}
	if idx < 0 || idx >= len(lines) {
		return window
	}
	prefix := linePrefix(lines[idx])
	if strings.TrimSpace(prefix) == "" {
		return window
	}

	start := max(0, idx-contextRadius)
	end := min(len(lines), idx+contextRadius+1)
	for i := start; i < end; i++ {
		if i == idx {
			continue
		}
		if strings.Contains(lines[i], prefix) {
			window.Occurrences++
			window.RelatedEvents = append(window.RelatedEvents, lines[i])
		}
	}
	return window
}

func linePrefix(line string) string {
	runes := []rune(line)
	if len(runes) > contextPrefixLen {
		runes = runes[:contextPrefixLen]
	}
	return string(runes)
}
