package pipeline

import (
	"time"

	"github.com/iyulab/logwarden/internal/scanner"
)

// thresholdCounter tracks, per (source, pattern), the hit times of one run so
// each threat can report whether its pattern's threshold was reached.
type thresholdCounter struct {
	hits map[string][]time.Time
}

func newThresholdCounter() *thresholdCounter {
	return &thresholdCounter{hits: map[string][]time.Time{}}
}

// observe records a hit at ts and reports whether the pattern now has at
// least Threshold hits from the same source within its time window.
func (c *thresholdCounter) observe(hit scanner.Hit, ts time.Time) bool {
	key := hit.Line.SourceID + "\x00" + hit.Pattern.Name
	times := append(c.hits[key], ts)
	c.hits[key] = times

	threshold := max(hit.Pattern.Threshold, 1)
	if hit.Pattern.TimeWindow <= 0 {
		return len(times) >= threshold
	}
	n := 0
	for _, t := range times {
		d := ts.Sub(t)
		if d < 0 {
			d = -d
		}
		if d <= hit.Pattern.TimeWindow {
			n++
		}
	}
	return n >= threshold
}
