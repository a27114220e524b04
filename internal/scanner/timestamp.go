package scanner

import (
	"regexp"
	"strings"
	"time"
)

var (
	isoTimestamp    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	syslogTimestamp = regexp.MustCompile(`\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec) [ \d]\d \d{2}:\d{2}:\d{2}\b`)
)

// parseTimestamp returns the first recognizable timestamp in line, or the
// zero time. ISO-8601 forms are tried before syslog's year-less form, which
// borrows the year from now() and never lands more than a day after it.
func parseTimestamp(line string, loc *time.Location, now func() time.Time) time.Time {
	if m := isoTimestamp.FindString(line); m != "" {
		if t, ok := parseISO(m, loc); ok {
			return t
		}
	}
	if m := syslogTimestamp.FindString(line); m != "" {
		t, err := time.ParseInLocation(time.Stamp, m, loc)
		if err == nil {
			ref := now().In(loc)
			t = t.AddDate(ref.Year(), 0, 0)
			// A date well past the reference belongs to last year (Dec 31 read on Jan 1).
			if t.Sub(ref) > 24*time.Hour {
				t = t.AddDate(-1, 0, 0)
			}
			return t
		}
	}
	return time.Time{}
}

func parseISO(s string, loc *time.Location) (time.Time, bool) {
	s = strings.Replace(s, " ", "T", 1)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}
