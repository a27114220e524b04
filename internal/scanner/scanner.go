// Package scanner splits raw log text into lines and matches each line against
// the pattern catalog (and optionally Sigma rules).
package scanner

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/iyulab/logwarden/internal/catalog"
	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/sigma"
)

// ErrInvalidInput is returned for input that is not valid UTF-8 text.
var ErrInvalidInput = errors.New("scanner: input is not valid UTF-8 text")

// Detector names reported on hits.
const (
	DetectorRegex = "regex"
	DetectorSigma = "sigma"
)

// Action labels derived from a line.
const (
	ActionFailedLogin  = "failed_login"
	ActionSuccessLogin = "success_login"
	ActionPortScan     = "port_scan"
	ActionUnknown      = "unknown"
)

const (
	contextRadius    = 5
	contextPrefixLen = 20
)

var ipv4Pattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

// LogLine is one input line with the attributes derived from it.
type LogLine struct {
	Text      string    `json:"text"`
	Number    int       `json:"number"` // 1-based
	SourceID  string    `json:"source_id,omitempty"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp,omitempty"` // zero when the line carries none
}

// Hit is one (line, pattern) match.
type Hit struct {
	Line     LogLine
	Pattern  catalog.Pattern
	Detector string
	Context  model.ContextWindow
}

// Result is the output of a scan.
type Result struct {
	Hits      []Hit
	LineCount int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithSigma adds Sigma rule evaluation after the regex patterns of each line.
func WithSigma(e *sigma.Engine) Option {
	return func(s *Scanner) { s.sigma = e }
}

// WithLocation sets the zone for timestamps without an explicit offset.
func WithLocation(loc *time.Location) Option {
	return func(s *Scanner) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithReferenceTime supplies "now" for formats without a year (syslog).
func WithReferenceTime(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// WithUnicodeFolding matches patterns against the NFKC form of each line, so
// full-width or compatibility characters fold to their ASCII equivalents.
// Hits still carry the original line text.
func WithUnicodeFolding(enabled bool) Option {
	return func(s *Scanner) { s.fold = enabled }
}

// Scanner matches log lines against a catalog. It holds no per-scan state and
// is safe for concurrent use.
type Scanner struct {
	patterns []catalog.Pattern
	sigma    *sigma.Engine
	loc      *time.Location
	now      func() time.Time
	fold     bool
}

// New creates a Scanner over the catalog's patterns.
func New(cat *catalog.Catalog, opts ...Option) *Scanner {
	s := &Scanner{
		patterns: cat.Patterns(),
		loc:      time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan returns one Hit per (line, pattern) where the pattern matches, in
// line-then-pattern order. A line matching several patterns yields several hits.
func (s *Scanner) Scan(ctx context.Context, text string) (*Result, error) {
	if !utf8.ValidString(text) {
		return nil, ErrInvalidInput
	}
	lines := SplitLines(text)
	res := &Result{LineCount: len(lines)}

	for i, raw := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		match := raw
		if s.fold {
			match = norm.NFKC.String(raw)
		}
		line := LogLine{
			Text:      raw,
			Number:    i + 1,
			SourceID:  ExtractSourceID(match),
			Timestamp: parseTimestamp(match, s.loc, s.now),
		}

		var window *model.ContextWindow
		contextFor := func() model.ContextWindow {
			if window == nil {
				w := BuildContext(lines, i)
				window = &w
			}
			return *window
		}

		for _, p := range s.patterns {
			if !p.Regex.MatchString(match) {
				continue
			}
			hitLine := line
			hitLine.Action = DeriveAction(match, p.Category)
			res.Hits = append(res.Hits, Hit{
				Line:     hitLine,
				Pattern:  p,
				Detector: DetectorRegex,
				Context:  contextFor(),
			})
		}

		if s.sigma == nil {
			continue
		}
		matches := s.sigma.MatchLine(ctx, sigma.Event{
			Message:  match,
			SourceIP: line.SourceID,
			Action:   DeriveAction(match, ""),
		})
		for _, m := range matches {
			hitLine := line
			hitLine.Action = DeriveAction(match, m.Category)
			res.Hits = append(res.Hits, Hit{
				Line: hitLine,
				Pattern: catalog.Pattern{
					Name:     "sigma:" + m.RuleTitle,
					Severity: m.Severity,
					Category: m.Category,
				},
				Detector: DetectorSigma,
				Context:  contextFor(),
			})
		}
	}
	return res, nil
}

// SplitLines splits text on newlines, trimming a trailing carriage return from
// each line. A final empty line produced by a trailing newline is dropped.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// ExtractSourceID returns the first IPv4 literal in line, or "".
func ExtractSourceID(line string) string {
	return ipv4Pattern.FindString(line)
}

// DeriveAction labels a line for behavior tracking. Checks run in fixed
// priority order: failed login, successful login, reconnaissance category.
func DeriveAction(line, category string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "failed login"):
		return ActionFailedLogin
	case strings.Contains(lower, "successful login"):
		return ActionSuccessLogin
	case category == "RECONNAISSANCE":
		return ActionPortScan
	default:
		return ActionUnknown
	}
}
