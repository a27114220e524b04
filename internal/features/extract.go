// Package features flattens threats into ML-ready feature vectors.
package features

import (
	"math"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	ahocorasick "github.com/BobuSumisu/aho-corasick"

	"github.com/iyulab/logwarden/internal/model"
)

// Vector maps feature name to value.
type Vector map[string]float64

// Stats summarizes one numeric column over all rows.
type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Metadata describes the feature table.
type Metadata struct {
	Rows        int              `json:"rows"`
	Columns     []Column         `json:"columns"`
	Numeric     []string         `json:"numeric_features"`
	Binary      []string         `json:"binary_features"`
	Categorical []string         `json:"categorical_features"`
	Stats       map[string]Stats `json:"statistics"`
}

// Result is the output of Extract.
type Result struct {
	Features []Vector `json:"features"`
	Metadata Metadata `json:"metadata"`
}

type keywordFlag struct {
	column string
	trie   *ahocorasick.Trie
}

// Extractor builds feature vectors. It is safe for concurrent use.
type Extractor struct {
	loc   *time.Location
	flags []keywordFlag
}

// New returns an Extractor evaluating time features in loc (UTC when nil).
func New(loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{
		loc: loc,
		flags: []keywordFlag{
			{"has_error_keywords", buildTrie("error", "fail", "invalid")},
			{"has_admin_keywords", buildTrie("admin", "root", "supervisor")},
			{"has_sql_keywords", buildTrie("select", "union", "insert", "update", "delete", "drop")},
			{"has_script_keywords", buildTrie("<script", "javascript:")},
		},
	}
}

func buildTrie(words ...string) *ahocorasick.Trie {
	return ahocorasick.NewTrieBuilder().AddStrings(words).Build()
}

// Extract returns one vector per threat, in order, plus table metadata.
func (e *Extractor) Extract(threats []model.Threat) Result {
	res := Result{Features: make([]Vector, 0, len(threats))}
	for _, t := range threats {
		res.Features = append(res.Features, e.vector(t))
	}
	res.Metadata = describe(res.Features)
	return res
}

func (e *Extractor) vector(t model.Threat) Vector {
	v := make(Vector, len(Schema))

	ts := t.Timestamp.In(e.loc)
	hour := ts.Hour()
	weekend := ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday
	v["hour"] = float64(hour)
	v["minute"] = float64(ts.Minute())
	v["day_of_week"] = float64(ts.Weekday())
	v["is_weekend"] = flag(weekend)
	v["is_business_hours"] = flag(!weekend && hour >= 9 && hour < 17)
	v["is_night_time"] = flag(hour >= 22 || hour <= 5)

	octets := sourceOctets(t.SourceID)
	v["ip_first_octet"] = float64(octets[0])
	v["ip_second_octet"] = float64(octets[1])
	v["is_private_ip"] = flag(isPrivate(octets))
	v["has_ip"] = flag(t.SourceID != "")

	lower := strings.ToLower(t.Message)
	v["message_length"] = float64(len(t.Message))
	for _, f := range e.flags {
		v[f.column] = flag(len(f.trie.MatchString(lower)) > 0)
	}

	var b model.BehaviorSignal
	if t.Behavior != nil {
		b = *t.Behavior
	}
	v["frequency_rate"] = float64(b.Frequency.Count)
	v["is_high_frequency"] = flag(b.Frequency.IsHighFrequency)
	v["has_suspicious_timing"] = flag(b.Timing.Suspicious)
	v["has_regular_pattern"] = flag(b.Timing.RegularPattern)
	v["has_suspicious_sequence"] = flag(b.Sequence.Suspicious)
	v["behavior_risk_score"] = float64(b.RiskScore)

	v["occurrence_count"] = float64(t.Context.Occurrences)
	v["has_related_events"] = flag(len(t.Context.RelatedEvents) > 0)
	v["related_event_count"] = float64(len(t.Context.RelatedEvents))

	v["category_encoded"] = CategoryCodes[t.Category]
	v["severity_encoded"] = SeverityCodes[string(t.Severity)]
	v["threat_score"] = float64(t.Score)
	return v
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func describe(rows []Vector) Metadata {
	md := Metadata{
		Rows:        len(rows),
		Columns:     Schema,
		Numeric:     []string{},
		Binary:      []string{},
		Categorical: []string{},
		Stats:       map[string]Stats{},
	}
	for _, c := range Schema {
		switch c.Kind {
		case Numeric:
			md.Numeric = append(md.Numeric, c.Name)
		case Binary:
			md.Binary = append(md.Binary, c.Name)
		case Categorical:
			md.Categorical = append(md.Categorical, c.Name)
		}
	}
	if len(rows) == 0 {
		return md
	}

	for _, name := range md.Numeric {
		st := Stats{Min: math.Inf(1), Max: math.Inf(-1)}
		var sum float64
		for _, r := range rows {
			x := r[name]
			st.Min = math.Min(st.Min, x)
			st.Max = math.Max(st.Max, x)
			sum += x
		}
		n := float64(len(rows))
		st.Mean = sum / n
		var sq float64
		for _, r := range rows {
			d := r[name] - st.Mean
			sq += d * d
		}
		st.StdDev = math.Sqrt(sq / n)
		// Floating-point summation can land a hair outside the range.
		st.Mean = math.Max(st.Min, math.Min(st.Max, st.Mean))
		md.Stats[name] = st
	}
	return md
}

// sourceOctets returns the decimal value of each dotted part of a source ID
// as the scanner matched it. Values are not range checked, so "300.1.1.1"
// yields 300.
func sourceOctets(sourceID string) [4]int {
	var out [4]int
	parts := strings.Split(sourceID, ".")
	if len(parts) != 4 {
		return out
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return [4]int{}
		}
		out[i] = n
	}
	return out
}

func isPrivate(octets [4]int) bool {
	addr, err := netip.ParseAddr(fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3]))
	return err == nil && addr.IsPrivate()
}
