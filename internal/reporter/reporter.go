package reporter

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iyulab/logwarden/internal/correlation"
	"github.com/iyulab/logwarden/internal/features"
	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/pipeline"
)

//go:embed templates/*.tmpl
var templates embed.FS

// Output file names inside the output directory.
const (
	HTMLFile     = "report.html"
	JSONFile     = "report.json"
	FeaturesFile = "features.csv"
)

// ReportData is the complete data model passed to the HTML template.
type ReportData struct {
	// Header
	Source      string    `json:"source"` // input file names or "stdin"
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"version"`

	// Decision
	Verdict Verdict `json:"verdict"`

	// Summary
	Levels     LevelSummary `json:"levels"`
	Indicators []Indicator  `json:"indicators"`

	Report *pipeline.Report `json:"report"`
}

// NewReportData assembles the template data for a finished run.
func NewReportData(r *pipeline.Report, source, version string) ReportData {
	agg := &Aggregator{}
	return ReportData{
		Source:      source,
		GeneratedAt: r.GeneratedAt,
		Version:     version,
		Verdict:     agg.Assess(r),
		Levels:      SummarizeLevels(r.Threats),
		Indicators:  CollectIndicators(r.Threats),
		Report:      r,
	}
}

// Reporter generates HTML reports from analysis results.
type Reporter struct {
	tmpl *template.Template
}

// New creates a Reporter with the embedded HTML template.
func New() (*Reporter, error) {
	funcMap := template.FuncMap{
		"bannerClass": func(v Verdict) string {
			if v.Banner == "red" && v.Urgency == "immediate" {
				return "banner-critical"
			}
			switch v.Banner {
			case "red":
				return "banner-red"
			case "yellow":
				return "banner-yellow"
			default:
				return "banner-green"
			}
		},
		"levelClass": func(l model.ThreatLevel) string {
			return "level-" + strings.ToLower(string(l))
		},
		"severityClass": func(s model.Severity) string {
			return "sev-" + strings.ToLower(string(s))
		},
		"confidenceClass": func(c string) string {
			if c == correlation.ConfidenceHigh {
				return "confidence-high"
			}
			return "confidence-medium"
		},
		"join": strings.Join,
		"ts": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format(time.RFC3339)
		},
	}

	tmpl, err := template.New("report.html.tmpl").Funcs(funcMap).ParseFS(templates, "templates/report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	return &Reporter{tmpl: tmpl}, nil
}

// Render writes the HTML report to w.
func (r *Reporter) Render(w io.Writer, data ReportData) error {
	if err := r.tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// GenerateString renders the HTML template to a string (used by serve mode).
func (r *Reporter) GenerateString(data ReportData) (string, error) {
	var buf strings.Builder
	if err := r.Render(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Generate renders the HTML report into outputDir and returns its path.
func (r *Reporter) Generate(data ReportData, outputDir string) (string, error) {
	return WriteFile(outputDir, HTMLFile, func(w io.Writer) error {
		return r.Render(w, data)
	})
}

// WriteJSON writes data as indented JSON.
func WriteJSON(w io.Writer, data ReportData) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteFeaturesCSV writes the run's feature table.
func WriteFeaturesCSV(w io.Writer, r *pipeline.Report) error {
	return features.WriteCSV(w, r.MLFeatures)
}

// WriteFile creates name in outputDir and fills it with write.
func WriteFile(outputDir, name string, write func(io.Writer) error) (string, error) {
	path := filepath.Join(outputDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()

	if err := write(f); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return path, nil
}
