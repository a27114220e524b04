// Package orchestrator coordinates the Ingest → Analyze → Report → Publish run
// behind the CLI.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iyulab/logwarden/internal/browser"
	"github.com/iyulab/logwarden/internal/config"
	"github.com/iyulab/logwarden/internal/ingest"
	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/pipeline"
	"github.com/iyulab/logwarden/internal/publish"
	"github.com/iyulab/logwarden/internal/reporter"
)

// maxInputBytes caps a single decoded CLI input.
const maxInputBytes = 512 << 20

// StdinName is the input name that reads standard input.
const StdinName = "-"

// Options holds CLI flags for the orchestrator.
type Options struct {
	Inputs    []string // file paths; "-" reads stdin
	OutputDir string   // overrides output.dir
	Formats   []string // overrides output.formats
	Replay    bool
	NoSigma   bool
	Publish   bool // publish even when nats.enabled is false
	Verbose   bool
	Version   string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Publisher sends a finished report to the alert bus.
type Publisher interface {
	Publish(ctx context.Context, r *pipeline.Report) (int, error)
	Close()
}

// Result describes a finished run.
type Result struct {
	Report     *pipeline.Report
	Verdict    reporter.Verdict
	OutputDir  string
	Files      []string
	BundlePath string
	Published  int
}

// Orchestrator runs one CLI analysis.
type Orchestrator struct {
	cfg       *config.Config
	opts      Options
	logger    *slog.Logger
	publisher Publisher                 // optional: injected for testing
	open      func(target string) error // browser opener
	now       func() time.Time
}

// New creates an Orchestrator.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		open:   browser.Open,
		now:    time.Now,
	}
}

// SetPublisher overrides the NATS publisher (used in tests).
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// SetBrowser overrides the browser opener (used in tests).
func (o *Orchestrator) SetBrowser(open func(string) error) {
	o.open = open
}

func (o *Orchestrator) progress(format string, args ...any) {
	fmt.Fprintf(o.opts.Stderr, "[*] "+format+"\n", args...)
}

// Run executes the full run and returns what it produced.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if len(o.opts.Inputs) == 0 {
		return nil, fmt.Errorf("no input files (use %q for stdin)", StdinName)
	}
	startTime := o.now()

	// --- Stage 1: Ingest ---
	text, source, err := o.readInputs()
	if err != nil {
		return nil, err
	}

	// --- Stage 2: Analyze ---
	build, err := BuildPipeline(o.cfg, BuildOptions{
		NoSigma: o.opts.NoSigma,
		Replay:  o.opts.Replay,
		Logger:  o.logger,
	})
	if err != nil {
		return nil, err
	}
	defer build.Close()

	o.progress("Analyzing %s (%d patterns)...", source, build.Catalog.Len())
	report, err := build.Pipeline.Analyze(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	o.progress("Analysis complete: %d lines, %d threats (%s)",
		report.LinesScanned, report.Summary.TotalThreats, report.Duration.Round(time.Millisecond))

	// --- Stage 3: Report ---
	data := reporter.NewReportData(report, source, o.opts.Version)
	res := &Result{Report: report, Verdict: data.Verdict}

	baseDir := o.cfg.Output.Dir
	if o.opts.OutputDir != "" {
		baseDir = o.opts.OutputDir
	}
	res.OutputDir = GenerateOutputDir(baseDir, startTime)
	if err := os.MkdirAll(res.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if o.opts.Verbose {
		o.progress("output: %s", res.OutputDir)
	}

	htmlPath, err := o.writeOutputs(data, res)
	if err != nil {
		return nil, err
	}

	if o.cfg.Output.Bundle {
		zipPath, zipErr := reporter.ExportBundle(res.OutputDir, report.ID, o.opts.Version)
		if zipErr != nil {
			o.logger.Warn("export bundle failed", "error", zipErr)
		} else {
			res.BundlePath = zipPath
			o.progress("Bundle: %s", zipPath)
		}
	}

	// --- Stage 4: Publish ---
	if o.cfg.NATS.Enabled || o.opts.Publish {
		res.Published = o.publish(ctx, report)
	}

	o.printSummary(res, time.Since(startTime))

	if htmlPath != "" && o.cfg.Output.OpenBrowser {
		if err := o.open(browser.FileURL(htmlPath)); err != nil {
			o.logger.Warn("open report in browser", "error", err)
		}
	}
	return res, nil
}

// readInputs decodes every input and joins them into one text so
// correlation spans files.
func (o *Orchestrator) readInputs() (string, string, error) {
	dec := ingest.Decoder{MaxBytes: maxInputBytes}
	texts := make([]string, 0, len(o.opts.Inputs))
	names := make([]string, 0, len(o.opts.Inputs))

	for _, in := range o.opts.Inputs {
		var (
			data []byte
			name string
			err  error
		)
		if in == StdinName {
			name = "stdin"
			data, err = io.ReadAll(io.LimitReader(o.opts.Stdin, maxInputBytes+1))
		} else {
			name = filepath.Base(in)
			data, err = os.ReadFile(in)
		}
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", in, err)
		}

		text, err := dec.Decode(name, data)
		if err != nil {
			return "", "", fmt.Errorf("decode input: %w", err)
		}
		texts = append(texts, strings.TrimRight(text, "\n"))
		names = append(names, name)
	}
	return strings.Join(texts, "\n"), strings.Join(names, ", "), nil
}

// writeOutputs writes the configured formats and returns the HTML path, if any.
func (o *Orchestrator) writeOutputs(data reporter.ReportData, res *Result) (string, error) {
	formats := o.cfg.Output.Formats
	if len(o.opts.Formats) > 0 {
		formats = o.opts.Formats
	}

	var htmlPath string
	for _, f := range formats {
		var (
			path string
			err  error
		)
		switch strings.ToLower(f) {
		case "json":
			path, err = reporter.WriteFile(res.OutputDir, reporter.JSONFile, func(w io.Writer) error {
				return reporter.WriteJSON(w, data)
			})
		case "csv":
			path, err = reporter.WriteFile(res.OutputDir, reporter.FeaturesFile, func(w io.Writer) error {
				return reporter.WriteFeaturesCSV(w, data.Report)
			})
		case "html":
			var rep *reporter.Reporter
			if rep, err = reporter.New(); err != nil {
				return "", fmt.Errorf("create reporter: %w", err)
			}
			path, err = rep.Generate(data, res.OutputDir)
			htmlPath = path
		default:
			return "", fmt.Errorf("unsupported output format: %q (json, html, csv)", f)
		}
		if err != nil {
			return "", fmt.Errorf("write %s output: %w", f, err)
		}
		res.Files = append(res.Files, path)
		o.progress("Report generated: %s", path)
	}
	return htmlPath, nil
}

// publish logs failures instead of returning them.
func (o *Orchestrator) publish(ctx context.Context, report *pipeline.Report) int {
	p := o.publisher
	if p == nil {
		level, _ := model.ParseThreatLevel(o.cfg.NATS.MinLevel)
		conn, err := publish.Connect(o.cfg.NATS.URL, o.cfg.NATS.Subject, level, o.logger)
		if err != nil {
			o.logger.Warn("nats unavailable, skipping publish", "error", err)
			return 0
		}
		p = conn
	}
	defer p.Close()

	n, err := p.Publish(ctx, report)
	if err != nil {
		o.logger.Warn("publish report failed", "report_id", report.ID, "error", err)
		return n
	}
	o.progress("Published %d threat(s) to %s", n, o.cfg.NATS.Subject)
	return n
}

func (o *Orchestrator) printSummary(res *Result, total time.Duration) {
	r := res.Report
	w := o.opts.Stdout
	o.progress("Total time: %s", total.Round(time.Millisecond))

	fmt.Fprintf(w, "\n=== logwarden Report ===\n")
	fmt.Fprintf(w, "Report ID: %s\n", r.ID)
	fmt.Fprintf(w, "Lines: %d | Threats: %d | Critical: %d | Avg score: %.2f\n",
		r.LinesScanned, r.Summary.TotalThreats, r.Summary.CriticalThreats, r.Summary.AverageThreatScore)
	if groups := r.Summary.CorrelationSummary.TotalGroups; groups > 0 {
		fmt.Fprintf(w, "Correlated groups: %d | Attack patterns: %s\n",
			groups, strings.Join(r.Summary.CorrelationSummary.MatchedTemplates, ", "))
	}
	if len(r.Summary.SuspiciousSourceIDs) > 0 {
		fmt.Fprintf(w, "Suspicious sources: %s\n", strings.Join(r.Summary.SuspiciousSourceIDs, ", "))
	}
	fmt.Fprintf(w, "Verdict: %s (%s): %s\n", strings.ToUpper(res.Verdict.Banner), res.Verdict.Urgency, res.Verdict.Reason)
	for _, f := range res.Files {
		fmt.Fprintf(w, "Output: %s\n", f)
	}
	if res.BundlePath != "" {
		fmt.Fprintf(w, "Bundle: %s\n", res.BundlePath)
	}
}

// GenerateOutputDir returns a timestamped directory under baseDir.
func GenerateOutputDir(baseDir string, t time.Time) string {
	return filepath.Join(baseDir, t.Format("2006-01-02T15-04-05"))
}
