// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iyulab/logwarden/internal/ingest"
	"github.com/iyulab/logwarden/internal/metrics"
	"github.com/iyulab/logwarden/internal/pipeline"
	"github.com/iyulab/logwarden/internal/reporter"
	"github.com/iyulab/logwarden/internal/scanner"
)

// multipartOverhead is the body allowance on top of the upload limit for
// multipart boundaries and headers.
const multipartOverhead = 1 << 20

// Publisher forwards finished reports, e.g. to NATS.
type Publisher interface {
	Publish(ctx context.Context, r *pipeline.Report) (int, error)
}

// Config holds the request limits.
type Config struct {
	MaxUploadBytes    int64
	AllowedExtensions []string
	Version           string
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records upload and publish failures on m and serves g at /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithPublisher publishes every report produced by the API.
func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server is the HTTP API. It keeps the HTML of the latest report for /report.
type Server struct {
	pipeline  *pipeline.Pipeline
	reporter  *reporter.Reporter
	cfg       Config
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	publisher Publisher
	logger    *slog.Logger

	mu         sync.RWMutex
	reportHTML string // cached HTML of the latest report

	httpServer *http.Server
}

// New creates a Server.
func New(p *pipeline.Pipeline, rep *reporter.Reporter, cfg Config, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = ingest.DefaultMaxBytes
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = ingest.Extensions
	}
	s := &Server{
		pipeline: p,
		reporter: rep,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/patterns", s.handlePatterns).Methods(http.MethodGet)

	r.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// A subrouter answers its own mismatches; without handlers there the
	// parent reports a plain-text 404.
	for _, router := range []*mux.Router{r, api} {
		router.NotFoundHandler = http.HandlerFunc(handleNotFound)
		router.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	}
	return r
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
}

// Start begins listening on addr (port 0 = OS-assigned) and returns the
// bound "host:port".
func (s *Server) Start(ctx context.Context, addr string) (string, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()

	return ln.Addr().String(), nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// UpdateReport sets the current report HTML (thread-safe).
func (s *Server) UpdateReport(html string) {
	s.mu.Lock()
	s.reportHTML = html
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"patterns": s.pipeline.Catalog().Len(),
		"version":  s.cfg.Version,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	html := s.reportHTML
	s.mu.RUnlock()

	if html == "" {
		writeError(w, http.StatusServiceUnavailable, "report not ready")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	cat := s.pipeline.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      cat.Len(),
		"categories": cat.Categories(),
		"patterns":   cat.Patterns(),
	})
}

type analyzeRequest struct {
	Logs string `json:"logs"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		s.rejectBody(w, err)
		return
	}

	text := string(body)
	if isJSON(r.Header.Get("Content-Type")) {
		var req analyzeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		text = req.Logs
	}
	s.analyze(w, r, text, "api")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !slices.Contains(s.cfg.AllowedExtensions, strings.ToLower(filepath.Ext(name))) {
		s.reject(w, http.StatusUnsupportedMediaType, "extension",
			fmt.Sprintf("file type %q not allowed", filepath.Ext(name)))
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		s.reject(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}
	text, err := ingest.Decoder{MaxBytes: s.cfg.MaxUploadBytes}.Decode(name, data)
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		s.reject(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
		return
	case errors.Is(err, ingest.ErrUnsupported):
		s.reject(w, http.StatusUnsupportedMediaType, "extension", err.Error())
		return
	case err != nil:
		s.reject(w, http.StatusBadRequest, "decode", err.Error())
		return
	}
	s.analyze(w, r, text, name)
}

// analyze runs the pipeline, caches the HTML rendering and publishes.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request, text, source string) {
	report, err := s.pipeline.Analyze(r.Context(), text)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scanner.ErrInvalidInput):
			status = http.StatusBadRequest
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	data := reporter.NewReportData(report, source, s.cfg.Version)
	if s.reporter != nil {
		if html, err := s.reporter.GenerateString(data); err != nil {
			s.logger.Warn("render report failed", "report_id", report.ID, "error", err)
		} else {
			s.UpdateReport(html)
		}
	}

	if s.publisher != nil {
		if _, err := s.publisher.Publish(r.Context(), report); err != nil {
			s.logger.Warn("publish report failed", "report_id", report.ID, "error", err)
			if s.metrics != nil {
				s.metrics.IncrementPublishErrors()
			}
		}
	}

	writeJSON(w, http.StatusOK, data)
}

func (s *Server) rejectBody(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.reject(w, http.StatusRequestEntityTooLarge, "too_large", "request body exceeds size limit")
		return
	}
	writeError(w, http.StatusBadRequest, "read request body")
}

func (s *Server) reject(w http.ResponseWriter, status int, reason, msg string) {
	if s.metrics != nil {
		s.metrics.UploadRejected(reason)
	}
	writeError(w, status, msg)
}

func isJSON(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
