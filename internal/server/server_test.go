package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iyulab/logwarden/internal/catalog"
	"github.com/iyulab/logwarden/internal/metrics"
	"github.com/iyulab/logwarden/internal/pipeline"
	"github.com/iyulab/logwarden/internal/reporter"
	"github.com/iyulab/logwarden/internal/server"
)

const burst = "2024-01-01T03:00:00Z failed login from 10.0.0.5\n" +
	"2024-01-01T03:00:01Z failed login from 10.0.0.5\n" +
	"2024-01-01T03:00:02Z failed login from 10.0.0.5"

type fakePublisher struct {
	calls int
	err   error
}

func (f *fakePublisher) Publish(context.Context, *pipeline.Report) (int, error) {
	f.calls++
	return 0, f.err
}

func newServer(t *testing.T, cfg server.Config, opts ...server.Option) *server.Server {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	p, err := pipeline.New(cat)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	rep, err := reporter.New()
	if err != nil {
		t.Fatalf("reporter: %v", err)
	}
	return server.New(p, rep, cfg, opts...)
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, name string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

type analyzeResponse struct {
	Verdict reporter.Verdict `json:"verdict"`
	Source  string           `json:"source"`
	Report  struct {
		ID      string `json:"id"`
		Threats []struct {
			Category string `json:"category"`
			SourceID string `json:"source_id"`
		} `json:"threats"`
		Summary struct {
			TotalThreats int `json:"total_threats"`
		} `json:"summary"`
	} `json:"report"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) analyzeResponse {
	t.Helper()
	var resp analyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := newServer(t, server.Config{Version: "test"})
	addr, err := srv.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(context.Background())

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("unexpected health body: %s", body)
	}
}

func TestServer_AnalyzePlainText(t *testing.T) {
	srv := newServer(t, server.Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(burst))
	req.Header.Set("Content-Type", "text/plain")

	rec := do(t, srv.Handler(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	if resp.Report.Summary.TotalThreats != 3 {
		t.Errorf("total_threats = %d, want 3", resp.Report.Summary.TotalThreats)
	}
	if resp.Report.Threats[0].SourceID != "10.0.0.5" {
		t.Errorf("source_id = %q", resp.Report.Threats[0].SourceID)
	}
	if resp.Source != "api" {
		t.Errorf("source = %q, want api", resp.Source)
	}
}

func TestServer_AnalyzeJSON(t *testing.T) {
	srv := newServer(t, server.Config{})
	body, _ := json.Marshal(map[string]string{"logs": "nmap scan detected from 192.0.2.1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	rec := do(t, srv.Handler(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	if len(resp.Report.Threats) != 1 || resp.Report.Threats[0].Category != "RECONNAISSANCE" {
		t.Errorf("threats = %+v", resp.Report.Threats)
	}
}

func TestServer_AnalyzeErrors(t *testing.T) {
	srv := newServer(t, server.Config{MaxUploadBytes: 64})
	h := srv.Handler()

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"invalid json", "application/json", "{", http.StatusBadRequest},
		{"invalid utf8", "text/plain", "bad \xff bytes", http.StatusBadRequest},
		{"too large", "text/plain", strings.Repeat("a", 65), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := do(t, h, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("expected JSON error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestServer_AnalyzeMethodNotAllowed(t *testing.T) {
	srv := newServer(t, server.Config{})
	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/analyze", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
	if msg := errorBody(t, rec); !strings.Contains(msg, "GET") {
		t.Errorf("error = %q, want method named", msg)
	}

	// Top-level routes behave the same way.
	rec = do(t, srv.Handler(), httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health: expected 405, got %d", rec.Code)
	}
	errorBody(t, rec)
}

func TestServer_NotFoundIsJSON(t *testing.T) {
	srv := newServer(t, server.Config{})
	for _, path := range []string{"/api/v1/nope", "/nope"} {
		rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
		if msg := errorBody(t, rec); msg != "not found" {
			t.Errorf("%s: error = %q", path, msg)
		}
	}
}

// errorBody decodes a JSON {"error": ...} response.
func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	if body.Error == "" {
		t.Error("empty error message")
	}
	return body.Error
}

func TestServer_Upload(t *testing.T) {
	srv := newServer(t, server.Config{})

	rec := do(t, srv.Handler(), upload(t, "auth.log", []byte(burst)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	if resp.Source != "auth.log" {
		t.Errorf("source = %q, want auth.log", resp.Source)
	}
	if resp.Report.Summary.TotalThreats != 3 {
		t.Errorf("total_threats = %d, want 3", resp.Report.Summary.TotalThreats)
	}
}

func TestServer_UploadGzipJSON(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"logs":[{"message":"failed login from 10.0.0.7"}]}`))
	zw.Close()

	srv := newServer(t, server.Config{})
	rec := do(t, srv.Handler(), upload(t, "events.json.gz", buf.Bytes()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec).Report.Summary.TotalThreats; got != 1 {
		t.Errorf("total_threats = %d, want 1", got)
	}
}

func TestServer_UploadRejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := newServer(t, server.Config{
		MaxUploadBytes:    32,
		AllowedExtensions: []string{".log", ".json"},
	}, server.WithMetrics(m, reg))
	h := srv.Handler()

	rec := do(t, h, upload(t, "payload.exe", []byte("x")))
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("extension: expected 415, got %d", rec.Code)
	}
	rec = do(t, h, upload(t, "big.log", []byte(strings.Repeat("a", 33))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("size: expected 413, got %d", rec.Code)
	}
	rec = do(t, h, upload(t, "broken.json", []byte("[1,")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("decode: expected 400, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader("no form"))
	rec = do(t, h, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing file: expected 400, got %d", rec.Code)
	}

	if got := testutil.ToFloat64(m.UploadsRejected.WithLabelValues("extension")); got != 1 {
		t.Errorf("extension rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UploadsRejected.WithLabelValues("too_large")); got != 1 {
		t.Errorf("too_large rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.UploadsRejected.WithLabelValues("decode")); got != 1 {
		t.Errorf("decode rejections = %v, want 1", got)
	}
}

func TestServer_ReportEndpoint(t *testing.T) {
	srv := newServer(t, server.Config{})
	h := srv.Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/report", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before any analysis, got %d", rec.Code)
	}

	do(t, h, httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(burst)))
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/report", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Error("expected the latest report to be served")
	}

	srv.UpdateReport("<html>replaced</html>")
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/report", nil))
	if !strings.Contains(rec.Body.String(), "replaced") {
		t.Errorf("expected updated report, got %s", rec.Body.String())
	}
}

func TestServer_Patterns(t *testing.T) {
	srv := newServer(t, server.Config{})
	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Count    int `json:"count"`
		Patterns []struct {
			Name  string `json:"name"`
			Regex string `json:"regex"`
		} `json:"patterns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count == 0 || resp.Count != len(resp.Patterns) {
		t.Errorf("count = %d, patterns = %d", resp.Count, len(resp.Patterns))
	}
	if resp.Patterns[0].Regex == "" {
		t.Error("patterns should include their regex source")
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := newServer(t, server.Config{}, server.WithMetrics(m, reg))

	m.LinesScanned(3)
	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "logwarden_lines_scanned_total 3") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestServer_Publishes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pub := &fakePublisher{err: errors.New("nats down")}
	srv := newServer(t, server.Config{}, server.WithPublisher(pub), server.WithMetrics(m, reg))

	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(burst)))
	if rec.Code != http.StatusOK {
		t.Fatalf("publish failure must not fail the request, got %d", rec.Code)
	}
	if pub.calls != 1 {
		t.Errorf("publish calls = %d, want 1", pub.calls)
	}
	if got := testutil.ToFloat64(m.PublishErrors); got != 1 {
		t.Errorf("publish errors = %v, want 1", got)
	}
}

func TestServer_StopWithoutStart(t *testing.T) {
	srv := newServer(t, server.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
