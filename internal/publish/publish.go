// Package publish sends detected threats and run summaries to NATS.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/iyulab/logwarden/internal/model"
	"github.com/iyulab/logwarden/internal/pipeline"
)

// Message headers set on every published message.
const (
	HeaderReportID    = "x-report-id"
	HeaderThreatLevel = "x-threat-level"
	HeaderCategory    = "x-category"
)

const defaultFlushTimeout = 5 * time.Second

// msgPublisher is the subset of *nats.Conn the publisher uses.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
}

// ThreatEvent is the payload published per threat.
type ThreatEvent struct {
	ReportID string       `json:"report_id"`
	Threat   model.Threat `json:"threat"`
}

// SummaryEvent is the payload published once per run.
type SummaryEvent struct {
	ReportID     string           `json:"report_id"`
	GeneratedAt  time.Time        `json:"generated_at"`
	LinesScanned int              `json:"lines_scanned"`
	Published    int              `json:"published_threats"`
	Summary      pipeline.Summary `json:"summary"`
}

// Publisher publishes reports to <subject>.threats and <subject>.summary.
type Publisher struct {
	conn     msgPublisher
	close    func()
	subject  string
	minLevel model.ThreatLevel
	logger   *slog.Logger
}

// Connect dials the NATS server at url.
func Connect(url, subject string, minLevel model.ThreatLevel, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("logwarden"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	p := newPublisher(nc, subject, minLevel, logger)
	p.close = nc.Close
	return p, nil
}

func newPublisher(conn msgPublisher, subject string, minLevel model.ThreatLevel, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if minLevel.Rank() < 0 {
		minLevel = model.LevelHigh
	}
	return &Publisher{
		conn:     conn,
		subject:  subject,
		minLevel: minLevel,
		logger:   logger,
	}
}

// ThreatSubject returns the subject threats are published on.
func (p *Publisher) ThreatSubject() string { return p.subject + ".threats" }

// SummarySubject returns the subject run summaries are published on.
func (p *Publisher) SummarySubject() string { return p.subject + ".summary" }

// Publish sends every threat at or above the minimum level, then the run
// summary, and flushes. It returns the number of threats published.
func (p *Publisher) Publish(ctx context.Context, r *pipeline.Report) (int, error) {
	sent := 0
	if !r.Clean() {
		for _, t := range r.Threats {
			if t.ThreatLevel.Rank() < p.minLevel.Rank() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			msg, err := newMsg(p.ThreatSubject(), ThreatEvent{ReportID: r.ID, Threat: t})
			if err != nil {
				return sent, err
			}
			msg.Header.Set(HeaderReportID, r.ID)
			msg.Header.Set(HeaderThreatLevel, string(t.ThreatLevel))
			msg.Header.Set(HeaderCategory, t.Category)
			if err := p.conn.PublishMsg(msg); err != nil {
				return sent, fmt.Errorf("publish threat %s: %w", t.ID, err)
			}
			sent++
		}
	}

	msg, err := newMsg(p.SummarySubject(), SummaryEvent{
		ReportID:     r.ID,
		GeneratedAt:  r.GeneratedAt,
		LinesScanned: r.LinesScanned,
		Published:    sent,
		Summary:      r.Summary,
	})
	if err != nil {
		return sent, err
	}
	msg.Header.Set(HeaderReportID, r.ID)
	if err := p.conn.PublishMsg(msg); err != nil {
		return sent, fmt.Errorf("publish summary: %w", err)
	}

	timeout := defaultFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return sent, fmt.Errorf("flush: %w", err)
	}

	p.logger.Debug("Published report",
		"report_id", r.ID,
		"subject", p.subject,
		"threats", sent)
	return sent, nil
}

// Close closes the connection.
func (p *Publisher) Close() {
	if p.close != nil {
		p.close()
	}
}

func newMsg(subject string, payload any) (*nats.Msg, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	return msg, nil
}
