// Package behavior keeps a rolling window of actions per source and derives
// frequency, timing and sequence signals from it.
package behavior

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/iyulab/logwarden/internal/model"
)

// Record is one observed action for a source.
type Record struct {
	SourceID  string
	Action    string
	Timestamp time.Time
}

// Config holds the tracker thresholds.
type Config struct {
	// MaxSources bounds the number of distinct sources kept; the least
	// recently used source is evicted beyond it.
	MaxSources int
	// Retention is how long records are kept relative to the clock's now.
	Retention              time.Duration
	FrequencyWindow        time.Duration
	HighFrequencyThreshold int
	RegularDeviation       time.Duration
	RapidSuccession        time.Duration
	FailedLoginThreshold   int
	// Location is used for the hour-of-day checks.
	Location *time.Location
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MaxSources:             10000,
		Retention:              time.Hour,
		FrequencyWindow:        time.Minute,
		HighFrequencyThreshold: 30,
		RegularDeviation:       100 * time.Millisecond,
		RapidSuccession:        time.Second,
		FailedLoginThreshold:   5,
		Location:               time.UTC,
	}
}

func (c Config) validate() error {
	if c.MaxSources <= 0 {
		return fmt.Errorf("max sources must be positive, got %d", c.MaxSources)
	}
	if c.Retention <= 0 || c.FrequencyWindow <= 0 {
		return fmt.Errorf("retention and frequency window must be positive")
	}
	if c.RegularDeviation < 0 || c.RapidSuccession < 0 {
		return fmt.Errorf("timing thresholds must not be negative")
	}
	return nil
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the tracker clock. The default is WallClock.
func WithClock(c Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the logger used for GC and eviction messages.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

type sourceState struct {
	mu      sync.Mutex
	records []Record
	removed bool // set by Sweep once the state has left the cache
}

// Tracker holds per-source activity. Each source has its own lock and reads
// work on a copy, so concurrent analyses never observe a half-applied write.
type Tracker struct {
	cfg    Config
	clock  Clock
	logger *slog.Logger

	createMu sync.Mutex
	sources  *lru.Cache[string, *sourceState]
	evicted  atomic.Uint64

	gcMu     sync.Mutex
	gcTicker *time.Ticker
	stopGC   chan struct{}
}

// New creates a Tracker.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("behavior config: %w", err)
	}
	t := &Tracker{
		cfg:    cfg,
		clock:  WallClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	cache, err := lru.New[string, *sourceState](cfg.MaxSources)
	if err != nil {
		return nil, fmt.Errorf("create source cache: %w", err)
	}
	t.sources = cache
	return t, nil
}

// Config returns the tracker configuration.
func (t *Tracker) Config() Config { return t.cfg }

// Clock returns the tracker clock.
func (t *Tracker) Clock() Clock { return t.clock }

// Track appends a record for sourceID and prunes that source's records older
// than Retention relative to the clock's now. An empty sourceID is ignored.
func (t *Tracker) Track(sourceID, action string, ts time.Time) {
	if sourceID == "" {
		return
	}
	if rc, ok := t.clock.(*ReplayClock); ok {
		rc.Observe(ts)
	}
	cutoff := t.clock.Now().Add(-t.cfg.Retention)
	for {
		st := t.state(sourceID)
		st.mu.Lock()
		if st.removed {
			st.mu.Unlock()
			continue
		}
		st.records = append(st.records, Record{SourceID: sourceID, Action: action, Timestamp: ts})
		st.records = pruneBefore(st.records, cutoff)
		st.mu.Unlock()
		return
	}
}

func (t *Tracker) state(sourceID string) *sourceState {
	if st, ok := t.sources.Get(sourceID); ok {
		return st
	}
	t.createMu.Lock()
	defer t.createMu.Unlock()
	if st, ok := t.sources.Get(sourceID); ok {
		return st
	}
	st := &sourceState{}
	if t.sources.Add(sourceID, st) {
		t.evicted.Add(1)
	}
	return st
}

// Records returns a copy of the records currently held for sourceID.
func (t *Tracker) Records(sourceID string) []Record {
	st, ok := t.sources.Peek(sourceID)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Record, len(st.records))
	copy(out, st.records)
	return out
}

// Analyze computes the behavior signal for sourceID from a snapshot of its
// records. Records older than Retention are ignored even if not yet pruned.
func (t *Tracker) Analyze(sourceID string) model.BehaviorSignal {
	now := t.clock.Now()
	records := pruneBefore(t.Records(sourceID), now.Add(-t.cfg.Retention))
	return analyze(sourceID, records, now, t.cfg)
}

// Sweep drops every source with no record newer than now-Retention and
// returns how many were removed.
func (t *Tracker) Sweep(now time.Time) int {
	cutoff := now.Add(-t.cfg.Retention)
	removed := 0
	for _, id := range t.sources.Keys() {
		st, ok := t.sources.Peek(id)
		if !ok {
			continue
		}
		st.mu.Lock()
		st.records = pruneBefore(st.records, cutoff)
		if len(st.records) == 0 {
			st.removed = true
			t.sources.Remove(id)
			removed++
		}
		st.mu.Unlock()
	}
	return removed
}

// StartGC sweeps idle sources every interval until StopGC is called.
func (t *Tracker) StartGC(interval time.Duration) {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	if t.gcTicker != nil || interval <= 0 {
		return
	}
	t.gcTicker = time.NewTicker(interval)
	t.stopGC = make(chan struct{})
	go t.gcLoop(t.gcTicker, t.stopGC)
}

// StopGC stops the sweep started by StartGC.
func (t *Tracker) StopGC() {
	t.gcMu.Lock()
	defer t.gcMu.Unlock()
	if t.gcTicker != nil {
		t.gcTicker.Stop()
		t.gcTicker = nil
	}
	if t.stopGC != nil {
		close(t.stopGC)
		t.stopGC = nil
	}
}

func (t *Tracker) gcLoop(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-ticker.C:
			if n := t.Sweep(t.clock.Now()); n > 0 {
				t.logger.Debug("behavior sweep", "removed_sources", n, "sources", t.sources.Len())
			}
		case <-stop:
			return
		}
	}
}

// Stats describes tracker occupancy. Evicted counts sources dropped because
// MaxSources was reached.
type Stats struct {
	Sources int    `json:"sources"`
	Records int    `json:"records"`
	Evicted uint64 `json:"evicted"`
}

// Stats returns current occupancy.
func (t *Tracker) Stats() Stats {
	s := Stats{Evicted: t.evicted.Load()}
	for _, id := range t.sources.Keys() {
		st, ok := t.sources.Peek(id)
		if !ok {
			continue
		}
		st.mu.Lock()
		s.Records += len(st.records)
		st.mu.Unlock()
		s.Sources++
	}
	return s
}

// pruneBefore drops records older than cutoff, keeping order.
func pruneBefore(records []Record, cutoff time.Time) []Record {
	kept := records[:0]
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}
