package behavior

import (
	"sync"
	"time"
)

// Clock supplies the tracker's notion of "now".
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock.
type WallClock struct{}

// Now returns time.Now().
func (WallClock) Now() time.Time { return time.Now() }

// ReplayClock reports the latest event timestamp observed so far. It is used
// when analyzing historical logs, where wall-clock pruning would discard every
// record. Before the first observation it falls back to the wall clock.
type ReplayClock struct {
	mu     sync.Mutex
	latest time.Time
}

// NewReplayClock returns a ReplayClock with no observations.
func NewReplayClock() *ReplayClock {
	return &ReplayClock{}
}

// Observe advances the clock to ts if ts is later than any previous observation.
func (c *ReplayClock) Observe(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.After(c.latest) {
		c.latest = ts
	}
}

// Now returns the latest observed timestamp.
func (c *ReplayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest.IsZero() {
		return time.Now()
	}
	return c.latest
}

// FixedClock always reports the same instant.
type FixedClock time.Time

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return time.Time(c) }
