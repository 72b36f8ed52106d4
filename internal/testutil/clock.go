package testutil

import (
	"sync"
	"time"

	"github.com/roach88/conditions/internal/ir"
)

// ManualClock is a wall clock that only moves when told to.
//
// Scenarios and tests advance it explicitly so that delays and intervals
// elapse without sleeping, and runs stamp identical times on every replay.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// DefaultStart is the instant a ManualClock starts at when given the zero
// time.
var DefaultStart = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// NewManualClock creates a clock reading start (UTC).
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = DefaultStart
	}
	return &ManualClock{now: start.UTC()}
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// AdvanceSpan moves the clock forward by a calendar span.
func (c *ManualClock) AdvanceSpan(s ir.Span) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Positive() {
		c.now = s.AddTo(c.now)
	}
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed; callers decide
// whether that is meaningful.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
