package testfixtures

import (
	"sync"
	"time"

	"github.com/example/fleet-reservations/internal/scheduler"
)

// Clock is a settable fleet wall clock. Readings are always in JST so that services see
// the same zone the reservation windows are written in.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock starts the clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start.In(JST)}
}

// Now returns the current JST instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc adapts the clock to the Dependencies.Now field.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// SetWallClock moves the clock to hhmm on day, JST.
func (c *Clock) SetWallClock(day scheduler.Date, hhmm string) time.Time {
	at := scheduler.Combine(day, MustTime(hhmm), JST)
	c.mu.Lock()
	c.current = at
	c.mu.Unlock()
	return at
}

// Advance moves the clock forward by d and returns the new reading.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// Current is Now for assertions that only read the clock.
func (c *Clock) Current() time.Time {
	return c.Now()
}
