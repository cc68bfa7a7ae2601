package driver

import (
	"sync"
	"time"
)

// Clock is the time source an engine consults for timer due checks.
type Clock interface {
	Now() time.Time
}

// VirtualClock is a settable clock that only moves forward.
//
// Each Runner owns one; nothing else may advance it. Safe for concurrent
// reads so an engine may consult it from its own goroutines.
type VirtualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewVirtualClock returns a clock reading start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start.UTC()}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// AdvanceTo sets the clock to t. Setting it to the current time is a no-op;
// setting it earlier fails with *ClockRegressionError and leaves the clock
// unchanged.
func (c *VirtualClock) AdvanceTo(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.Before(c.now) {
		return &ClockRegressionError{Now: c.now, Target: t.UTC()}
	}
	c.now = t.UTC()
	return nil
}

// clockView exposes only Now, so engines and handlers cannot advance a
// Runner's clock even by type assertion.
type clockView struct{ c *VirtualClock }

func (v clockView) Now() time.Time { return v.c.Now() }

// defaultStart is real time at run start, truncated to the second so traces
// print cleanly.
func defaultStart() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
