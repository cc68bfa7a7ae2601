package testutil

import (
	"time"

	"github.com/roach88/tempo/internal/driver"
)

// Epoch is the virtual start time every test run uses, so traces and
// history timestamps are stable.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// NewClock returns a virtual clock reading Epoch.
func NewClock() *driver.VirtualClock {
	return driver.NewVirtualClock(Epoch)
}

// At returns Epoch shifted by the ISO-8601 period p. Panics on a bad period.
func At(p string) time.Time {
	return driver.MustParsePeriod(p).AddTo(Epoch)
}
