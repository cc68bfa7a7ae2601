package driver

import (
	"fmt"
	"time"
)

// DefaultMaxSteps is the default maximum number of Runner loop iterations per
// Execute call.
const DefaultMaxSteps = 1000

// budget bounds a run so a misconfigured scenario (a continuation that keeps
// deferring itself, a timer cycle) fails instead of spinning.
//
//   - step bound: loop iterations of one Execute call
//   - advance bound: virtual time elapsed since the run's clock origin
//
// Either bound set to zero is disabled; the step bound never is by default.
type budget struct {
	maxSteps   int
	steps      int
	maxAdvance time.Duration
	origin     time.Time
}

func newBudget(maxSteps int, maxAdvance time.Duration, origin time.Time) *budget {
	return &budget{maxSteps: maxSteps, maxAdvance: maxAdvance, origin: origin}
}

// Step counts one loop iteration.
func (b *budget) Step() error {
	b.steps++
	if b.maxSteps > 0 && b.steps > b.maxSteps {
		return &BoundExceededError{Bound: "steps", Steps: b.steps, MaxSteps: b.maxSteps}
	}
	return nil
}

// CheckAdvance validates a clock target against the advance bound.
func (b *budget) CheckAdvance(target time.Time) error {
	if b.maxAdvance <= 0 {
		return nil
	}
	if elapsed := target.Sub(b.origin); elapsed > b.maxAdvance {
		return &BoundExceededError{Bound: "advance", Elapsed: elapsed, MaxAdvance: b.maxAdvance}
	}
	return nil
}

// Reset starts a new step count; the advance origin is kept for the run.
func (b *budget) Reset() { b.steps = 0 }

// Steps returns the current step count.
func (b *budget) Steps() int { return b.steps }

// BoundExceededError is returned when a run hits a safety bound.
type BoundExceededError struct {
	Bound      string // "steps" or "advance"
	Steps      int
	MaxSteps   int
	Elapsed    time.Duration
	MaxAdvance time.Duration
}

// Error implements the error interface.
func (e *BoundExceededError) Error() string {
	if e.Bound == "advance" {
		return fmt.Sprintf("run exceeded max virtual-time advance: %s > %s", e.Elapsed, e.MaxAdvance)
	}
	return fmt.Sprintf("run exceeded max steps: %d steps > %d limit", e.Steps, e.MaxSteps)
}
