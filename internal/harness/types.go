package harness

import (
	"time"

	"github.com/roach88/tempo/internal/ir"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the run ended as expected and every assertion held.
	Pass bool `json:"pass"`

	// Name is the scenario name.
	Name string `json:"name"`

	// Outcome is the driver outcome: completed, stalled, failed or canceled.
	Outcome string `json:"outcome"`

	// ErrorCode is the run error code, empty for a clean run.
	ErrorCode string `json:"error_code,omitempty"`

	// Err is the run error itself.
	Err error `json:"-"`

	Steps int       `json:"steps"`
	Clock time.Time `json:"clock"` // virtual time at termination

	// Instances lists instance ids in start order.
	Instances []string `json:"instances"`

	// Ended lists the instances observed in a terminal state.
	Ended []string `json:"ended"`

	// Open holds the wait points still open when the run stopped.
	Open []ir.WaitPoint `json:"open,omitempty"`

	// Trace contains every driver trace event in order.
	Trace []ir.TraceEvent `json:"trace"`

	// Digest is the domain-separated hash of the canonical trace.
	Digest string `json:"digest"`

	// Errors contains assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Pass:      true,
		Name:      name,
		Instances: []string{},
		Ended:     []string{},
		Trace:     []ir.TraceEvent{},
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
