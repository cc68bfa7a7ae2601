package driver

import (
	"context"

	"github.com/roach88/tempo/internal/ir"
)

// Engine is the process engine boundary the Runner drives.
//
// Implementations host the instances; the Runner never inspects their state
// beyond what this interface reports. Every time-sensitive decision an
// engine makes (timer due dates, which jobs are due) must read the Clock it
// was handed in StartRequest, never real time.
type Engine interface {
	// StartInstance starts an instance of the given definition and returns
	// its id.
	StartInstance(ctx context.Context, req StartRequest) (string, error)

	// OpenWaitPoints lists the instance's open wait points in discovery
	// order, timers included.
	OpenWaitPoints(ctx context.Context, instanceID string) ([]ir.WaitPoint, error)

	// WaitPoint re-fetches one occurrence. ok is false when the occurrence
	// is no longer open.
	WaitPoint(ctx context.Context, instanceID, occurrenceID string) (wp ir.WaitPoint, ok bool, err error)

	// IsEnded reports whether the instance reached a terminal state.
	IsEnded(ctx context.Context, instanceID string) (bool, error)

	// Complete resumes a task wait point with output variables.
	Complete(ctx context.Context, wp ir.WaitPoint, vars ir.Variables) error

	// Fail resumes a task wait point with a business error.
	Fail(ctx context.Context, wp ir.WaitPoint, reason string) error

	// Deliver resumes a message, signal or receive wait point.
	Deliver(ctx context.Context, wp ir.WaitPoint, payload ir.Variables) error

	// ExecuteDueJobs fires every timer of the instance that is due at the
	// instance clock's current time and returns how many fired.
	ExecuteDueJobs(ctx context.Context, instanceID string) (int, error)
}

// StartRequest carries everything an engine needs to start an instance.
type StartRequest struct {
	DefinitionKey string
	Variables     ir.Variables
	Clock         Clock
}
