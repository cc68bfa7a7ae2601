package driver

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tempo/internal/ir"
)

// RunError is a failure that aborts a run.
//
// Every RunError is fatal for the run that produced it: the Runner never
// retries and never logs-and-continues. Stale wait points are not errors and
// have no code.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// InstanceID, ActivityID and Kind locate the wait point involved, when
	// there is one.
	InstanceID string
	ActivityID string
	Kind       ir.Kind

	// Err is the underlying cause (handler error, engine error).
	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeUnhandledWaitPoint: no handler registered and the policy is strict.
	ErrCodeUnhandledWaitPoint RunErrorCode = "UNHANDLED_WAIT_POINT"

	// ErrCodeStalledRun: nothing open to dispatch, nothing pending, and not
	// every instance has ended.
	ErrCodeStalledRun RunErrorCode = "STALLED_RUN"

	// ErrCodeHandler: a handler or continuation returned an error.
	ErrCodeHandler RunErrorCode = "HANDLER_ERROR"

	// ErrCodeBoundExceeded: the step or virtual-time safety bound was hit.
	ErrCodeBoundExceeded RunErrorCode = "BOUND_EXCEEDED"

	// ErrCodeEngine: the engine boundary itself failed.
	ErrCodeEngine RunErrorCode = "ENGINE_ERROR"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.InstanceID != "" && e.ActivityID != "" {
		msg = fmt.Sprintf("%s (instance=%s, activity=%s, kind=%s)", msg, e.InstanceID, e.ActivityID, e.Kind)
	} else if e.InstanceID != "" {
		msg = fmt.Sprintf("%s (instance=%s)", msg, e.InstanceID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error { return e.Err }

// ClockRegressionError is returned when something tries to move the virtual
// clock backward. It is a programming error and always fatal.
type ClockRegressionError struct {
	Now    time.Time
	Target time.Time
}

// Error implements the error interface.
func (e *ClockRegressionError) Error() string {
	return fmt.Sprintf("virtual clock cannot move backward: now %s, target %s",
		e.Now.Format(time.RFC3339Nano), e.Target.Format(time.RFC3339Nano))
}

func newUnhandledError(wp ir.WaitPoint) *RunError {
	return &RunError{
		Code:       ErrCodeUnhandledWaitPoint,
		Message:    "no handler registered for wait point",
		InstanceID: wp.InstanceID,
		ActivityID: wp.ActivityID,
		Kind:       wp.Kind,
	}
}

func newHandlerError(wp ir.WaitPoint, err error) *RunError {
	return &RunError{
		Code:       ErrCodeHandler,
		Message:    "handler failed",
		InstanceID: wp.InstanceID,
		ActivityID: wp.ActivityID,
		Kind:       wp.Kind,
		Err:        err,
	}
}

func newStalledError(open int) *RunError {
	return &RunError{
		Code:    ErrCodeStalledRun,
		Message: fmt.Sprintf("no progress possible: %d open wait point(s) left undispatched, no continuations or timers pending", open),
	}
}

func newEngineError(instanceID, op string, err error) *RunError {
	return &RunError{
		Code:       ErrCodeEngine,
		Message:    op,
		InstanceID: instanceID,
		Err:        err,
	}
}

func hasCode(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUnhandledWaitPoint reports whether err is an unhandled wait point error.
// Uses errors.As to handle wrapped errors.
func IsUnhandledWaitPoint(err error) bool { return hasCode(err, ErrCodeUnhandledWaitPoint) }

// IsStalledRun reports whether err is a stalled run error.
func IsStalledRun(err error) bool { return hasCode(err, ErrCodeStalledRun) }

// IsHandlerError reports whether err came from a handler or continuation.
func IsHandlerError(err error) bool { return hasCode(err, ErrCodeHandler) }

// IsBoundExceeded reports whether err is a safety bound violation.
// Matches both RunError with ErrCodeBoundExceeded and *BoundExceededError.
func IsBoundExceeded(err error) bool {
	if hasCode(err, ErrCodeBoundExceeded) {
		return true
	}
	var be *BoundExceededError
	return errors.As(err, &be)
}

// IsClockRegression reports whether err is a *ClockRegressionError.
func IsClockRegression(err error) bool {
	var ce *ClockRegressionError
	return errors.As(err, &ce)
}

// ErrorCode returns the code of the first RunError in err's chain. Clock
// regressions report "CLOCK_REGRESSION". Anything else returns "".
func ErrorCode(err error) string {
	var re *RunError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	if IsClockRegression(err) {
		return "CLOCK_REGRESSION"
	}
	var be *BoundExceededError
	if errors.As(err, &be) {
		return string(ErrCodeBoundExceeded)
	}
	return ""
}
