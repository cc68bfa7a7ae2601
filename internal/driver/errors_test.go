package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tempo/internal/ir"
)

func TestRunError_Message(t *testing.T) {
	wp := ir.WaitPoint{InstanceID: "i-1", ActivityID: "Approve", Kind: ir.KindUserTask}

	err := newUnhandledError(wp)
	assert.Equal(t, "UNHANDLED_WAIT_POINT: no handler registered for wait point (instance=i-1, activity=Approve, kind=user_task)", err.Error())

	cause := errors.New("boom")
	herr := newHandlerError(wp, cause)
	assert.Contains(t, herr.Error(), "HANDLER_ERROR")
	assert.Contains(t, herr.Error(), ": boom")
	assert.ErrorIs(t, herr, cause)
}

func TestIsHelpers_Wrapped(t *testing.T) {
	wp := ir.WaitPoint{InstanceID: "i", ActivityID: "a", Kind: ir.KindUserTask}
	tests := []struct {
		name string
		err  error
		is   func(error) bool
		code string
	}{
		{"unhandled", newUnhandledError(wp), IsUnhandledWaitPoint, "UNHANDLED_WAIT_POINT"},
		{"stalled", newStalledError(1), IsStalledRun, "STALLED_RUN"},
		{"handler", newHandlerError(wp, errors.New("x")), IsHandlerError, "HANDLER_ERROR"},
		{"bound", &RunError{Code: ErrCodeBoundExceeded, Err: &BoundExceededError{Bound: "steps"}}, IsBoundExceeded, "BOUND_EXCEEDED"},
		{"bare bound", &BoundExceededError{Bound: "steps"}, IsBoundExceeded, "BOUND_EXCEEDED"},
		{"clock", &ClockRegressionError{}, IsClockRegression, "CLOCK_REGRESSION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.is(wrapped))
			assert.Equal(t, tt.code, ErrorCode(wrapped))
		})
	}
}

func TestIsHelpers_Negative(t *testing.T) {
	plain := errors.New("plain")
	assert.False(t, IsUnhandledWaitPoint(plain))
	assert.False(t, IsStalledRun(plain))
	assert.False(t, IsHandlerError(plain))
	assert.False(t, IsBoundExceeded(plain))
	assert.False(t, IsClockRegression(plain))
	assert.Equal(t, "", ErrorCode(plain))
	assert.False(t, IsStalledRun(newUnhandledError(ir.WaitPoint{})))
}
