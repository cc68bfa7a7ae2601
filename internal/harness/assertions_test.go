package harness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/store"
)

var t0 = defaultStartTime

func intp(n int) *int { return &n }

// raceTrace is the trace of a user task that loses to its boundary timer.
func raceTrace() []ir.TraceEvent {
	return []ir.TraceEvent{
		{Step: 0, At: t0, Type: ir.TraceStarted, InstanceID: "instance-1", Detail: "TimerRace"},
		{Step: 1, At: t0, Type: ir.TraceDispatched, InstanceID: "instance-1", ActivityID: "UserTask", Kind: ir.KindUserTask},
		{Step: 1, At: t0, Type: ir.TraceDeferred, InstanceID: "instance-1", ActivityID: "UserTask", Kind: ir.KindUserTask, Detail: "PT6M"},
		{Step: 2, At: t0.Add(5 * time.Minute), Type: ir.TraceAdvanced, Detail: "5m0s"},
		{Step: 2, At: t0.Add(5 * time.Minute), Type: ir.TraceTimers, InstanceID: "instance-1", Detail: "1 fired"},
		{Step: 3, At: t0.Add(6 * time.Minute), Type: ir.TraceAdvanced, Detail: "1m0s"},
		{Step: 3, At: t0.Add(6 * time.Minute), Type: ir.TraceStale, InstanceID: "instance-1", ActivityID: "UserTask", Kind: ir.KindUserTask, Detail: "continuation"},
		{Step: 4, At: t0.Add(6 * time.Minute), Type: ir.TraceTerminated, Detail: "completed"},
	}
}

func TestAssertTraceOrder(t *testing.T) {
	tests := []struct {
		name    string
		events  []string
		wantErr bool
	}{
		{"in order", []string{"deferred", "timers", "stale"}, false},
		{"gaps allowed", []string{"started", "terminated"}, false},
		{"activity scoped", []string{"dispatched:UserTask", "stale:UserTask"}, false},
		{"repeated type", []string{"advanced", "advanced", "terminated"}, false},
		{"wrong order", []string{"stale", "timers"}, true},
		{"wrong activity", []string{"stale:Review"}, true},
		{"missing", []string{"continued"}, true},
		{"too many", []string{"advanced", "advanced", "advanced"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(raceTrace(), Assertion{Type: AssertTraceOrder, Events: tt.events})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, AssertTraceOrder, ae.Type)
			assert.Len(t, ae.Trace, len(raceTrace()))
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		name     string
		event    string
		activity string
		count    *int
		wantErr  bool
	}{
		{"exact", "advanced", "", intp(2), false},
		{"scoped", "stale", "UserTask", intp(1), false},
		{"scoped elsewhere", "stale", "Review", intp(0), false},
		{"at least one", "timers", "", nil, false},
		{"too few", "continued", "", nil, true},
		{"mismatch", "advanced", "", intp(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceCount(raceTrace(), Assertion{
				Type:     AssertTraceCount,
				Event:    tt.event,
				Activity: tt.activity,
				Count:    tt.count,
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "Assertion failed: trace_count")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssertOutcome(t *testing.T) {
	result := &Result{Outcome: "stalled"}

	assert.NoError(t, assertOutcome(result, Assertion{Type: AssertOutcome, Outcome: "stalled"}))

	err := assertOutcome(result, Assertion{Type: AssertOutcome, Outcome: "completed"})
	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "completed", ae.Expected)
	assert.Equal(t, "stalled", ae.Actual)
}

func TestAssertClock(t *testing.T) {
	result := &Result{Clock: t0.Add(6 * time.Minute)}
	actx := &AssertionContext{Start: t0}

	assert.NoError(t, assertClock(result, Assertion{Type: AssertClock, At: "PT6M"}, actx))
	assert.NoError(t, assertClock(result, Assertion{Type: AssertClock, At: "PT360S"}, nil))

	err := assertClock(result, Assertion{Type: AssertClock, At: "PT5M"}, actx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2026-01-01T00:05:00Z")
	assert.Contains(t, err.Error(), "2026-01-01T00:06:00Z")

	shifted := &Result{Clock: time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.NoError(t, assertClock(shifted, Assertion{Type: AssertClock, At: "P1D"},
		&AssertionContext{Start: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}))
}

func TestAssertEnded(t *testing.T) {
	result := &Result{
		Outcome:   "stalled",
		Instances: []string{"instance-1", "instance-2"},
		Ended:     []string{"instance-2"},
	}

	assert.NoError(t, assertEnded(result, Assertion{Type: AssertEnded, Instance: intp(1)}))
	assert.Error(t, assertEnded(result, Assertion{Type: AssertEnded, Instance: intp(0)}))
	assert.Error(t, assertEnded(result, Assertion{Type: AssertEnded}))

	err := assertEnded(result, Assertion{Type: AssertEnded, Instance: intp(5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instance 5 not started")
}

func TestAssertOpen(t *testing.T) {
	result := &Result{
		Instances: []string{"instance-1", "instance-2"},
		Open: []ir.WaitPoint{
			{InstanceID: "instance-1", ActivityID: "Finance", Kind: ir.KindUserTask},
			{InstanceID: "instance-2", ActivityID: "Finance", Kind: ir.KindUserTask},
		},
	}

	assert.NoError(t, assertOpen(result, Assertion{Type: AssertOpen, Activity: "Finance", Count: intp(2)}))
	assert.NoError(t, assertOpen(result, Assertion{Type: AssertOpen, Activity: "Finance", Instance: intp(1), Count: intp(1)}))
	assert.NoError(t, assertOpen(result, Assertion{Type: AssertOpen, Activity: "Legal", Count: intp(0)}))
	assert.Error(t, assertOpen(result, Assertion{Type: AssertOpen, Activity: "Legal"}))
}

func TestAssertHistoryCount(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	writes := []ir.HistoryEvent{
		{Seq: 1, InstanceID: "instance-1", ActivityID: "UserTask", OccurrenceID: "o1", Kind: ir.KindUserTask, Type: ir.HistoryStarted, At: t0},
		{Seq: 2, InstanceID: "instance-1", ActivityID: "UserTask", OccurrenceID: "o1", Kind: ir.KindUserTask, Type: ir.HistoryCanceled, At: t0},
		{Seq: 1, InstanceID: "instance-2", ActivityID: "UserTask", OccurrenceID: "o1", Kind: ir.KindUserTask, Type: ir.HistoryStarted, At: t0},
	}
	for _, ev := range writes {
		require.NoError(t, st.WriteHistory(ctx, ev))
	}

	result := &Result{Instances: []string{"instance-1", "instance-2"}}
	actx := &AssertionContext{Store: st, Ctx: ctx}

	assert.NoError(t, assertHistoryCount(result, Assertion{Type: AssertReached, Activity: "UserTask", Count: intp(2)}, actx, ir.HistoryStarted))
	assert.NoError(t, assertHistoryCount(result, Assertion{Type: AssertCanceled, Activity: "UserTask", Instance: intp(0)}, actx, ir.HistoryCanceled))
	assert.Error(t, assertHistoryCount(result, Assertion{Type: AssertCanceled, Activity: "UserTask", Instance: intp(1)}, actx, ir.HistoryCanceled))
	assert.Error(t, assertHistoryCount(result, Assertion{Type: AssertFinished, Activity: "UserTask"}, actx, ir.HistoryFinished))

	err = assertHistoryCount(result, Assertion{Type: AssertReached, Activity: "UserTask"}, nil, ir.HistoryStarted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a store")
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	result := &Result{Outcome: "completed", Clock: t0.Add(6 * time.Minute), Trace: raceTrace()}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertOutcome, Outcome: "completed"},
		{Type: AssertClock, At: "PT1M"},
		{Type: AssertTraceCount, Event: "stale", Count: intp(2)},
	}, &AssertionContext{Start: t0})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 1 (clock)")
	assert.Contains(t, errs[1], "assertion 2 (trace_count)")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "stale appears exactly 2 times",
		Actual:   "appears 1 times",
		Trace:    raceTrace()[6:7],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Expected: stale appears exactly 2 times")
	assert.Contains(t, msg, "[3] 2026-01-01T00:06:00Z stale instance-1 UserTask (user_task) continuation")
}
