package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/tempo/internal/driver"
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Trace    []ir.TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", FormatTraceEvent(ev))
		}
	}
	return buf.String()
}

// FormatTraceEvent renders one trace event on a single line:
//
//	[step] time type instance activity (kind) detail
func FormatTraceEvent(ev ir.TraceEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s %s", ev.Step, ev.At.UTC().Format(time.RFC3339), ev.Type)
	if ev.InstanceID != "" {
		fmt.Fprintf(&b, " %s", ev.InstanceID)
	}
	if ev.ActivityID != "" {
		fmt.Fprintf(&b, " %s", ev.ActivityID)
	}
	if ev.Kind != "" {
		fmt.Fprintf(&b, " (%s)", ev.Kind)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, " %s", ev.Detail)
	}
	return b.String()
}

// AssertionContext provides the store and run origin for history
// assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	Start time.Time
}

// EvaluateAssertions checks all assertions against the result.
// Returns a list of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			errors = append(errors, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errors
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertReached:
		return assertHistoryCount(result, a, actx, ir.HistoryStarted)
	case AssertFinished:
		return assertHistoryCount(result, a, actx, ir.HistoryFinished)
	case AssertCanceled:
		return assertHistoryCount(result, a, actx, ir.HistoryCanceled)
	case AssertEnded:
		return assertEnded(result, a)
	case AssertOpen:
		return assertOpen(result, a)
	case AssertOutcome:
		return assertOutcome(result, a)
	case AssertClock:
		return assertClock(result, a, actx)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// instanceFilter resolves the assertion's instance index to an id. The
// empty string selects every instance.
func instanceFilter(result *Result, a Assertion) (string, error) {
	if a.Instance == nil {
		return "", nil
	}
	idx := *a.Instance
	if idx >= len(result.Instances) {
		return "", fmt.Errorf("instance %d not started (run has %d)", idx, len(result.Instances))
	}
	return result.Instances[idx], nil
}

// countMatches applies the Count rule: exact when set, at least one when
// omitted.
func countMatches(a Assertion, n int) bool {
	if a.Count == nil {
		return n > 0
	}
	return n == *a.Count
}

func expectedCount(a Assertion) string {
	if a.Count == nil {
		return "at least 1"
	}
	return fmt.Sprintf("exactly %d", *a.Count)
}

// assertHistoryCount counts history rows of one type for the activity.
func assertHistoryCount(result *Result, a Assertion, actx *AssertionContext, typ ir.HistoryEventType) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("%s requires a store", a.Type)
	}
	instanceID, err := instanceFilter(result, a)
	if err != nil {
		return err
	}

	n, err := actx.Store.CountActivity(actx.Ctx, instanceID, a.Activity, typ)
	if err != nil {
		return err
	}
	if countMatches(a, n) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s %s event(s) for %s", expectedCount(a), typ, a.Activity),
		Actual:   fmt.Sprintf("%d", n),
		Trace:    result.Trace,
	}
}

// assertEnded checks that the instance (or every instance) was observed
// in a terminal state.
func assertEnded(result *Result, a Assertion) error {
	instanceID, err := instanceFilter(result, a)
	if err != nil {
		return err
	}

	check := result.Instances
	if instanceID != "" {
		check = []string{instanceID}
	}
	for _, id := range check {
		if !slices.Contains(result.Ended, id) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("instance %s ended", id),
				Actual:   fmt.Sprintf("still live when the run %s", result.Outcome),
			}
		}
	}
	return nil
}

// assertOpen counts wait points of the activity left open at termination.
func assertOpen(result *Result, a Assertion) error {
	instanceID, err := instanceFilter(result, a)
	if err != nil {
		return err
	}

	n := 0
	for _, wp := range result.Open {
		if wp.ActivityID == a.Activity && (instanceID == "" || wp.InstanceID == instanceID) {
			n++
		}
	}
	if countMatches(a, n) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s open wait point(s) for %s", expectedCount(a), a.Activity),
		Actual:   fmt.Sprintf("%d", n),
	}
}

func assertOutcome(result *Result, a Assertion) error {
	if result.Outcome == a.Outcome {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: a.Outcome,
		Actual:   result.Outcome,
		Trace:    result.Trace,
	}
}

// assertClock checks the final virtual time against start+At.
func assertClock(result *Result, a Assertion, actx *AssertionContext) error {
	p, err := driver.ParsePeriod(a.At)
	if err != nil {
		return err
	}
	start := defaultStartTime
	if actx != nil && !actx.Start.IsZero() {
		start = actx.Start
	}
	want := p.AddTo(start)
	if result.Clock.Equal(want) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: want.UTC().Format(time.RFC3339),
		Actual:   result.Clock.UTC().Format(time.RFC3339),
	}
}

// assertTraceCount checks that a trace event type (optionally narrowed to
// one activity) appears exactly Count times.
func assertTraceCount(trace []ir.TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if string(ev.Type) == a.Event && (a.Activity == "" || ev.ActivityID == a.Activity) {
			n++
		}
	}
	if countMatches(a, n) {
		return nil
	}
	what := a.Event
	if a.Activity != "" {
		what += ":" + a.Activity
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s appears %s times", what, expectedCount(a)),
		Actual:   fmt.Sprintf("appears %d times", n),
		Trace:    trace,
	}
}

// assertTraceOrder checks that the expected events appear in order.
// Events don't need to be consecutive (intervening events are allowed).
// Each entry is a trace type, optionally followed by ":activity".
func assertTraceOrder(trace []ir.TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next == len(a.Events) {
			break
		}
		if traceMatches(ev, a.Events[next]) {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("events in order: %s", strings.Join(a.Events, " → ")),
		Actual:   fmt.Sprintf("%q not found after %s", a.Events[next], strings.Join(a.Events[:next], " → ")),
		Trace:    trace,
	}
}

func traceMatches(ev ir.TraceEvent, want string) bool {
	typ, activity, scoped := strings.Cut(want, ":")
	if string(ev.Type) != typ {
		return false
	}
	return !scoped || ev.ActivityID == activity
}
