// Package harness runs driver scenarios and checks their outcome.
//
// A scenario deploys process definitions to the reference engine, answers
// wait points with declarative actions, executes the run under a virtual
// clock, and asserts on history, the final clock and the trace. Every run
// gets a fresh store, a fresh engine and sequential instance ids, so a
// scenario always produces the same trace.
//
// # Scenario Format
//
//	name: timer_race_pt6m
//	description: "The boundary timer interrupts the user task"
//	definitions:
//	  - ../processes/timer_race.cue
//	start: TimerRace
//	variables: { amount: 10 }
//	policy: strict            # or lenient
//	actions:
//	  - activity: UserTask
//	    kind: user_task
//	    defer: PT6M
//	    then:
//	      do: complete
//	assertions:
//	  - type: canceled
//	    activity: UserTask
//	    count: 1
//	  - type: clock
//	    at: PT6M
//
// Several instances are started with instances: [{key, variables,
// actions}] instead of start. Instance actions override scenario actions for
// that instance only.
//
// # Actions
//
//   - complete: complete a task, merging variables
//   - fail: raise reason as a business error from a task
//   - receive: deliver variables to a message, signal or receive wait point
//   - send: correlate message (or broadcast signal) with variables, then
//     complete the send task
//   - noop: leave the point open, for points resolved by another instance
//
// defer: <period> with then: <step> leaves the point open and runs the step
// once the virtual clock has advanced by the period.
//
// # Assertion Types
//
//   - reached, finished, canceled: history count for an activity
//   - ended: the instance (or every instance) reached a terminal state
//   - open: wait points still open when the run stopped
//   - outcome: completed, stalled, failed or canceled
//   - clock: final virtual time as a period from the start time
//   - trace_count: occurrences of a trace event type
//   - trace_order: trace events appear in order, gaps allowed
//
// count is exact when given, "at least one" otherwise. instance narrows a
// history assertion to one instance by start index.
//
// # Golden Files
//
// RunWithGolden compares the canonical JSON trace against
// testdata/golden/<name>.golden via goldie; pass -update to regenerate.
package harness
