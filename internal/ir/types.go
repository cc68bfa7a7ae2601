package ir

import (
	"fmt"
	"time"
)

// Kind tags what sort of paused point a WaitPoint is, or what an Activity
// does when a token reaches it.
type Kind string

// Wait kinds: a token stops here until the outside world (or time) acts.
const (
	KindUserTask         Kind = "user_task"
	KindServiceTask      Kind = "service_task"
	KindBusinessRuleTask Kind = "business_rule_task"
	KindSendTask         Kind = "send_task"
	KindReceiveTask      Kind = "receive_task"
	KindMessageCatch     Kind = "message_catch"
	KindSignalCatch      Kind = "signal_catch"
	KindTimerCatch       Kind = "timer_catch"
	KindBoundaryTimer    Kind = "boundary_timer"
	KindEventTimer       Kind = "event_timer"
)

// Pass-through kinds: the engine moves on without outside input.
const (
	KindStart         Kind = "start"
	KindEnd           Kind = "end"
	KindParallel      Kind = "parallel"
	KindExclusive     Kind = "exclusive"
	KindScript        Kind = "script"
	KindBoundaryError Kind = "boundary_error"
)

var waitKinds = map[Kind]bool{
	KindUserTask:         true,
	KindServiceTask:      true,
	KindBusinessRuleTask: true,
	KindSendTask:         true,
	KindReceiveTask:      true,
	KindMessageCatch:     true,
	KindSignalCatch:      true,
	KindTimerCatch:       true,
	KindBoundaryTimer:    true,
	KindEventTimer:       true,
}

var passKinds = map[Kind]bool{
	KindStart:         true,
	KindEnd:           true,
	KindParallel:      true,
	KindExclusive:     true,
	KindScript:        true,
	KindBoundaryError: true,
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if waitKinds[k] || passKinds[k] {
		return k, nil
	}
	return "", fmt.Errorf("unknown activity kind %q", s)
}

// IsWait reports whether a token reaching an activity of this kind pauses.
// Boundary and event-subprocess timers count: they surface as timer wait
// points even though they are never entered by a token.
func (k Kind) IsWait() bool { return waitKinds[k] }

// IsTimer reports whether the kind is resolved by clock advancement.
func (k Kind) IsTimer() bool {
	return k == KindTimerCatch || k == KindBoundaryTimer || k == KindEventTimer
}

// IsTask reports whether the kind is completed with variables or failed.
func (k Kind) IsTask() bool {
	switch k {
	case KindUserTask, KindServiceTask, KindBusinessRuleTask, KindSendTask:
		return true
	}
	return false
}

// IsEvent reports whether the kind is resolved by delivering a message or
// signal.
func (k Kind) IsEvent() bool {
	switch k {
	case KindMessageCatch, KindSignalCatch, KindReceiveTask:
		return true
	}
	return false
}

// Attachable reports whether boundary events may be attached to the kind.
func (k Kind) Attachable() bool {
	return k.IsTask() || k == KindReceiveTask
}

// WaitPoint is the raw record an engine reports for one open paused point.
//
// OccurrenceID is unique per reach: re-entering the same activity (a loop in
// the process) produces a new OccurrenceID.
type WaitPoint struct {
	InstanceID   string    `json:"instance_id"`
	ActivityID   string    `json:"activity_id"`
	ExecutionID  string    `json:"execution_id"`
	OccurrenceID string    `json:"occurrence_id"`
	Kind         Kind      `json:"kind"`
	DueAt        time.Time `json:"due_at,omitzero"`     // timers only
	EventName    string    `json:"event_name,omitempty"` // messages and signals
}

func (w WaitPoint) String() string {
	return fmt.Sprintf("%s[%s] instance=%s occurrence=%s", w.ActivityID, w.Kind, w.InstanceID, w.OccurrenceID)
}

// ProcessDefinition is a compiled process.
// Activities keep their declaration order.
type ProcessDefinition struct {
	Key        string     `json:"key"`
	Start      string     `json:"start"`
	Activities []Activity `json:"activities"`
}

// Activity returns the activity with the given id.
func (d *ProcessDefinition) Activity(id string) (*Activity, bool) {
	for i := range d.Activities {
		if d.Activities[i].ID == id {
			return &d.Activities[i], true
		}
	}
	return nil, false
}

// Attached returns the boundary events attached to activityID, in
// declaration order.
func (d *ProcessDefinition) Attached(activityID string) []*Activity {
	var out []*Activity
	for i := range d.Activities {
		if d.Activities[i].AttachedTo == activityID {
			out = append(out, &d.Activities[i])
		}
	}
	return out
}

// EventTimers returns the process-scoped (event subprocess) timers.
func (d *ProcessDefinition) EventTimers() []*Activity {
	var out []*Activity
	for i := range d.Activities {
		if d.Activities[i].Kind == KindEventTimer {
			out = append(out, &d.Activities[i])
		}
	}
	return out
}

// Incoming counts the flows that target activityID.
func (d *ProcessDefinition) Incoming(activityID string) int {
	n := 0
	for _, a := range d.Activities {
		for _, f := range a.Next {
			if f.Target == activityID {
				n++
			}
		}
	}
	return n
}

// Activity is one node of a process definition.
type Activity struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	Next []Flow `json:"next,omitempty"`

	// AttachedTo names the host activity of a boundary event.
	AttachedTo string `json:"attached_to,omitempty"`

	// Interrupting boundary/event timers cancel their host scope when fired.
	Interrupting bool `json:"interrupting,omitempty"`

	// Duration is an ISO-8601 duration for timer kinds.
	Duration string `json:"duration,omitempty"`

	// EventName is the message or signal name for event kinds.
	EventName string `json:"event_name,omitempty"`

	// Set holds variables a script activity writes.
	Set Object `json:"set,omitempty"`
}

// Flow is an outgoing sequence flow. Condition names a variable that must be
// truthy for an exclusive gateway to take the flow. Default marks the flow
// taken when no condition holds.
type Flow struct {
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
	Default   bool   `json:"default,omitempty"`
}

// HistoryEventType classifies a history entry.
type HistoryEventType string

const (
	HistoryStarted  HistoryEventType = "started"
	HistoryFinished HistoryEventType = "finished"
	HistoryCanceled HistoryEventType = "canceled"
)

// HistoryEvent records an activity transition inside an instance.
// Seq orders events within one engine; At is the instance's virtual time.
type HistoryEvent struct {
	Seq           int64            `json:"seq"`
	InstanceID    string           `json:"instance_id"`
	DefinitionKey string           `json:"definition_key"`
	ActivityID    string           `json:"activity_id"`
	OccurrenceID  string           `json:"occurrence_id"`
	Kind          Kind             `json:"kind"`
	Type          HistoryEventType `json:"type"`
	At            time.Time        `json:"at"`
}
