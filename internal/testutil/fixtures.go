package testutil

import "github.com/roach88/tempo/internal/ir"

func to(targets ...string) []ir.Flow {
	flows := make([]ir.Flow, len(targets))
	for i, t := range targets {
		flows[i] = ir.Flow{Target: t}
	}
	return flows
}

// TimerRace is a user task racing an interrupting boundary timer:
//
//	StartEvent -> UserTask -> EndEventCompleted
//	              UserTask ~Timeout(PT5M)~> EndEventCanceled
func TimerRace() *ir.ProcessDefinition {
	return &ir.ProcessDefinition{
		Key:   "TimerRace",
		Start: "StartEvent",
		Activities: []ir.Activity{
			{ID: "StartEvent", Kind: ir.KindStart, Next: to("UserTask")},
			{ID: "UserTask", Kind: ir.KindUserTask, Next: to("EndEventCompleted")},
			{ID: "EndEventCompleted", Kind: ir.KindEnd},
			{ID: "Timeout", Kind: ir.KindBoundaryTimer, AttachedTo: "UserTask", Interrupting: true, Duration: "PT5M", Next: to("EndEventCanceled")},
			{ID: "EndEventCanceled", Kind: ir.KindEnd},
		},
	}
}

// EventTimerRace is TimerRace with the timer on an interrupting event
// subprocess instead of the task boundary.
func EventTimerRace() *ir.ProcessDefinition {
	return &ir.ProcessDefinition{
		Key:   "EventTimerRace",
		Start: "StartEvent",
		Activities: []ir.Activity{
			{ID: "StartEvent", Kind: ir.KindStart, Next: to("UserTask")},
			{ID: "UserTask", Kind: ir.KindUserTask, Next: to("EndEventCompleted")},
			{ID: "EndEventCompleted", Kind: ir.KindEnd},
			{ID: "Timeout", Kind: ir.KindEventTimer, Interrupting: true, Duration: "PT5M", Next: to("EndEventCanceled")},
			{ID: "EndEventCanceled", Kind: ir.KindEnd},
		},
	}
}

// ReviewLoop re-enters Review until the "approved" variable is truthy.
func ReviewLoop() *ir.ProcessDefinition {
	return &ir.ProcessDefinition{
		Key:   "ReviewLoop",
		Start: "StartEvent",
		Activities: []ir.Activity{
			{ID: "StartEvent", Kind: ir.KindStart, Next: to("Review")},
			{ID: "Review", Kind: ir.KindUserTask, Next: to("Decide")},
			{ID: "Decide", Kind: ir.KindExclusive, Next: []ir.Flow{
				{Target: "Approved", Condition: "approved"},
				{Target: "Review", Default: true},
			}},
			{ID: "Approved", Kind: ir.KindEnd},
		},
	}
}

// WaitForMessage waits for the "ping" message, then a "go" signal.
func WaitForMessage() *ir.ProcessDefinition {
	return &ir.ProcessDefinition{
		Key:   "WaitForMessage",
		Start: "StartEvent",
		Activities: []ir.Activity{
			{ID: "StartEvent", Kind: ir.KindStart, Next: to("Ping")},
			{ID: "Ping", Kind: ir.KindMessageCatch, EventName: "ping", Next: to("Go")},
			{ID: "Go", Kind: ir.KindSignalCatch, EventName: "go", Next: to("EndEvent")},
			{ID: "EndEvent", Kind: ir.KindEnd},
		},
	}
}

// Notifier sends the "ping" message, then broadcasts the "go" signal, from
// two send tasks.
func Notifier() *ir.ProcessDefinition {
	return &ir.ProcessDefinition{
		Key:   "Notifier",
		Start: "StartEvent",
		Activities: []ir.Activity{
			{ID: "StartEvent", Kind: ir.KindStart, Next: to("SendPing")},
			{ID: "SendPing", Kind: ir.KindSendTask, Next: to("SendGo")},
			{ID: "SendGo", Kind: ir.KindSendTask, Next: to("EndEvent")},
			{ID: "EndEvent", Kind: ir.KindEnd},
		},
	}
}

// ParallelApproval forks into two user tasks and joins them.
func ParallelApproval() *ir.ProcessDefinition {
	return &ir.ProcessDefinition{
		Key:   "ParallelApproval",
		Start: "StartEvent",
		Activities: []ir.Activity{
			{ID: "StartEvent", Kind: ir.KindStart, Next: to("Fork")},
			{ID: "Fork", Kind: ir.KindParallel, Next: to("Legal", "Finance")},
			{ID: "Legal", Kind: ir.KindUserTask, Next: to("Join")},
			{ID: "Finance", Kind: ir.KindUserTask, Next: to("Join")},
			{ID: "Join", Kind: ir.KindParallel, Next: to("EndEvent")},
			{ID: "EndEvent", Kind: ir.KindEnd},
		},
	}
}

// ChargeWithFallback routes a failed service task to a refund path.
func ChargeWithFallback() *ir.ProcessDefinition {
	return &ir.ProcessDefinition{
		Key:   "ChargeWithFallback",
		Start: "StartEvent",
		Activities: []ir.Activity{
			{ID: "StartEvent", Kind: ir.KindStart, Next: to("Charge")},
			{ID: "Charge", Kind: ir.KindServiceTask, Next: to("Charged")},
			{ID: "Charged", Kind: ir.KindEnd},
			{ID: "ChargeFailed", Kind: ir.KindBoundaryError, AttachedTo: "Charge", Next: to("Refund")},
			{ID: "Refund", Kind: ir.KindScript, Set: ir.Object{"refunded": ir.Bool(true)}, Next: to("Refunded")},
			{ID: "Refunded", Kind: ir.KindEnd},
		},
	}
}

// Sleep pauses on an intermediate timer for one hour.
func Sleep() *ir.ProcessDefinition {
	return &ir.ProcessDefinition{
		Key:   "Sleep",
		Start: "StartEvent",
		Activities: []ir.Activity{
			{ID: "StartEvent", Kind: ir.KindStart, Next: to("Nap")},
			{ID: "Nap", Kind: ir.KindTimerCatch, Duration: "PT1H", Next: to("EndEvent")},
			{ID: "EndEvent", Kind: ir.KindEnd},
		},
	}
}

// AllDefinitions returns every fixture.
func AllDefinitions() []*ir.ProcessDefinition {
	return []*ir.ProcessDefinition{
		TimerRace(), EventTimerRace(), ReviewLoop(), WaitForMessage(),
		Notifier(), ParallelApproval(), ChargeWithFallback(), Sleep(),
	}
}
