package ir

import "time"

// TraceType classifies a driver trace entry.
type TraceType string

const (
	TraceStarted    TraceType = "started"    // instance started
	TraceDispatched TraceType = "dispatched" // handler invoked for a wait point
	TraceUnhandled  TraceType = "unhandled"  // no handler, point left open
	TraceDeferred   TraceType = "deferred"   // continuation enqueued
	TraceContinued  TraceType = "continued"  // continuation executed
	TraceStale      TraceType = "stale"      // wait point already resolved, skipped
	TraceAdvanced   TraceType = "advanced"   // virtual clock moved
	TraceTimers     TraceType = "timers"     // engine fired due timer jobs
	TraceTerminated TraceType = "terminated" // run reached a fixpoint or terminal state
)

// TraceEvent is one entry of a run's trace. Traces are compared byte for
// byte across runs, so every field must be deterministic.
type TraceEvent struct {
	Step       int       `json:"step"`
	At         time.Time `json:"at"`
	Type       TraceType `json:"type"`
	InstanceID string    `json:"instance_id,omitempty"`
	ActivityID string    `json:"activity_id,omitempty"`
	Kind       Kind      `json:"kind,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Canonical returns the event as a map suitable for MarshalCanonical.
// Empty optional fields are omitted.
func (e TraceEvent) Canonical() map[string]any {
	m := map[string]any{
		"step": e.Step,
		"at":   e.At,
		"type": string(e.Type),
	}
	if e.InstanceID != "" {
		m["instance_id"] = e.InstanceID
	}
	if e.ActivityID != "" {
		m["activity_id"] = e.ActivityID
	}
	if e.Kind != "" {
		m["kind"] = string(e.Kind)
	}
	if e.Detail != "" {
		m["detail"] = e.Detail
	}
	return m
}
