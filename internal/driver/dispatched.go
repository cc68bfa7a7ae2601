package driver

import "sync"

// dispatchLog remembers which wait point occurrences have had their handler
// invoked, per instance.
//
// Engines give every reach of an activity a fresh occurrence id, so the log
// is keyed by occurrence, not by activity: a loop back into the same task is
// a new occurrence and is dispatched again, while re-polling an untouched
// point finds it already recorded.
type dispatchLog struct {
	mu   sync.Mutex
	seen map[string]map[string]bool // map[instance_id]map[occurrence_id]bool
}

func newDispatchLog() *dispatchLog {
	return &dispatchLog{seen: make(map[string]map[string]bool)}
}

// Seen reports whether the occurrence was already dispatched.
func (d *dispatchLog) Seen(instanceID, occurrenceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[instanceID] == nil {
		return false
	}
	return d.seen[instanceID][occurrenceID]
}

// Record marks the occurrence as dispatched. Call it before invoking the
// handler so a handler that re-enters the runner cannot dispatch twice.
func (d *dispatchLog) Record(instanceID, occurrenceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[instanceID] == nil {
		d.seen[instanceID] = make(map[string]bool)
	}
	d.seen[instanceID][occurrenceID] = true
}

// Clear drops the history of an ended instance.
func (d *dispatchLog) Clear(instanceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.seen, instanceID)
}

// Size returns the number of occurrences recorded for an instance.
func (d *dispatchLog) Size(instanceID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen[instanceID])
}
