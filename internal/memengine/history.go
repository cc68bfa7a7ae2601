package memengine

import (
	"context"
	"sync"

	"github.com/roach88/tempo/internal/ir"
)

// HistorySink receives activity history as the engine produces it.
// *store.Store satisfies it.
type HistorySink interface {
	WriteHistory(ctx context.Context, ev ir.HistoryEvent) error
}

// MemoryHistory is a HistorySink that keeps events in a slice.
type MemoryHistory struct {
	mu     sync.Mutex
	events []ir.HistoryEvent
}

// WriteHistory appends ev.
func (h *MemoryHistory) WriteHistory(_ context.Context, ev ir.HistoryEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

// Events returns a copy of every recorded event.
func (h *MemoryHistory) Events() []ir.HistoryEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ir.HistoryEvent, len(h.events))
	copy(out, h.events)
	return out
}

// Count returns how many events of type typ were recorded for activityID in
// instanceID.
func (h *MemoryHistory) Count(instanceID, activityID string, typ ir.HistoryEventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		if ev.InstanceID == instanceID && ev.ActivityID == activityID && ev.Type == typ {
			n++
		}
	}
	return n
}
