package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/tempo/internal/ir"
)

// Handler is invoked once per reach of a matching wait point. It may resume
// the point, defer it, or leave it alone.
type Handler func(ctx context.Context, d Delegate) error

// TaskHandler handles task wait points.
type TaskHandler func(ctx context.Context, d *TaskDelegate) error

// EventHandler handles message, signal and receive wait points.
type EventHandler func(ctx context.Context, d *EventDelegate) error

// Policy decides what happens to a wait point with no handler.
type Policy int

const (
	// PolicyStrict fails the run with an unhandled wait point error.
	PolicyStrict Policy = iota
	// PolicyLenient leaves the point open so a later Execute can pick it up
	// once a handler is registered.
	PolicyLenient
)

func (p Policy) String() string {
	if p == PolicyLenient {
		return "lenient"
	}
	return "strict"
}

// ParsePolicy parses "strict" or "lenient". Empty means strict.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "strict":
		return PolicyStrict, nil
	case "lenient":
		return PolicyLenient, nil
	}
	return PolicyStrict, fmt.Errorf("unknown policy %q (want strict or lenient)", s)
}

type handlerKey struct {
	activityID string
	kind       ir.Kind
}

// Registry maps (activity id, kind) to handlers. Matching is exact.
type Registry struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[handlerKey]Handler)}
}

// Register adds a handler. Timer kinds cannot be registered because timers
// are resolved by clock advancement; registering the same (activity, kind)
// twice is an error.
func (r *Registry) Register(activityID string, kind ir.Kind, h Handler) error {
	if activityID == "" {
		return fmt.Errorf("register: empty activity id")
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handler", activityID)
	}
	if !kind.IsWait() {
		return fmt.Errorf("register %s: %q is not a wait kind", activityID, kind)
	}
	if kind.IsTimer() {
		return fmt.Errorf("register %s: timers are resolved by the clock, not by handlers", activityID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := handlerKey{activityID, kind}
	if _, dup := r.handlers[key]; dup {
		return fmt.Errorf("register %s: handler for kind %s already registered", activityID, kind)
	}
	r.handlers[key] = h
	return nil
}

// Resolve returns the handler for d's (activity, kind).
func (r *Registry) Resolve(d Delegate) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[handlerKey{d.ActivityID(), d.Kind()}]
	return h, ok
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

func (r *Registry) onTask(activityID string, kind ir.Kind, h TaskHandler) error {
	if h == nil {
		return fmt.Errorf("register %s: nil handler", activityID)
	}
	return r.Register(activityID, kind, func(ctx context.Context, d Delegate) error {
		td, ok := d.(*TaskDelegate)
		if !ok {
			return fmt.Errorf("%s: expected task delegate, got %T", activityID, d)
		}
		return h(ctx, td)
	})
}

func (r *Registry) onEvent(activityID string, kind ir.Kind, h EventHandler) error {
	if h == nil {
		return fmt.Errorf("register %s: nil handler", activityID)
	}
	return r.Register(activityID, kind, func(ctx context.Context, d Delegate) error {
		ed, ok := d.(*EventDelegate)
		if !ok {
			return fmt.Errorf("%s: expected event delegate, got %T", activityID, d)
		}
		return h(ctx, ed)
	})
}

// OnUserTask registers a handler for a user task.
func (r *Registry) OnUserTask(activityID string, h TaskHandler) error {
	return r.onTask(activityID, ir.KindUserTask, h)
}

// OnServiceTask registers a handler for an external service task.
func (r *Registry) OnServiceTask(activityID string, h TaskHandler) error {
	return r.onTask(activityID, ir.KindServiceTask, h)
}

// OnBusinessRuleTask registers a handler for a business rule task.
func (r *Registry) OnBusinessRuleTask(activityID string, h TaskHandler) error {
	return r.onTask(activityID, ir.KindBusinessRuleTask, h)
}

// OnSendTask registers a handler for a send task.
func (r *Registry) OnSendTask(activityID string, h TaskHandler) error {
	return r.onTask(activityID, ir.KindSendTask, h)
}

// OnMessageCatch registers a handler for a message catch event.
func (r *Registry) OnMessageCatch(activityID string, h EventHandler) error {
	return r.onEvent(activityID, ir.KindMessageCatch, h)
}

// OnSignalCatch registers a handler for a signal catch event.
func (r *Registry) OnSignalCatch(activityID string, h EventHandler) error {
	return r.onEvent(activityID, ir.KindSignalCatch, h)
}

// OnReceiveTask registers a handler for a receive task.
func (r *Registry) OnReceiveTask(activityID string, h EventHandler) error {
	return r.onEvent(activityID, ir.KindReceiveTask, h)
}
