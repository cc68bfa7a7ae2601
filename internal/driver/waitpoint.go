package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tempo/internal/ir"
)

// Delegate is a transient view of one open wait point.
//
// The concrete type tells which resumption operations exist:
//
//	*TaskDelegate   user, service, business-rule and send tasks: Complete, Fail
//	*EventDelegate  message and signal catches, receive tasks: Receive
//	*TimerDelegate  timers: none, resolved by clock advancement
//
// Every resumption re-fetches the point from the engine first. If the point
// is gone (something else resolved it), the operation is a silent no-op.
type Delegate interface {
	ActivityID() string
	InstanceID() string
	ExecutionID() string
	OccurrenceID() string
	Kind() ir.Kind
	Point() ir.WaitPoint

	// IsStillOpen re-queries the engine. false is not an error.
	IsStillOpen(ctx context.Context) (bool, error)

	// Defer schedules then at now+period (ISO-8601) and returns at once,
	// leaving the wait point open. then is skipped if the point is gone by
	// the time it is due.
	Defer(period string, then ContinueFunc) error

	delegate()
}

type base struct {
	wp  ir.WaitPoint
	run *Runner
}

func (b *base) ActivityID() string   { return b.wp.ActivityID }
func (b *base) InstanceID() string   { return b.wp.InstanceID }
func (b *base) ExecutionID() string  { return b.wp.ExecutionID }
func (b *base) OccurrenceID() string { return b.wp.OccurrenceID }
func (b *base) Kind() ir.Kind        { return b.wp.Kind }
func (b *base) Point() ir.WaitPoint  { return b.wp }
func (b *base) delegate()            {}

func (b *base) IsStillOpen(ctx context.Context) (bool, error) {
	_, ok, err := b.refresh(ctx)
	return ok, err
}

func (b *base) Defer(period string, then ContinueFunc) error {
	if then == nil {
		return fmt.Errorf("defer %s: nil continuation", b.wp.ActivityID)
	}
	p, err := ParsePeriod(period)
	if err != nil {
		return err
	}
	due := p.AddTo(b.run.clock.Now())
	b.run.queue.Enqueue(&Continuation{Point: b.wp, Due: due, Run: then})
	b.run.logger.Debug("continuation deferred",
		"instance", b.wp.InstanceID,
		"activity", b.wp.ActivityID,
		"period", p.String(),
		"due", due)
	b.run.trace(ir.TraceDeferred, b.wp, p.String())
	return nil
}

// refresh re-fetches the point. A point that vanished is recorded as stale.
func (b *base) refresh(ctx context.Context) (ir.WaitPoint, bool, error) {
	wp, ok, err := b.run.engine.WaitPoint(ctx, b.wp.InstanceID, b.wp.OccurrenceID)
	if err != nil {
		return ir.WaitPoint{}, false, fmt.Errorf("refresh %s: %w", b.wp, err)
	}
	if ok {
		b.wp = wp
	}
	return wp, ok, nil
}

// resume runs op against a fresh copy of the point, or skips it as stale.
func (b *base) resume(ctx context.Context, op string, fn func(ir.WaitPoint) error) error {
	wp, ok, err := b.refresh(ctx)
	if err != nil {
		return err
	}
	if !ok {
		b.run.stale(b.wp, op)
		return nil
	}
	b.run.logger.Debug("wait point resumed",
		"instance", wp.InstanceID,
		"activity", wp.ActivityID,
		"op", op)
	return fn(wp)
}

// TaskDelegate is a task waiting for completion.
type TaskDelegate struct{ base }

// Complete finishes the task with output variables.
func (d *TaskDelegate) Complete(ctx context.Context, vars ir.Variables) error {
	return d.resume(ctx, "complete", func(wp ir.WaitPoint) error {
		return d.run.engine.Complete(ctx, wp, vars)
	})
}

// Fail raises a business error on the task.
func (d *TaskDelegate) Fail(ctx context.Context, reason string) error {
	return d.resume(ctx, "fail", func(wp ir.WaitPoint) error {
		return d.run.engine.Fail(ctx, wp, reason)
	})
}

// EventDelegate is a point waiting for a message or signal.
type EventDelegate struct{ base }

// EventName returns the message or signal name the point waits for.
func (d *EventDelegate) EventName() string { return d.wp.EventName }

// Receive delivers the message or signal.
func (d *EventDelegate) Receive(ctx context.Context, payload ir.Variables) error {
	return d.resume(ctx, "receive", func(wp ir.WaitPoint) error {
		return d.run.engine.Deliver(ctx, wp, payload)
	})
}

// TimerDelegate is a pending timer. It has no resumption operation.
type TimerDelegate struct{ base }

// DueAt returns when the timer fires.
func (d *TimerDelegate) DueAt() time.Time { return d.wp.DueAt }

func newDelegate(wp ir.WaitPoint, run *Runner) (Delegate, error) {
	b := base{wp: wp, run: run}
	switch {
	case wp.Kind.IsTask():
		return &TaskDelegate{b}, nil
	case wp.Kind.IsEvent():
		return &EventDelegate{b}, nil
	case wp.Kind.IsTimer():
		return &TimerDelegate{b}, nil
	default:
		return nil, fmt.Errorf("wait point %s has non-wait kind %q", wp, wp.Kind)
	}
}
