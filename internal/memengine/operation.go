package memengine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tempo/internal/driver"
	"github.com/roach88/tempo/internal/ir"
)

// operation moves tokens for one engine call. It counts pass-through steps
// so a loop with no wait point fails instead of recursing forever.
type operation struct {
	e     *Engine
	ctx   context.Context
	inst  *instance
	steps int
}

func (e *Engine) newOp(ctx context.Context, inst *instance) *operation {
	return &operation{e: e, ctx: ctx, inst: inst}
}

func (op *operation) newExecution() string {
	op.inst.execSeq++
	return fmt.Sprintf("%s/x%d", op.inst.id, op.inst.execSeq)
}

func (op *operation) newOccurrence() string {
	op.inst.occSeq++
	return fmt.Sprintf("%s/o%d", op.inst.id, op.inst.occSeq)
}

func (op *operation) record(act *ir.Activity, occurrence string, typ ir.HistoryEventType) error {
	return op.e.record(op.ctx, op.inst, act, occurrence, typ)
}

// enter moves a token onto act.
func (op *operation) enter(act *ir.Activity, exec string) error {
	if op.inst.state != StateActive {
		return nil
	}
	op.steps++
	if op.steps > op.e.maxPass {
		return fmt.Errorf("instance %s: more than %d activities without reaching a wait point (loop at %s?)",
			op.inst.id, op.e.maxPass, act.ID)
	}
	if act.Kind == ir.KindBoundaryTimer || act.Kind == ir.KindEventTimer {
		return fmt.Errorf("instance %s: %s timer %s cannot be entered by a flow", op.inst.id, act.Kind, act.ID)
	}
	if act.Kind.IsWait() {
		return op.wait(act, exec)
	}

	occ := op.newOccurrence()
	if err := op.record(act, occ, ir.HistoryStarted); err != nil {
		return err
	}

	switch act.Kind {
	case ir.KindStart:
	case ir.KindEnd:
		return op.record(act, occ, ir.HistoryFinished)
	case ir.KindScript:
		op.inst.vars = op.inst.vars.Merge(act.Set)
	case ir.KindParallel:
		if incoming := op.inst.def.Incoming(act.ID); incoming > 1 {
			op.inst.joins[act.ID]++
			if op.inst.joins[act.ID] < incoming {
				return op.record(act, occ, ir.HistoryFinished)
			}
			op.inst.joins[act.ID] = 0
		}
	case ir.KindExclusive:
		flow, err := op.choose(act)
		if err != nil {
			return err
		}
		if err := op.record(act, occ, ir.HistoryFinished); err != nil {
			return err
		}
		return op.enterTarget(flow.Target, exec)
	default:
		return fmt.Errorf("instance %s: activity %s of kind %s cannot be entered by a flow", op.inst.id, act.ID, act.Kind)
	}

	if err := op.record(act, occ, ir.HistoryFinished); err != nil {
		return err
	}
	return op.leave(act, exec)
}

// wait pauses the token on act and arms its boundary timers.
func (op *operation) wait(act *ir.Activity, exec string) error {
	p := &point{
		occurrence: op.newOccurrence(),
		execution:  exec,
		activity:   act,
		kind:       act.Kind,
		seq:        op.nextSeq(),
	}
	if act.Kind.IsTimer() {
		due, err := op.due(act)
		if err != nil {
			return err
		}
		p.due = due
	}
	op.inst.points = append(op.inst.points, p)
	if err := op.record(act, p.occurrence, ir.HistoryStarted); err != nil {
		return err
	}

	if act.Kind.Attachable() {
		for _, b := range op.inst.def.Attached(act.ID) {
			if b.Kind == ir.KindBoundaryTimer {
				if err := op.armTimer(b, p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// armTimer arms a boundary timer (host set) or event timer (host nil).
// Armed timers get no history until they fire.
func (op *operation) armTimer(act *ir.Activity, host *point) error {
	due, err := op.due(act)
	if err != nil {
		return err
	}
	p := &point{
		occurrence: op.newOccurrence(),
		activity:   act,
		kind:       act.Kind,
		due:        due,
		seq:        op.nextSeq(),
	}
	if host != nil {
		p.host = host.occurrence
		p.execution = host.execution
	} else {
		p.execution = op.newExecution()
	}
	op.inst.points = append(op.inst.points, p)
	return nil
}

func (op *operation) nextSeq() int {
	op.inst.pointSeq++
	return op.inst.pointSeq
}

func (op *operation) due(act *ir.Activity) (time.Time, error) {
	period, err := driver.ParsePeriod(act.Duration)
	if err != nil {
		return time.Time{}, fmt.Errorf("timer %s: %w", act.ID, err)
	}
	return period.AddTo(op.inst.clock.Now()), nil
}

// leave follows every outgoing flow of act. The first flow keeps the
// execution; the others fork new ones.
func (op *operation) leave(act *ir.Activity, exec string) error {
	for i, f := range act.Next {
		x := exec
		if i > 0 {
			x = op.newExecution()
		}
		if err := op.enterTarget(f.Target, x); err != nil {
			return err
		}
	}
	return nil
}

func (op *operation) enterTarget(id, exec string) error {
	target, ok := op.inst.def.Activity(id)
	if !ok {
		return fmt.Errorf("instance %s: flow to unknown activity %q", op.inst.id, id)
	}
	return op.enter(target, exec)
}

// choose picks the first flow whose condition variable is truthy, or an
// unconditional flow, falling back to the default flow.
func (op *operation) choose(act *ir.Activity) (*ir.Flow, error) {
	var fallback *ir.Flow
	for i := range act.Next {
		f := &act.Next[i]
		if f.Default {
			fallback = f
			continue
		}
		if f.Condition == "" || ir.Truthy(op.inst.vars[f.Condition]) {
			return f, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("instance %s: exclusive gateway %s has no matching flow", op.inst.id, act.ID)
}

// resumePoint finishes a paused token and moves it on.
func (op *operation) resumePoint(p *point) error {
	op.inst.remove(p)
	op.inst.removeBoundaries(p)
	if err := op.record(p.activity, p.occurrence, ir.HistoryFinished); err != nil {
		return err
	}
	return op.leave(p.activity, p.execution)
}

// cancel interrupts a paused token.
func (op *operation) cancel(p *point) error {
	op.inst.remove(p)
	op.inst.removeBoundaries(p)
	return op.record(p.activity, p.occurrence, ir.HistoryCanceled)
}

// raise routes a business error from a task to its boundary error event, or
// fails the instance when the task has none.
func (op *operation) raise(p *point, reason string) error {
	for _, b := range op.inst.def.Attached(p.activity.ID) {
		if b.Kind != ir.KindBoundaryError {
			continue
		}
		if err := op.cancel(p); err != nil {
			return err
		}
		occ := op.newOccurrence()
		if err := op.record(b, occ, ir.HistoryStarted); err != nil {
			return err
		}
		if err := op.record(b, occ, ir.HistoryFinished); err != nil {
			return err
		}
		op.inst.vars = op.inst.vars.Merge(ir.Object{"error": ir.String(reason)})
		return op.leave(b, p.execution)
	}

	op.inst.failure = fmt.Sprintf("%s: %s", p.activity.ID, reason)
	op.e.logger.Debug("instance failed", "instance", op.inst.id, "activity", p.activity.ID, "reason", reason)
	return op.terminate(StateFailed)
}

// terminate cancels every paused token and ends the instance.
func (op *operation) terminate(state InstanceState) error {
	points := append([]*point(nil), op.inst.points...)
	op.inst.points = nil
	clear(op.inst.joins)
	for _, p := range points {
		if p.scoped() {
			continue
		}
		if err := op.record(p.activity, p.occurrence, ir.HistoryCanceled); err != nil {
			return err
		}
	}
	op.inst.state = state
	return nil
}

// fireTimer resolves a due timer.
func (op *operation) fireTimer(p *point) error {
	op.inst.remove(p)
	switch p.kind {
	case ir.KindTimerCatch:
		if err := op.record(p.activity, p.occurrence, ir.HistoryFinished); err != nil {
			return err
		}
		return op.leave(p.activity, p.execution)

	case ir.KindBoundaryTimer:
		if err := op.recordFired(p); err != nil {
			return err
		}
		host := op.inst.point(p.host)
		if p.activity.Interrupting && host != nil {
			if err := op.cancel(host); err != nil {
				return err
			}
			return op.leave(p.activity, host.execution)
		}
		return op.leave(p.activity, op.newExecution())

	case ir.KindEventTimer:
		if p.activity.Interrupting {
			points := append([]*point(nil), op.inst.points...)
			op.inst.points = nil
			clear(op.inst.joins)
			for _, other := range points {
				if other.scoped() {
					continue
				}
				if err := op.record(other.activity, other.occurrence, ir.HistoryCanceled); err != nil {
					return err
				}
			}
		}
		if err := op.recordFired(p); err != nil {
			return err
		}
		return op.leave(p.activity, p.execution)
	}
	return fmt.Errorf("instance %s: %s is not a timer", op.inst.id, p.activity.ID)
}

func (op *operation) recordFired(p *point) error {
	if err := op.record(p.activity, p.occurrence, ir.HistoryStarted); err != nil {
		return err
	}
	return op.record(p.activity, p.occurrence, ir.HistoryFinished)
}

// finish completes the instance once no token is left in flight.
func (op *operation) finish() error {
	inst := op.inst
	if inst.state != StateActive || inst.alive() {
		return nil
	}
	inst.points = nil
	inst.state = StateCompleted
	op.e.logger.Debug("instance completed", "instance", inst.id)
	return nil
}
