package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tempo/internal/ir"
)

// State is the Runner's position in its loop.
type State int

const (
	StateIdle State = iota
	StateStarting
	StatePolling
	StateDispatching
	StateAdvancing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	case StateAdvancing:
		return "advancing_clock"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is how an Execute call ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // every instance ended
	OutcomeStalled   Outcome = "stalled"   // no progress possible
	OutcomeFailed    Outcome = "failed"    // handler, engine or bound error
	OutcomeCanceled  Outcome = "canceled"  // context canceled
)

// Result summarizes an Execute call. It is returned alongside any error.
type Result struct {
	Outcome    Outcome
	Steps      int
	StartedAt  time.Time // virtual clock origin of the run
	EndedAt    time.Time // virtual clock at termination
	Instances  []InstanceResult
	Open       []ir.WaitPoint // open points as of the last poll
	Dispatched int
	Continued  int
	Stale      int
	Trace      []ir.TraceEvent
}

// InstanceResult is the final state of one instance.
type InstanceResult struct {
	ID            string
	DefinitionKey string
	Ended         bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithStartTime sets the virtual clock origin. Default: real time at
// construction, truncated to the second.
func WithStartTime(t time.Time) Option {
	return func(r *Runner) { r.origin = t.UTC() }
}

// WithPolicy sets the unhandled wait point policy. Default: PolicyStrict.
func WithPolicy(p Policy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithMaxSteps sets the loop iteration bound per Execute call.
//
// Default: 1000 (DefaultMaxSteps). Zero disables the bound.
func WithMaxSteps(n int) Option {
	return func(r *Runner) { r.maxSteps = n }
}

// WithMaxAdvance bounds how far the virtual clock may move from its origin.
// Default: unbounded.
func WithMaxAdvance(d time.Duration) Option {
	return func(r *Runner) { r.maxAdvance = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithHandlers shares a prepared registry with the run.
func WithHandlers(reg *Registry) Option {
	return func(r *Runner) { r.handlers = reg }
}

// Runner drives one isolated run: its own virtual clock, continuation queue
// and instances, all sharing one engine.
//
// A Runner is not safe for concurrent use. Handlers execute on the calling
// goroutine and may call Start to add instances to the run.
type Runner struct {
	engine     Engine
	clock      *VirtualClock
	queue      *Queue
	handlers   *Registry
	instances  *instanceSet
	dispatched *dispatchLog
	budget     *budget
	logger     *slog.Logger

	origin     time.Time
	policy     Policy
	maxSteps   int
	maxAdvance time.Duration

	state    State
	step     int             // loop iterations across all Execute calls
	parked   map[string]bool // unhandled points left open in this Execute call
	lastOpen []ir.WaitPoint
	traceLog []ir.TraceEvent

	nDispatched int
	nContinued  int
	nStale      int
}

// New creates a Runner over engine.
func New(engine Engine, opts ...Option) *Runner {
	r := &Runner{
		engine:     engine,
		queue:      NewQueue(),
		handlers:   NewRegistry(),
		instances:  newInstanceSet(),
		dispatched: newDispatchLog(),
		logger:     slog.Default(),
		origin:     defaultStart(),
		policy:     PolicyStrict,
		maxSteps:   DefaultMaxSteps,
		parked:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.clock = NewVirtualClock(r.origin)
	r.budget = newBudget(r.maxSteps, r.maxAdvance, r.origin)
	return r
}

// Clock returns a read-only view of the run's virtual clock. Only the
// Runner advances it.
func (r *Runner) Clock() Clock { return clockView{r.clock} }

// Handlers returns the run-wide registry.
func (r *Runner) Handlers() *Registry { return r.handlers }

// Queue returns the run's continuation queue.
func (r *Runner) Queue() *Queue { return r.queue }

// State returns the current loop state.
func (r *Runner) State() State { return r.state }

// Instance returns a started instance by id.
func (r *Runner) Instance(id string) (*Instance, bool) { return r.instances.Get(id) }

// Instances returns the run's instances in start order.
func (r *Runner) Instances() []*Instance { return r.instances.All() }

// Trace returns a copy of the trace so far.
func (r *Runner) Trace() []ir.TraceEvent {
	out := make([]ir.TraceEvent, len(r.traceLog))
	copy(out, r.traceLog)
	return out
}

// Start starts an instance under this run. It may be called before Execute
// or from inside a handler.
func (r *Runner) Start(ctx context.Context, definitionKey string, vars ir.Variables) (*Instance, error) {
	if r.state == StateIdle || r.state == StateTerminated {
		r.setState(StateStarting)
	}
	id, err := r.engine.StartInstance(ctx, StartRequest{
		DefinitionKey: definitionKey,
		Variables:     vars,
		Clock:         clockView{r.clock},
	})
	if err != nil {
		return nil, newEngineError("", "start "+definitionKey, err)
	}

	inst := &Instance{ID: id, DefinitionKey: definitionKey, handlers: NewRegistry()}
	if err := r.instances.Add(inst); err != nil {
		return nil, err
	}
	r.logger.Info("instance started", "instance", id, "definition", definitionKey, "clock", r.clock.Now())
	r.trace(ir.TraceStarted, ir.WaitPoint{InstanceID: id}, definitionKey)
	return inst, nil
}

// OpenPoints returns a delegate for every open wait point of every live
// instance, timers included.
func (r *Runner) OpenPoints(ctx context.Context) ([]Delegate, error) {
	var out []Delegate
	for _, inst := range r.instances.All() {
		points, err := r.engine.OpenWaitPoints(ctx, inst.ID)
		if err != nil {
			return nil, newEngineError(inst.ID, "list wait points", err)
		}
		for _, wp := range points {
			d, err := newDelegate(wp, r)
			if err != nil {
				return nil, newEngineError(inst.ID, "list wait points", err)
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// Execute drives every instance of the run until all have ended or no
// further progress is possible.
//
// A stalled run returns the Result together with a StalledRun error; after
// registering more handlers the caller may call Execute again.
func (r *Runner) Execute(ctx context.Context) (*Result, error) {
	if r.instances.Len() == 0 {
		return nil, fmt.Errorf("execute: no instances started")
	}
	r.budget.Reset()
	clear(r.parked)
	r.logger.Info("run executing", "instances", r.instances.Len(), "clock", r.clock.Now(), "policy", r.policy)

	for {
		if err := ctx.Err(); err != nil {
			return r.finish(OutcomeCanceled, fmt.Errorf("run canceled: %w", err))
		}
		if err := r.budget.Step(); err != nil {
			return r.finish(OutcomeFailed, &RunError{
				Code:    ErrCodeBoundExceeded,
				Message: "safety bound hit",
				Err:     err,
			})
		}
		r.step++

		r.setState(StatePolling)
		snap, err := r.poll(ctx)
		if err != nil {
			return r.finish(OutcomeFailed, err)
		}

		switch {
		case snap.allEnded && r.queue.Len() == 0:
			return r.finish(OutcomeCompleted, nil)

		case len(snap.dispatchable) > 0:
			r.setState(StateDispatching)
			if err := r.dispatch(ctx, snap.dispatchable); err != nil {
				return r.finish(OutcomeFailed, err)
			}

		case r.queue.Len() > 0 || snap.hasTimer:
			r.setState(StateAdvancing)
			if err := r.advance(ctx, snap); err != nil {
				return r.finish(OutcomeFailed, err)
			}

		default:
			return r.finish(OutcomeStalled, newStalledError(len(snap.open)))
		}
	}
}

type snapshot struct {
	dispatchable []ir.WaitPoint
	open         []ir.WaitPoint // every open point, timers included
	nextTimer    time.Time
	hasTimer     bool
	allEnded     bool
}

// poll queries every live instance. Instance order is start order; point
// order is the engine's discovery order.
func (r *Runner) poll(ctx context.Context) (snapshot, error) {
	snap := snapshot{allEnded: true}
	for _, inst := range r.instances.All() {
		if inst.ended {
			continue
		}
		ended, err := r.engine.IsEnded(ctx, inst.ID)
		if err != nil {
			return snap, newEngineError(inst.ID, "query terminal state", err)
		}
		if ended {
			inst.ended = true
			r.dispatched.Clear(inst.ID)
			r.logger.Debug("instance ended", "instance", inst.ID)
			continue
		}
		snap.allEnded = false

		points, err := r.engine.OpenWaitPoints(ctx, inst.ID)
		if err != nil {
			return snap, newEngineError(inst.ID, "list wait points", err)
		}
		for _, wp := range points {
			snap.open = append(snap.open, wp)
			switch {
			case wp.Kind.IsTimer():
				if !snap.hasTimer || wp.DueAt.Before(snap.nextTimer) {
					snap.nextTimer = wp.DueAt
					snap.hasTimer = true
				}
			case r.dispatched.Seen(wp.InstanceID, wp.OccurrenceID):
			case r.parked[parkKey(wp)]:
			default:
				snap.dispatchable = append(snap.dispatchable, wp)
			}
		}
	}
	r.lastOpen = snap.open
	return snap, nil
}

func parkKey(wp ir.WaitPoint) string { return wp.InstanceID + "/" + wp.OccurrenceID }

// dispatch invokes each point's handler once, in order. A point resolved by
// an earlier handler in the same batch is skipped as stale.
func (r *Runner) dispatch(ctx context.Context, points []ir.WaitPoint) error {
	for _, wp := range points {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run canceled: %w", err)
		}
		d, err := newDelegate(wp, r)
		if err != nil {
			return newEngineError(wp.InstanceID, "dispatch", err)
		}

		h, ok := r.resolve(d)
		if !ok {
			if r.policy == PolicyStrict {
				return newUnhandledError(wp)
			}
			r.parked[parkKey(wp)] = true
			r.logger.Debug("wait point left open", "instance", wp.InstanceID, "activity", wp.ActivityID, "kind", wp.Kind)
			r.trace(ir.TraceUnhandled, wp, "")
			continue
		}

		open, err := d.IsStillOpen(ctx)
		if err != nil {
			return newEngineError(wp.InstanceID, "dispatch", err)
		}
		r.dispatched.Record(wp.InstanceID, wp.OccurrenceID)
		if !open {
			r.stale(wp, "dispatch")
			continue
		}

		r.nDispatched++
		r.logger.Debug("dispatching", "instance", wp.InstanceID, "activity", wp.ActivityID, "kind", wp.Kind, "occurrence", wp.OccurrenceID)
		r.trace(ir.TraceDispatched, wp, "")
		if err := h(ctx, d); err != nil {
			return newHandlerError(wp, err)
		}
	}
	return nil
}

// resolve prefers the owning instance's handlers over the run's.
func (r *Runner) resolve(d Delegate) (Handler, bool) {
	if inst, ok := r.instances.Get(d.InstanceID()); ok {
		if h, ok := inst.handlers.Resolve(d); ok {
			return h, true
		}
	}
	return r.handlers.Resolve(d)
}

// advance moves the clock to the earliest pending continuation or timer,
// runs the continuations now due, then lets the engine fire due timers.
// Continuations go first, so at the same instant an explicit resumption beats
// an engine timer.
func (r *Runner) advance(ctx context.Context, snap snapshot) error {
	target, ok := r.queue.NextDue()
	if snap.hasTimer && (!ok || snap.nextTimer.Before(target)) {
		target, ok = snap.nextTimer, true
	}
	if !ok {
		return nil
	}

	now := r.clock.Now()
	if target.After(now) {
		if err := r.budget.CheckAdvance(target); err != nil {
			return &RunError{Code: ErrCodeBoundExceeded, Message: "safety bound hit", Err: err}
		}
		if err := r.clock.AdvanceTo(target); err != nil {
			return err
		}
		r.logger.Debug("clock advanced", "from", now, "to", target)
		r.trace(ir.TraceAdvanced, ir.WaitPoint{}, target.Sub(now).String())
		now = target
	}

	for c := range r.queue.DrainDue(now) {
		_, open, err := r.engine.WaitPoint(ctx, c.Point.InstanceID, c.Point.OccurrenceID)
		if err != nil {
			return newEngineError(c.Point.InstanceID, "refresh continuation", err)
		}
		if !open {
			r.stale(c.Point, "continuation")
			continue
		}
		r.nContinued++
		r.trace(ir.TraceContinued, c.Point, "")
		if err := c.Run(ctx); err != nil {
			return newHandlerError(c.Point, err)
		}
	}

	for _, inst := range r.instances.All() {
		if inst.ended {
			continue
		}
		n, err := r.engine.ExecuteDueJobs(ctx, inst.ID)
		if err != nil {
			return newEngineError(inst.ID, "execute due jobs", err)
		}
		if n > 0 {
			r.logger.Debug("timers fired", "instance", inst.ID, "count", n)
			r.trace(ir.TraceTimers, ir.WaitPoint{InstanceID: inst.ID}, fmt.Sprintf("%d fired", n))
		}
	}
	return nil
}

func (r *Runner) stale(wp ir.WaitPoint, op string) {
	r.nStale++
	r.logger.Debug("stale wait point skipped", "instance", wp.InstanceID, "activity", wp.ActivityID, "op", op)
	r.trace(ir.TraceStale, wp, op)
}

func (r *Runner) trace(typ ir.TraceType, wp ir.WaitPoint, detail string) {
	r.traceLog = append(r.traceLog, ir.TraceEvent{
		Step:       r.step,
		At:         r.clock.Now(),
		Type:       typ,
		InstanceID: wp.InstanceID,
		ActivityID: wp.ActivityID,
		Kind:       wp.Kind,
		Detail:     detail,
	})
}

func (r *Runner) setState(s State) {
	if r.state != s {
		r.logger.Debug("runner state", "from", r.state, "to", s)
		r.state = s
	}
}

func (r *Runner) finish(outcome Outcome, err error) (*Result, error) {
	r.setState(StateTerminated)
	r.trace(ir.TraceTerminated, ir.WaitPoint{}, string(outcome))

	res := &Result{
		Outcome:    outcome,
		Steps:      r.budget.Steps(),
		StartedAt:  r.origin,
		EndedAt:    r.clock.Now(),
		Open:       r.lastOpen,
		Dispatched: r.nDispatched,
		Continued:  r.nContinued,
		Stale:      r.nStale,
		Trace:      r.Trace(),
	}
	if outcome == OutcomeCompleted {
		res.Open = nil
	}
	for _, inst := range r.instances.All() {
		res.Instances = append(res.Instances, InstanceResult{
			ID:            inst.ID,
			DefinitionKey: inst.DefinitionKey,
			Ended:         inst.ended,
		})
	}

	if err != nil {
		r.logger.Info("run terminated", "outcome", outcome, "steps", res.Steps, "clock", res.EndedAt, "error", err)
	} else {
		r.logger.Info("run terminated", "outcome", outcome, "steps", res.Steps, "clock", res.EndedAt)
	}
	return res, err
}
