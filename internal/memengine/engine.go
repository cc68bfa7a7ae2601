package memengine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/tempo/internal/driver"
	"github.com/roach88/tempo/internal/ir"
)

// DefaultMaxPassThrough bounds how many pass-through activities a single
// operation may execute before the engine gives up on a loop without a wait
// point.
const DefaultMaxPassThrough = 10000

// InstanceState is the lifecycle state of an instance.
type InstanceState string

const (
	StateActive    InstanceState = "active"
	StateCompleted InstanceState = "completed"
	StateFailed    InstanceState = "failed"
)

// Engine hosts process instances in memory.
//
// Thread-safety: every exported method takes the engine lock, so one Engine
// may serve several runners. Calls from a single runner are sequential.
type Engine struct {
	mu        sync.Mutex
	defs      map[string]*ir.ProcessDefinition
	instances map[string]*instance
	order     []*instance
	ids       IDGenerator
	sink      HistorySink
	logger    *slog.Logger
	seq       int64 // history sequence
	maxPass   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the instance id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithHistorySink sets where history events go. Default: discarded.
func WithHistorySink(s HistorySink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxPassThrough overrides DefaultMaxPassThrough.
func WithMaxPassThrough(n int) Option {
	return func(e *Engine) { e.maxPass = n }
}

// New creates an engine with no deployed definitions.
func New(opts ...Option) *Engine {
	e := &Engine{
		defs:      make(map[string]*ir.ProcessDefinition),
		instances: make(map[string]*instance),
		ids:       UUIDv7Generator{},
		logger:    slog.Default(),
		maxPass:   DefaultMaxPassThrough,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deploy registers definitions by key. Deploying a key twice is an error.
func (e *Engine) Deploy(defs ...*ir.ProcessDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, def := range defs {
		if _, dup := e.defs[def.Key]; dup {
			return fmt.Errorf("deploy: process %q already deployed", def.Key)
		}
		start, ok := def.Activity(def.Start)
		if !ok || start.Kind != ir.KindStart {
			return fmt.Errorf("deploy %s: start activity %q missing or not a start event", def.Key, def.Start)
		}
		e.defs[def.Key] = def
	}
	return nil
}

// Definitions returns the deployed definition keys, sorted.
func (e *Engine) Definitions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.defs))
	for k := range e.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StartInstance implements driver.Engine.
func (e *Engine) StartInstance(ctx context.Context, req driver.StartRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.defs[req.DefinitionKey]
	if !ok {
		return "", fmt.Errorf("start: process %q not deployed", req.DefinitionKey)
	}
	if req.Clock == nil {
		return "", fmt.Errorf("start %s: no clock", req.DefinitionKey)
	}

	inst := &instance{
		id:    e.ids.Generate(),
		def:   def,
		clock: req.Clock,
		vars:  ir.Object{}.Merge(req.Variables),
		joins: make(map[string]int),
		state: StateActive,
	}
	if _, dup := e.instances[inst.id]; dup {
		return "", fmt.Errorf("start %s: duplicate instance id %q", req.DefinitionKey, inst.id)
	}
	e.instances[inst.id] = inst
	e.order = append(e.order, inst)
	e.logger.Debug("instance started", "instance", inst.id, "definition", def.Key)

	op := e.newOp(ctx, inst)
	for _, act := range def.EventTimers() {
		if err := op.armTimer(act, nil); err != nil {
			return "", err
		}
	}
	start, _ := def.Activity(def.Start)
	if err := op.enter(start, op.newExecution()); err != nil {
		return "", err
	}
	return inst.id, op.finish()
}

// OpenWaitPoints implements driver.Engine.
func (e *Engine) OpenWaitPoints(_ context.Context, instanceID string) ([]ir.WaitPoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, err := e.instance(instanceID)
	if err != nil {
		return nil, err
	}
	out := make([]ir.WaitPoint, 0, len(inst.points))
	for _, p := range inst.points {
		out = append(out, inst.waitPoint(p))
	}
	return out, nil
}

// WaitPoint implements driver.Engine.
func (e *Engine) WaitPoint(_ context.Context, instanceID, occurrenceID string) (ir.WaitPoint, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, err := e.instance(instanceID)
	if err != nil {
		return ir.WaitPoint{}, false, err
	}
	p := inst.point(occurrenceID)
	if p == nil {
		return ir.WaitPoint{}, false, nil
	}
	return inst.waitPoint(p), true, nil
}

// IsEnded implements driver.Engine.
func (e *Engine) IsEnded(_ context.Context, instanceID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, err := e.instance(instanceID)
	if err != nil {
		return false, err
	}
	return inst.state != StateActive, nil
}

// State returns an instance's lifecycle state.
func (e *Engine) State(instanceID string) (InstanceState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, err := e.instance(instanceID)
	if err != nil {
		return "", err
	}
	return inst.state, nil
}

// Failure returns the reason an instance failed, or "".
func (e *Engine) Failure(instanceID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, err := e.instance(instanceID)
	if err != nil {
		return "", err
	}
	return inst.failure, nil
}

// Variables returns a copy of an instance's variables.
func (e *Engine) Variables(instanceID string) (ir.Variables, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, err := e.instance(instanceID)
	if err != nil {
		return nil, err
	}
	return ir.Object{}.Merge(inst.vars), nil
}

// Complete implements driver.Engine.
func (e *Engine) Complete(ctx context.Context, wp ir.WaitPoint, vars ir.Variables) error {
	return e.resume(ctx, wp, "complete", func(op *operation, p *point) error {
		if !p.kind.IsTask() {
			return fmt.Errorf("complete %s: kind %s is not a task", p.activity.ID, p.kind)
		}
		op.inst.vars = op.inst.vars.Merge(vars)
		return op.resumePoint(p)
	})
}

// Fail implements driver.Engine. The error goes to a boundary error event on
// the task if there is one; otherwise the instance fails.
func (e *Engine) Fail(ctx context.Context, wp ir.WaitPoint, reason string) error {
	return e.resume(ctx, wp, "fail", func(op *operation, p *point) error {
		if !p.kind.IsTask() {
			return fmt.Errorf("fail %s: kind %s is not a task", p.activity.ID, p.kind)
		}
		return op.raise(p, reason)
	})
}

// Deliver implements driver.Engine.
func (e *Engine) Deliver(ctx context.Context, wp ir.WaitPoint, payload ir.Variables) error {
	return e.resume(ctx, wp, "deliver", func(op *operation, p *point) error {
		if !p.kind.IsEvent() {
			return fmt.Errorf("deliver %s: kind %s does not receive messages or signals", p.activity.ID, p.kind)
		}
		op.inst.vars = op.inst.vars.Merge(payload)
		return op.resumePoint(p)
	})
}

// ExecuteDueJobs implements driver.Engine. Due timers fire in (due, arming
// order) order; timers armed by a firing that are already due fire in the
// same call.
func (e *Engine) ExecuteDueJobs(ctx context.Context, instanceID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, err := e.instance(instanceID)
	if err != nil {
		return 0, err
	}
	op := e.newOp(ctx, inst)
	fired := 0
	for inst.state == StateActive {
		p := inst.nextDueTimer(inst.clock.Now())
		if p == nil {
			break
		}
		if fired >= e.maxPass {
			return fired, fmt.Errorf("instance %s: more than %d timers due at %s", inst.id, e.maxPass, inst.clock.Now())
		}
		if err := op.fireTimer(p); err != nil {
			return fired, err
		}
		fired++
		if err := op.finish(); err != nil {
			return fired, err
		}
	}
	return fired, nil
}

// Correlate delivers a message to the first open message catch or receive
// task waiting for name, searching instances in start order. It reports
// whether a receiver was found.
func (e *Engine) Correlate(ctx context.Context, name string, payload ir.Variables) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, inst := range e.order {
		if inst.state != StateActive {
			continue
		}
		for _, p := range inst.points {
			if (p.kind == ir.KindMessageCatch || p.kind == ir.KindReceiveTask) && p.activity.EventName == name {
				op := e.newOp(ctx, inst)
				inst.vars = inst.vars.Merge(payload)
				if err := op.resumePoint(p); err != nil {
					return true, err
				}
				return true, op.finish()
			}
		}
	}
	return false, nil
}

// Broadcast delivers a signal to every open signal catch waiting for name in
// every active instance and returns how many received it.
func (e *Engine) Broadcast(ctx context.Context, name string, payload ir.Variables) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, inst := range e.order {
		if inst.state != StateActive {
			continue
		}
		var targets []*point
		for _, p := range inst.points {
			if p.kind == ir.KindSignalCatch && p.activity.EventName == name {
				targets = append(targets, p)
			}
		}
		if len(targets) == 0 {
			continue
		}
		op := e.newOp(ctx, inst)
		inst.vars = inst.vars.Merge(payload)
		for _, p := range targets {
			if inst.point(p.occurrence) == nil {
				continue
			}
			if err := op.resumePoint(p); err != nil {
				return n, err
			}
			n++
		}
		if err := op.finish(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (e *Engine) resume(ctx context.Context, wp ir.WaitPoint, verb string, fn func(*operation, *point) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, err := e.instance(wp.InstanceID)
	if err != nil {
		return err
	}
	if inst.state != StateActive {
		return fmt.Errorf("%s %s: instance %s is %s", verb, wp.ActivityID, inst.id, inst.state)
	}
	p := inst.point(wp.OccurrenceID)
	if p == nil {
		return fmt.Errorf("%s %s: occurrence %s is not open", verb, wp.ActivityID, wp.OccurrenceID)
	}
	op := e.newOp(ctx, inst)
	if err := fn(op, p); err != nil {
		return err
	}
	return op.finish()
}

func (e *Engine) instance(id string) (*instance, error) {
	inst, ok := e.instances[id]
	if !ok {
		return nil, fmt.Errorf("unknown instance %q", id)
	}
	return inst, nil
}

func (e *Engine) record(ctx context.Context, inst *instance, act *ir.Activity, occurrence string, typ ir.HistoryEventType) error {
	e.seq++
	if e.sink == nil {
		return nil
	}
	ev := ir.HistoryEvent{
		Seq:           e.seq,
		InstanceID:    inst.id,
		DefinitionKey: inst.def.Key,
		ActivityID:    act.ID,
		OccurrenceID:  occurrence,
		Kind:          act.Kind,
		Type:          typ,
		At:            inst.clock.Now(),
	}
	if err := e.sink.WriteHistory(ctx, ev); err != nil {
		return fmt.Errorf("write history for %s/%s: %w", inst.id, act.ID, err)
	}
	return nil
}

var _ driver.Engine = (*Engine)(nil)
