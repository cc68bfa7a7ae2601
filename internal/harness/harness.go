package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/roach88/tempo/internal/compiler"
	"github.com/roach88/tempo/internal/driver"
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/memengine"
	"github.com/roach88/tempo/internal/store"
)

// Options configures a scenario run.
type Options struct {
	// Store receives history, the run summary and the trace. Nil runs
	// against a fresh in-memory store that is closed afterwards.
	Store *store.Store

	// IDs generates instance ids. Nil uses "instance-1", "instance-2", ...
	IDs memengine.IDGenerator

	// RunID keys the run in the store. Empty uses the scenario name.
	RunID string

	// Definitions are deployed alongside the scenario's own definition
	// files. A key present in both must compile to the same definition.
	Definitions []ir.ProcessDefinition

	// Logger receives driver and engine logs. Nil discards them.
	Logger *slog.Logger
}

// Run executes a scenario with default options.
//
// Each scenario runs in a fresh in-memory database and a fresh engine, with
// sequential instance ids, so identical scenarios produce identical traces.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(context.Background(), scenario, Options{})
}

// RunWithOptions executes a scenario and returns the result.
//
// Execution flow:
//  1. Compile and validate definitions, deploy them to a reference engine
//  2. Register scenario actions as handlers
//  3. Start instances and execute the run to termination
//  4. Persist the run summary and trace
//  5. Check the expected error and evaluate assertions
//
// A returned error means the scenario could not be set up. Run failures
// are reported through Result.
func RunWithOptions(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	st := opts.Store
	if st == nil {
		var err error
		if st, err = store.OpenMemory(); err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
	}

	ids := opts.IDs
	if ids == nil {
		ids = memengine.NewSequenceGenerator("instance")
	}

	defs, err := loadDefinitions(scenario, opts.Definitions)
	if err != nil {
		return nil, err
	}

	eng := memengine.New(
		memengine.WithIDGenerator(ids),
		memengine.WithHistorySink(st),
		memengine.WithLogger(logger),
	)
	if err := eng.Deploy(defs...); err != nil {
		return nil, err
	}

	policy, err := driver.ParsePolicy(scenario.Policy)
	if err != nil {
		return nil, err
	}
	start := scenario.startTime()
	runOpts := []driver.Option{
		driver.WithStartTime(start),
		driver.WithPolicy(policy),
		driver.WithLogger(logger),
	}
	if scenario.MaxSteps > 0 {
		runOpts = append(runOpts, driver.WithMaxSteps(scenario.MaxSteps))
	}
	if scenario.MaxAdvance != "" {
		p, err := driver.ParsePeriod(scenario.MaxAdvance)
		if err != nil {
			return nil, fmt.Errorf("max_advance: %w", err)
		}
		runOpts = append(runOpts, driver.WithMaxAdvance(p.AddTo(start).Sub(start)))
	}
	run := driver.New(eng, runOpts...)

	if err := register(run.Handlers(), scenario.Actions, eng); err != nil {
		return nil, err
	}

	result := NewResult(scenario.Name)
	runErr := startInstances(ctx, run, scenario, eng)

	var res *driver.Result
	if runErr == nil {
		res, runErr = run.Execute(ctx)
	}

	result.Err = runErr
	result.ErrorCode = driver.ErrorCode(runErr)
	result.Trace = run.Trace()
	result.Clock = run.Clock().Now()
	for _, inst := range run.Instances() {
		result.Instances = append(result.Instances, inst.ID)
		if inst.Ended() {
			result.Ended = append(result.Ended, inst.ID)
		}
	}
	if res != nil {
		result.Outcome = string(res.Outcome)
		result.Steps = res.Steps
		result.Open = res.Open
	} else {
		result.Outcome = string(driver.OutcomeFailed)
	}
	if result.Digest, err = TraceDigest(result.Trace); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = scenario.Name
	}
	if err := persist(ctx, st, runID, scenario.Name, start, result); err != nil {
		return nil, err
	}

	checkExpectedError(scenario, result)

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
		Start: start,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	logger.Info("scenario finished",
		"scenario", scenario.Name,
		"outcome", result.Outcome,
		"steps", result.Steps,
		"pass", result.Pass,
	)
	return result, nil
}

// loadDefinitions merges preloaded definitions with the scenario's own
// definition files, validating each. Order is preserved, first seen wins.
func loadDefinitions(scenario *Scenario, preloaded []ir.ProcessDefinition) ([]*ir.ProcessDefinition, error) {
	all := append([]ir.ProcessDefinition(nil), preloaded...)
	for _, path := range scenario.Definitions {
		defs, err := compiler.CompileFile(path)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
		all = append(all, defs...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("scenario %s: no process definitions", scenario.Name)
	}

	byKey := make(map[string]*ir.ProcessDefinition)
	var out []*ir.ProcessDefinition
	for i := range all {
		def := &all[i]
		if prev, ok := byKey[def.Key]; ok {
			if !reflect.DeepEqual(prev, def) {
				return nil, fmt.Errorf("process %s: conflicting definitions", def.Key)
			}
			continue
		}
		if errs := compiler.Validate(def); len(errs) > 0 {
			return nil, fmt.Errorf("process %s: %w", def.Key, errs[0])
		}
		byKey[def.Key] = def
		out = append(out, def)
	}
	return out, nil
}

// startInstances starts every instance in order and installs its scoped
// actions. A start failure is a run failure, not a setup failure.
func startInstances(ctx context.Context, run *driver.Runner, scenario *Scenario, m Messenger) error {
	for i, spec := range scenario.instanceSpecs() {
		vars, err := ir.ObjectFromMap(spec.Variables)
		if err != nil {
			return fmt.Errorf("instances[%d].variables: %w", i, err)
		}
		inst, err := run.Start(ctx, spec.Key, vars)
		if err != nil {
			return err
		}
		if err := register(inst.Handlers(), spec.Actions, m); err != nil {
			return fmt.Errorf("instances[%d]: %w", i, err)
		}
	}
	return nil
}

// persist writes the run summary, then its trace.
func persist(ctx context.Context, st *store.Store, runID, name string, start time.Time, result *Result) error {
	err := st.WriteRun(ctx, store.Run{
		ID:        runID,
		Name:      name,
		Outcome:   result.Outcome,
		Steps:     result.Steps,
		StartedAt: start,
		EndedAt:   result.Clock,
		Digest:    result.Digest,
	})
	if err != nil {
		return err
	}
	return st.WriteTrace(ctx, runID, result.Trace)
}

// checkExpectedError compares the run error with the scenario's
// expectation.
func checkExpectedError(scenario *Scenario, result *Result) {
	want := strings.ToUpper(scenario.ExpectError)
	switch {
	case want == "" && result.Err != nil:
		result.AddError(fmt.Sprintf("run failed: %v", result.Err))
	case want != "" && result.Err == nil:
		result.AddError(fmt.Sprintf("expected error %s, run ended %s", want, result.Outcome))
	case want != "" && result.ErrorCode != want:
		result.AddError(fmt.Sprintf("expected error %s, got %s: %v", want, result.ErrorCode, result.Err))
	}
}
