package harness

import (
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tempo/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string          `json:"scenario_name"`
	Outcome      string          `json:"outcome"`
	Trace        []ir.TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"outcome":       s.Outcome,
		"trace":         canonicalTrace(s.Trace),
	}
}

func canonicalTrace(trace []ir.TraceEvent) []any {
	out := make([]any, len(trace))
	for i, ev := range trace {
		out[i] = ev.Canonical()
	}
	return out
}

// Snapshot returns the canonical JSON golden form of a result.
func Snapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Outcome:      result.Outcome,
		Trace:        result.Trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// TraceDigest returns the domain-separated SHA-256 of a trace's canonical
// form. Two runs with equal digests produced byte-identical traces.
func TraceDigest(trace []ir.TraceEvent) (string, error) {
	return ir.Digest(ir.DomainTrace, canonicalTrace(trace))
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}

// CheckDeterminism runs the scenario repeatedly, each time against a fresh
// store and engine, and fails if any two runs produced different traces.
// Returns the first run's result. Only the Definitions and Logger of opts
// are used.
func CheckDeterminism(ctx context.Context, scenario *Scenario, runs int, opts Options) (*Result, error) {
	if runs < 2 {
		runs = 2
	}

	var first *Result
	for i := 0; i < runs; i++ {
		result, err := RunWithOptions(ctx, scenario, Options{
			Definitions: opts.Definitions,
			Logger:      opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = result
			continue
		}
		if result.Digest != first.Digest {
			return first, fmt.Errorf("scenario %s is not deterministic: run %d trace digest %s, run 1 %s",
				scenario.Name, i+1, result.Digest, first.Digest)
		}
	}
	return first, nil
}
