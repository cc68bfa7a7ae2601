package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tempo/internal/driver"
	"github.com/roach88/tempo/internal/ir"
)

// Scenario describes one driver run: which definitions to deploy, which
// instances to start, how each wait point is answered, and what must hold
// once the run terminates.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Definitions lists CUE files to compile and deploy.
	// Paths are relative to the scenario file location.
	Definitions []string `yaml:"definitions,omitempty"`

	// Start is the definition key of the single instance to start.
	// Mutually exclusive with Instances.
	Start string `yaml:"start,omitempty"`

	// Variables are the start variables of the Start instance.
	Variables map[string]any `yaml:"variables,omitempty"`

	// Instances starts several instances in order, each with its own
	// variables and instance-scoped actions.
	Instances []InstanceSpec `yaml:"instances,omitempty"`

	// StartTime is the RFC 3339 virtual clock origin. Defaults to
	// 2026-01-01T00:00:00Z.
	StartTime string `yaml:"start_time,omitempty"`

	// Policy is "strict" (default) or "lenient".
	Policy string `yaml:"policy,omitempty"`

	// MaxSteps bounds the number of driver steps. Zero keeps the default.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// MaxAdvance bounds total virtual time, as an ISO-8601 period.
	MaxAdvance string `yaml:"max_advance,omitempty"`

	// Actions answer wait points of every instance of the run.
	Actions []Action `yaml:"actions,omitempty"`

	// Assertions are checked after the run terminates.
	Assertions []Assertion `yaml:"assertions"`

	// ExpectError names the run error code the scenario expects, e.g.
	// "stalled_run". Matching is case-insensitive. A run that fails with a
	// different code, or does not fail, is a scenario failure.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// InstanceSpec is one instance of a multi-instance scenario.
type InstanceSpec struct {
	Key       string         `yaml:"key"`
	Variables map[string]any `yaml:"variables,omitempty"`

	// Actions registered on this instance only. They take precedence over
	// the scenario-wide actions.
	Actions []Action `yaml:"actions,omitempty"`
}

// Step is one resumption of a wait point.
type Step struct {
	// Do is one of complete, fail, receive, send or noop.
	Do string `yaml:"do,omitempty"`

	// Variables are passed to Complete and Receive, and as the payload of
	// send.
	Variables map[string]any `yaml:"variables,omitempty"`

	// Reason is the business error raised by fail.
	Reason string `yaml:"reason,omitempty"`

	// Message correlates a message to one receiver (send).
	Message string `yaml:"message,omitempty"`

	// Signal broadcasts a signal to every catcher (send).
	Signal string `yaml:"signal,omitempty"`
}

// Action answers every reach of one (activity, kind) wait point.
//
// Without Defer the Step runs at once. With Defer the point is left open,
// and Then runs when the virtual clock reaches now+Defer.
type Action struct {
	Activity string `yaml:"activity"`
	Kind     string `yaml:"kind"`

	Step `yaml:",inline"`

	// Defer is an ISO-8601 period.
	Defer string `yaml:"defer,omitempty"`
	Then  *Step  `yaml:"then,omitempty"`
}

// Assertion is checked against the terminated run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Activity is the activity id (reached, finished, canceled, open,
	// trace_count).
	Activity string `yaml:"activity,omitempty"`

	// Instance is the zero-based start index of the instance to inspect.
	// Omitted means every instance.
	Instance *int `yaml:"instance,omitempty"`

	// Count is the exact expected count. Omitted means at least one.
	Count *int `yaml:"count,omitempty"`

	// Outcome is the expected run outcome (outcome).
	Outcome string `yaml:"outcome,omitempty"`

	// At is the expected final virtual time as an ISO-8601 period from the
	// start time (clock).
	At string `yaml:"at,omitempty"`

	// Event is the trace type to count (trace_count).
	Event string `yaml:"event,omitempty"`

	// Events lists trace types, or "type:activity" pairs, that must appear
	// in this order (trace_order).
	Events []string `yaml:"events,omitempty"`
}

// Action verbs.
const (
	DoComplete = "complete"
	DoFail     = "fail"
	DoReceive  = "receive"
	DoSend     = "send"
	DoNoop     = "noop"
)

// Assertion type constants.
const (
	AssertReached    = "reached"
	AssertFinished   = "finished"
	AssertCanceled   = "canceled"
	AssertEnded      = "ended"
	AssertOpen       = "open"
	AssertOutcome    = "outcome"
	AssertClock      = "clock"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

var errorCodes = []string{
	string(driver.ErrCodeUnhandledWaitPoint),
	string(driver.ErrCodeStalledRun),
	string(driver.ErrCodeHandler),
	string(driver.ErrCodeBoundExceeded),
	string(driver.ErrCodeEngine),
	"CLOCK_REGRESSION",
}

var outcomes = []string{
	string(driver.OutcomeCompleted),
	string(driver.OutcomeStalled),
	string(driver.OutcomeFailed),
	string(driver.OutcomeCanceled),
}

var traceTypes = []ir.TraceType{
	ir.TraceStarted,
	ir.TraceDispatched,
	ir.TraceUnhandled,
	ir.TraceDeferred,
	ir.TraceContinued,
	ir.TraceStale,
	ir.TraceAdvanced,
	ir.TraceTimers,
	ir.TraceTerminated,
}

// LoadScenario reads and parses a scenario YAML file. Definition paths
// are resolved relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving definition paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, p := range scenario.Definitions {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Definitions[i] = filepath.Join(basePath, p)
		}
	}
	for _, p := range scenario.Definitions {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: definition file not found: %s", p)
		}
	}

	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. Definition paths are
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Start != "" && len(s.Instances) > 0:
		return fmt.Errorf("start and instances are mutually exclusive")
	case s.Start == "" && len(s.Instances) == 0:
		return fmt.Errorf("one of start or instances is required")
	case s.Start == "" && len(s.Variables) > 0:
		return fmt.Errorf("variables apply to start; use instances[].variables")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := driver.ParsePolicy(s.Policy); err != nil {
		return err
	}
	if s.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, s.StartTime); err != nil {
			return fmt.Errorf("start_time: %w", err)
		}
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must not be negative")
	}
	if s.MaxAdvance != "" {
		if _, err := driver.ParsePeriod(s.MaxAdvance); err != nil {
			return fmt.Errorf("max_advance: %w", err)
		}
	}
	if s.ExpectError != "" && !slices.Contains(errorCodes, strings.ToUpper(s.ExpectError)) {
		return fmt.Errorf("expect_error: unknown error code %q", s.ExpectError)
	}
	if _, err := ir.ObjectFromMap(s.Variables); err != nil {
		return fmt.Errorf("variables: %w", err)
	}

	if err := validateActions("actions", s.Actions); err != nil {
		return err
	}
	for i, inst := range s.Instances {
		if inst.Key == "" {
			return fmt.Errorf("instances[%d]: key is required", i)
		}
		if _, err := ir.ObjectFromMap(inst.Variables); err != nil {
			return fmt.Errorf("instances[%d].variables: %w", i, err)
		}
		if err := validateActions(fmt.Sprintf("instances[%d].actions", i), inst.Actions); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateActions(field string, actions []Action) error {
	seen := make(map[string]bool)
	for i, a := range actions {
		if err := validateAction(&a); err != nil {
			return fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		key := a.Activity + "/" + a.Kind
		if seen[key] {
			return fmt.Errorf("%s[%d]: duplicate action for %s (%s)", field, i, a.Activity, a.Kind)
		}
		seen[key] = true
	}
	return nil
}

func validateAction(a *Action) error {
	if a.Activity == "" {
		return fmt.Errorf("activity is required")
	}
	kind, err := ir.ParseKind(a.Kind)
	if err != nil {
		return err
	}
	if !kind.IsWait() || kind.IsTimer() {
		return fmt.Errorf("kind %s cannot be answered by an action", kind)
	}

	if a.Defer == "" {
		if a.Then != nil {
			return fmt.Errorf("then requires defer")
		}
		return validateStep(kind, &a.Step)
	}

	if _, err := driver.ParsePeriod(a.Defer); err != nil {
		return fmt.Errorf("defer: %w", err)
	}
	if a.Do != "" {
		return fmt.Errorf("do and defer are mutually exclusive; put the deferred step under then")
	}
	if a.Then == nil {
		return fmt.Errorf("defer requires then")
	}
	if err := validateStep(kind, a.Then); err != nil {
		return fmt.Errorf("then: %w", err)
	}
	return nil
}

func validateStep(kind ir.Kind, s *Step) error {
	if _, err := ir.ObjectFromMap(s.Variables); err != nil {
		return fmt.Errorf("variables: %w", err)
	}

	switch s.Do {
	case DoNoop:
	case DoComplete, DoFail:
		if !kind.IsTask() {
			return fmt.Errorf("%s needs a task kind, got %s", s.Do, kind)
		}
		if s.Do == DoFail && s.Reason == "" {
			return fmt.Errorf("fail requires reason")
		}
	case DoReceive:
		if !kind.IsEvent() {
			return fmt.Errorf("receive needs an event kind, got %s", kind)
		}
	case DoSend:
		if !kind.IsTask() {
			return fmt.Errorf("send needs a task kind, got %s", kind)
		}
		if (s.Message == "") == (s.Signal == "") {
			return fmt.Errorf("send requires exactly one of message or signal")
		}
	case "":
		return fmt.Errorf("do is required")
	default:
		return fmt.Errorf("unknown do %q", s.Do)
	}

	if s.Do != DoSend && (s.Message != "" || s.Signal != "") {
		return fmt.Errorf("message and signal only apply to send")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count != nil && *a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must not be negative", index)
	}
	if a.Instance != nil && *a.Instance < 0 {
		return fmt.Errorf("assertions[%d]: instance must not be negative", index)
	}

	switch a.Type {
	case AssertReached, AssertFinished, AssertCanceled, AssertOpen:
		if a.Activity == "" {
			return fmt.Errorf("assertions[%d]: activity is required for %s", index, a.Type)
		}
	case AssertEnded:
	case AssertOutcome:
		if !slices.Contains(outcomes, a.Outcome) {
			return fmt.Errorf("assertions[%d]: outcome must be one of %s", index, strings.Join(outcomes, ", "))
		}
	case AssertClock:
		if a.At == "" {
			return fmt.Errorf("assertions[%d]: at is required for clock", index)
		}
		if _, err := driver.ParsePeriod(a.At); err != nil {
			return fmt.Errorf("assertions[%d]: at: %w", index, err)
		}
	case AssertTraceCount:
		if !slices.Contains(traceTypes, ir.TraceType(a.Event)) {
			return fmt.Errorf("assertions[%d]: unknown trace event %q", index, a.Event)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
		for _, ev := range a.Events {
			typ, _, _ := strings.Cut(ev, ":")
			if !slices.Contains(traceTypes, ir.TraceType(typ)) {
				return fmt.Errorf("assertions[%d]: unknown trace event %q", index, ev)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// instanceSpecs returns the instances to start, in order.
func (s *Scenario) instanceSpecs() []InstanceSpec {
	if s.Start != "" {
		return []InstanceSpec{{Key: s.Start, Variables: s.Variables}}
	}
	return s.Instances
}

// startTime returns the virtual clock origin.
func (s *Scenario) startTime() time.Time {
	if s.StartTime == "" {
		return defaultStartTime
	}
	t, _ := time.Parse(time.RFC3339, s.StartTime)
	return t.UTC()
}

var defaultStartTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
