package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/memengine"
	"github.com/roach88/tempo/internal/store"
	"github.com/roach88/tempo/internal/testutil"
)

const processesDir = "../../testdata/processes"

func loadFixture(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_Fixtures(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(scenariosDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_TimerRaceResult(t *testing.T) {
	result, err := Run(loadFixture(t, "timer_race_pt6m"))
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.Equal(t, "completed", result.Outcome)
	assert.Empty(t, result.ErrorCode)
	assert.Equal(t, []string{"instance-1"}, result.Instances)
	assert.Equal(t, []string{"instance-1"}, result.Ended)
	assert.Equal(t, testutil.At("PT6M"), result.Clock)
	assert.Equal(t, 4, result.Steps)
	assert.Empty(t, result.Open)
	require.NotEmpty(t, result.Trace)
	assert.Equal(t, ir.TraceTerminated, result.Trace[len(result.Trace)-1].Type)
	assert.Len(t, result.Digest, 64)
}

func TestRun_ExpectedError(t *testing.T) {
	result, err := Run(loadFixture(t, "lenient_stall"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "STALLED_RUN", result.ErrorCode)
	require.Error(t, result.Err)
}

func TestRun_UnexpectedError(t *testing.T) {
	scenario := loadFixture(t, "unhandled_strict")
	scenario.ExpectError = ""

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "run failed")
}

func TestRun_WrongExpectedError(t *testing.T) {
	scenario := loadFixture(t, "unhandled_strict")
	scenario.ExpectError = "stalled_run"

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error STALLED_RUN, got UNHANDLED_WAIT_POINT")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := loadFixture(t, "timer_race_pt5m")
	scenario.ExpectError = "bound_exceeded"

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "run ended completed")
}

func TestRun_AssertionFailure(t *testing.T) {
	scenario := loadFixture(t, "timer_race_pt5m")
	scenario.Assertions = append(scenario.Assertions, Assertion{Type: AssertClock, At: "PT1H"})

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "(clock)")
}

func TestRun_InstanceActionsOverrideScenario(t *testing.T) {
	// The scenario-wide action would complete at PT4M; the second instance
	// answers later and loses to the timer.
	scenario := &Scenario{
		Name:        "override",
		Description: "instance actions shadow scenario actions",
		Definitions: []string{filepath.Join(processesDir, "timer_race.cue")},
		Instances: []InstanceSpec{
			{Key: "TimerRace"},
			{Key: "TimerRace", Actions: []Action{{
				Activity: "UserTask",
				Kind:     "user_task",
				Defer:    "PT10M",
				Then:     &Step{Do: DoComplete},
			}}},
		},
		Actions: []Action{{
			Activity: "UserTask",
			Kind:     "user_task",
			Defer:    "PT4M",
			Then:     &Step{Do: DoComplete},
		}},
		Assertions: []Assertion{
			{Type: AssertFinished, Activity: "EndEventCompleted", Instance: intp(0), Count: intp(1)},
			{Type: AssertFinished, Activity: "EndEventCanceled", Instance: intp(1), Count: intp(1)},
			{Type: AssertEnded},
			{Type: AssertClock, At: "PT10M"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"instance-1", "instance-2"}, result.Instances)
}

func TestRun_SendWithoutReceiver(t *testing.T) {
	scenario := &Scenario{
		Name:        "lonely_sender",
		Description: "correlating a message nobody waits for fails the handler",
		Definitions: []string{filepath.Join(processesDir, "events.cue")},
		Start:       "Notifier",
		Actions: []Action{{
			Activity: "SendPing",
			Kind:     "send_task",
			Step:     Step{Do: DoSend, Message: "ping"},
		}},
		Assertions:  []Assertion{{Type: AssertOutcome, Outcome: "failed"}},
		ExpectError: "handler_error",
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.Err.Error(), `no receiver waiting for message "ping"`)
}

func TestRun_UnknownDefinitionIsEngineError(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown",
		Description: "starting an undeployed key",
		Definitions: []string{filepath.Join(processesDir, "events.cue")},
		Start:       "Nope",
		Assertions:  []Assertion{{Type: AssertOutcome, Outcome: "failed"}},
		ExpectError: "engine_error",
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Instances)
}

func TestRun_MaxSteps(t *testing.T) {
	scenario := loadFixture(t, "timer_race_pt6m")
	scenario.MaxSteps = 2
	scenario.ExpectError = "bound_exceeded"
	scenario.Assertions = []Assertion{{Type: AssertOutcome, Outcome: "failed"}}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_MaxAdvance(t *testing.T) {
	scenario := loadFixture(t, "sleep")
	scenario.MaxAdvance = "PT30M"
	scenario.ExpectError = "bound_exceeded"
	scenario.Assertions = []Assertion{{Type: AssertOutcome, Outcome: "failed"}}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_StartTime(t *testing.T) {
	scenario := loadFixture(t, "sleep")
	scenario.StartTime = "2030-01-01T00:00:00Z"

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "2030-01-01T01:00:00Z", result.Clock.Format("2006-01-02T15:04:05Z07:00"))
}

func TestRunWithOptions_PersistsRun(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	result, err := RunWithOptions(ctx, loadFixture(t, "timer_race_pt5m"), Options{
		Store: st,
		IDs:   memengine.NewFixedGenerator("order-42"),
		RunID: "run-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"order-42"}, result.Instances)

	run, err := st.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "timer_race_pt5m", run.Name)
	assert.Equal(t, "completed", run.Outcome)
	assert.Equal(t, result.Digest, run.Digest)
	assert.Equal(t, testutil.At("PT5M"), run.EndedAt)

	trace, err := st.ReadTrace(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, result.Trace, trace)

	history, err := st.ReadHistory(ctx, "order-42")
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestRunWithOptions_PreloadedDefinitions(t *testing.T) {
	scenario := loadFixture(t, "timer_race_pt5m")

	result, err := RunWithOptions(context.Background(), scenario, Options{
		Definitions: []ir.ProcessDefinition{*testutil.TimerRace(), *testutil.Sleep()},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunWithOptions_ConflictingDefinitions(t *testing.T) {
	scenario := loadFixture(t, "timer_race_pt5m")
	other := testutil.TimerRace()
	other.Activities[3].Duration = "PT7M"

	_, err := RunWithOptions(context.Background(), scenario, Options{
		Definitions: []ir.ProcessDefinition{*other},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting definitions")
}

func TestRun_NoDefinitions(t *testing.T) {
	scenario := &Scenario{
		Name:        "empty",
		Description: "nothing deployed",
		Start:       "TimerRace",
		Assertions:  []Assertion{{Type: AssertEnded}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no process definitions")
}

func TestRun_InvalidDefinition(t *testing.T) {
	def := testutil.TimerRace()
	def.Start = "Missing"

	_, err := RunWithOptions(context.Background(), loadFixture(t, "timer_race_pt5m"), Options{
		Definitions: []ir.ProcessDefinition{*def},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "process TimerRace")
}
