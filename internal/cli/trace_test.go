package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/memengine"
)

// seedDatabase runs the PT5M timer race into a fresh database under
// instance "order-1" and run "run-1".
func seedDatabase(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tempo.db")
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Database:    dbPath,
		IDs:         memengine.NewFixedGenerator("order-1"),
		RunID:       "run-1",
	}
	require.NoError(t, runScenarioCommand(opts, processesDir, scenarioPath("timer_race_pt5m"), cmd))
	return dbPath
}

func executeTrace(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceRequiresDatabase(t *testing.T) {
	_, err := executeTrace(t, "text", "order-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}

func TestTraceHistoryText(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeTrace(t, "text", "--db", db, "order-1")
	require.NoError(t, err)
	assert.Contains(t, output, "History for Instance: order-1")
	assert.Contains(t, output, "Process: TimerRace")
	assert.Contains(t, output, "Status: Ended")
	assert.Contains(t, output, "=== Timeline ===")
	assert.Contains(t, output, "UserTask (user_task)")
	assert.Contains(t, output, "EndEventCompleted (end)")
	assert.NotContains(t, output, "Timeout")
	assert.Contains(t, output, "Open:     0")
}

func TestTraceHistoryJSON(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeTrace(t, "json", "--db", db, "order-1")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   HistoryReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "order-1", resp.Data.InstanceID)
	assert.Equal(t, "TimerRace", resp.Data.DefinitionKey)
	assert.True(t, resp.Data.Stats.Ended)
	assert.Zero(t, resp.Data.Stats.Open)
	require.NotEmpty(t, resp.Data.Events)

	for i := 1; i < len(resp.Data.Events); i++ {
		assert.Greater(t, resp.Data.Events[i].Seq, resp.Data.Events[i-1].Seq)
	}
	// The boundary timer never fired, so it left no history.
	assert.Zero(t, resp.Data.Stats.Canceled)
}

func TestTraceHistoryActivityFilter(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeTrace(t, "json", "--db", db, "order-1", "--activity", "UserTask")
	require.NoError(t, err)

	var resp struct {
		Data HistoryReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Len(t, resp.Data.Events, 2)
	for _, ev := range resp.Data.Events {
		assert.Equal(t, "UserTask", ev.ActivityID)
	}
	assert.Equal(t, 1, resp.Data.Stats.Started)
	assert.Equal(t, 1, resp.Data.Stats.Finished)
}

func TestTraceHistoryUnknownInstance(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeTrace(t, "text", "--db", db, "nobody")
	require.NoError(t, err)
	assert.Contains(t, output, "No history found for instance: nobody")
}

func TestTraceRunText(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeTrace(t, "text", "--db", db, "--run", "run-1")
	require.NoError(t, err)
	assert.Contains(t, output, "Trace for Run: run-1 (timer_race_pt5m)")
	assert.Contains(t, output, "Outcome: completed")
	assert.Contains(t, output, "2026-01-01T00:00:00Z → 2026-01-01T00:05:00Z")
	assert.Contains(t, output, "terminated")
}

func TestTraceRunJSONActivityFilter(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeTrace(t, "json", "--db", db, "--run", "run-1", "--activity", "UserTask")
	require.NoError(t, err)

	var resp struct {
		Data RunTraceReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "run-1", resp.Data.ID)
	assert.Len(t, resp.Data.Digest, 64)
	require.NotEmpty(t, resp.Data.Trace)
	for _, ev := range resp.Data.Trace {
		assert.Equal(t, "UserTask", ev.ActivityID)
	}
}

func TestTraceRunNotFound(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeTrace(t, "text", "--db", db, "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "run not found: missing")
}

func TestTraceMutuallyExclusive(t *testing.T) {
	db := seedDatabase(t)

	_, err := executeTrace(t, "text", "--db", db, "--run", "run-1", "order-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestTraceListing(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeTrace(t, "text", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, output, "=== Runs ===")
	assert.Contains(t, output, "run-1 timer_race_pt5m completed")
	assert.Contains(t, output, "=== Instances ===")
	assert.Contains(t, output, "  order-1\n")
}

func TestTraceListingEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")

	output, err := executeTrace(t, "text", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "=== Runs ===\n  (none)\n\n=== Instances ===\n  (none)\n", output)
}

func TestBuildHistoryReport(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []ir.HistoryEvent{
		{Seq: 1, InstanceID: "i", DefinitionKey: "Review", ActivityID: "StartEvent", OccurrenceID: "1", Kind: ir.KindStart, Type: ir.HistoryStarted, At: at},
		{Seq: 2, InstanceID: "i", DefinitionKey: "Review", ActivityID: "StartEvent", OccurrenceID: "1", Kind: ir.KindStart, Type: ir.HistoryFinished, At: at},
		{Seq: 3, InstanceID: "i", DefinitionKey: "Review", ActivityID: "Review", OccurrenceID: "2", Kind: ir.KindUserTask, Type: ir.HistoryStarted, At: at},
	}

	report := buildHistoryReport("i", events, "")
	assert.Equal(t, "Review", report.DefinitionKey)
	assert.Equal(t, HistoryStats{Started: 2, Finished: 1, Open: 1}, report.Stats)
	assert.Equal(t, "Waiting (1 open)", endedStatus(report.Stats))

	filtered := buildHistoryReport("i", events, "StartEvent")
	assert.Len(t, filtered.Events, 2)
	assert.Equal(t, 1, filtered.Stats.Started)
	assert.Equal(t, 1, filtered.Stats.Open, "open is counted over the whole history")

	empty := buildHistoryReport("i", nil, "")
	assert.NotNil(t, empty.Events)
	assert.Equal(t, "Incomplete", endedStatus(empty.Stats))
}

func TestEndedStatus(t *testing.T) {
	assert.Equal(t, "Ended", endedStatus(HistoryStats{Ended: true}))
	assert.Equal(t, "Waiting (2 open)", endedStatus(HistoryStats{Ended: true, Open: 2}))
	assert.Equal(t, "Incomplete", endedStatus(HistoryStats{}))
}

func TestTruncateID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"short", "short"},
		{"exactly16chars!!", "exactly16chars!!"},
		{"0192f0c4-7d1e-7c3a-9a8e-3b1f2c4d5e6f", "0192f0c4...2c4d5e6f"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateID(tt.input))
	}
}
