package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/store"
)

func executeReplay(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// overwriteDigest replaces the digest recorded for every stored run.
func overwriteDigest(t *testing.T, dbPath, digest string) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	_, err = st.DB().Exec(`UPDATE runs SET digest = ?`, digest)
	require.NoError(t, err)
}

func TestReplayRequiresDatabase(t *testing.T) {
	_, err := executeReplay(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}

func TestReplayText(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeReplay(t, "text", "--db", db)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Replay Summary: 1 run(s)")
	assert.Contains(t, output, "✓ Run: run-1 (timer_race_pt5m, completed)")
	assert.Contains(t, output, "order-1 TimerRace: complete")
	assert.Contains(t, output, "✓ All runs verified deterministic")
}

func TestReplayJSON(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeReplay(t, "json", "--db", db, "--run", "run-1")
	require.NoError(t, err, output)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllDeterministic)
	require.Len(t, resp.Data.Runs, 1)

	rr := resp.Data.Runs[0]
	assert.Equal(t, "run-1", rr.RunID)
	assert.Len(t, rr.Digest, 64)
	assert.Equal(t, rr.StoredDigest, rr.Digest)
	assert.NotZero(t, rr.Events)
	assert.Equal(t, []ReplayInstance{{
		InstanceID:    "order-1",
		DefinitionKey: "TimerRace",
		Open:          0,
		Complete:      true,
	}}, rr.Instances)
}

func TestReplayDigestMismatch(t *testing.T) {
	db := seedDatabase(t)
	overwriteDigest(t, db, "0000")

	output, err := executeReplay(t, "text", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "✗ Run: run-1")
	assert.Contains(t, output, "stored digest 0000")
	assert.Contains(t, output, "✗ Determinism verification failed")
}

func TestReplayDigestMismatchJSON(t *testing.T) {
	db := seedDatabase(t)
	overwriteDigest(t, db, "0000")

	output, err := executeReplay(t, "json", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_DETERMINISM", resp.Error.Code)
	assert.False(t, resp.Data.AllDeterministic)
	require.Len(t, resp.Data.Runs, 1)
	assert.False(t, resp.Data.Runs[0].Deterministic)
	assert.Equal(t, "0000", resp.Data.Runs[0].StoredDigest)
}

func TestReplayRunNotFound(t *testing.T) {
	db := seedDatabase(t)

	output, err := executeReplay(t, "text", "--db", db, "--run", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "run not found: missing")
}

func TestReplayEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")

	output, err := executeReplay(t, "text", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "No runs found in database.\n", output)
}

func TestReplayReportsOpenInstances(t *testing.T) {
	db := seedDatabase(t)

	st, err := store.Open(db)
	require.NoError(t, err)
	// Drop the end event so order-1 looks like it stopped mid-flight.
	_, err = st.DB().Exec(`DELETE FROM history WHERE instance_id = 'order-1' AND kind = 'end'`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	output, err := executeReplay(t, "text", "--db", db)
	require.NoError(t, err, output)
	assert.Contains(t, output, "order-1 TimerRace: incomplete, 0 open")
}
