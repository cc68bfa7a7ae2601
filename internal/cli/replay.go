package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/harness"
	"github.com/roach88/tempo/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Run      string // optional - specific run only
}

// ReplayInstance is the recovery state of one instance a run touched.
type ReplayInstance struct {
	InstanceID    string `json:"instance_id"`
	DefinitionKey string `json:"definition_key"`
	Open          int    `json:"open"`
	Complete      bool   `json:"complete"`
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunID         string           `json:"run_id"`
	Name          string           `json:"name"`
	Outcome       string           `json:"outcome"`
	Events        int              `json:"events"`
	StoredDigest  string           `json:"stored_digest"`
	Digest        string           `json:"digest"`
	Deterministic bool             `json:"deterministic"`
	Instances     []ReplayInstance `json:"instances"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-read stored runs and verify their trace digests",
		Long: `Re-read every stored run trace from a database written by tempo run --db.

Each trace is read twice and its digest recomputed; a run is deterministic
when both reads agree with the digest recorded when the run finished. The
instances each run touched are reported with their open occurrences.

Exit codes:
  0 - All runs verified
  1 - Digest mismatch detected
  2 - Command error (database not found, unknown run, etc.)

Examples:
  tempo replay --db ./tempo.db
  tempo replay --db ./tempo.db --run 0192f0c4-...
  tempo replay --db ./tempo.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Run, "run", "", "replay a specific run only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var runs []store.Run
	if opts.Run != "" {
		run, err := st.ReadRun(ctx, opts.Run)
		if errors.Is(err, sql.ErrNoRows) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run not found: %s", opts.Run), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.Run))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		runs = []store.Run{run}
	} else if runs, err = st.ListRuns(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	result := ReplayResult{
		Runs:             make([]ReplayRunResult, 0, len(runs)),
		TotalRuns:        len(runs),
		AllDeterministic: true,
	}
	for _, run := range runs {
		rr, err := replayRun(ctx, st, run)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", run.ID), err)
		}
		formatter.VerboseLog("Replayed run %s: %d event(s)", run.ID, rr.Events)
		result.Runs = append(result.Runs, rr)
		if !rr.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

// replayRun reads a run's trace twice and checks both reads against the
// digest stored with the run.
func replayRun(ctx context.Context, st *store.Store, run store.Run) (ReplayRunResult, error) {
	first, err := st.ReadTrace(ctx, run.ID)
	if err != nil {
		return ReplayRunResult{}, fmt.Errorf("first read failed: %w", err)
	}
	second, err := st.ReadTrace(ctx, run.ID)
	if err != nil {
		return ReplayRunResult{}, fmt.Errorf("second read failed: %w", err)
	}

	digest, err := harness.TraceDigest(first)
	if err != nil {
		return ReplayRunResult{}, err
	}
	again, err := harness.TraceDigest(second)
	if err != nil {
		return ReplayRunResult{}, err
	}

	rr := ReplayRunResult{
		RunID:         run.ID,
		Name:          run.Name,
		Outcome:       run.Outcome,
		Events:        len(first),
		StoredDigest:  run.Digest,
		Digest:        digest,
		Deterministic: digest == again && digest == run.Digest,
		Instances:     []ReplayInstance{},
	}

	ids, err := st.RunInstances(ctx, run.ID)
	if err != nil {
		return ReplayRunResult{}, err
	}
	for _, id := range ids {
		state, err := st.GetInstanceState(ctx, id)
		if err != nil {
			return ReplayRunResult{}, err
		}
		rr.Instances = append(rr.Instances, ReplayInstance{
			InstanceID:    id,
			DefinitionKey: state.DefinitionKey,
			Open:          len(state.Open),
			Complete:      state.IsComplete,
		})
	}
	return rr, nil
}

func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.AllDeterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	if err := encodeJSON(formatter.Writer, response); err != nil {
		return err
	}
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer
	if result.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d run(s)\n\n", result.TotalRuns)
	for _, rr := range result.Runs {
		if rr.Deterministic {
			formatter.Pass("Run: %s (%s, %s)", rr.RunID, rr.Name, rr.Outcome)
		} else {
			formatter.Fail("Run: %s (%s, %s)", rr.RunID, rr.Name, rr.Outcome)
			formatter.Dim("stored digest %s", rr.StoredDigest)
			formatter.Dim("replay digest %s", rr.Digest)
		}
		for _, inst := range rr.Instances {
			status := "complete"
			if !inst.Complete {
				status = fmt.Sprintf("incomplete, %d open", inst.Open)
			}
			formatter.Dim("%s %s: %s", truncateID(inst.InstanceID), inst.DefinitionKey, status)
		}
		if formatter.Verbose {
			formatter.Dim("events %d, digest %s", rr.Events, rr.Digest)
		}
	}
	fmt.Fprintln(w)

	if slices.ContainsFunc(result.Runs, func(rr ReplayRunResult) bool { return !rr.Deterministic }) {
		formatter.Fail("Determinism verification failed")
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	formatter.Pass("All runs verified deterministic")
	return nil
}
