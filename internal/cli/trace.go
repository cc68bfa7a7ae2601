package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/harness"
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Run      string // print a stored driver trace instead of history
	Activity string // optional - filter to one activity
}

// HistoryReport is the history of one instance.
type HistoryReport struct {
	InstanceID    string            `json:"instance_id"`
	DefinitionKey string            `json:"definition_key,omitempty"`
	Events        []ir.HistoryEvent `json:"events"`
	Stats         HistoryStats      `json:"stats"`
}

// HistoryStats summarizes an instance history.
type HistoryStats struct {
	Started  int  `json:"started"`
	Finished int  `json:"finished"`
	Canceled int  `json:"canceled"`
	Open     int  `json:"open"` // started occurrences with no finish or cancel
	Ended    bool `json:"ended"`
}

// RunTraceReport is a stored run summary with its trace.
type RunTraceReport struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Outcome   string          `json:"outcome"`
	Steps     int             `json:"steps"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Digest    string          `json:"digest"`
	Trace     []ir.TraceEvent `json:"trace"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [instance-id]",
		Short: "Inspect persisted history and run traces",
		Long: `Inspect a database written by tempo run --db.

With an instance id, prints the activity history of that instance in
sequence order. With --run, prints the stored driver trace of a run.
With neither, lists the stored runs and instances.

Examples:
  tempo trace --db ./tempo.db 0192f0c4-7d1e-7c3a-9a8e-3b1f2c4d5e6f
  tempo trace --db ./tempo.db 0192f0c4-... --activity UserTask
  tempo trace --db ./tempo.db --run 0192f0c4-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceID := ""
			if len(args) == 1 {
				instanceID = args[0]
			}
			return runTrace(opts, instanceID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run id whose driver trace to print")
	cmd.Flags().StringVar(&opts.Activity, "activity", "", "filter to one activity id")

	return cmd
}

func runTrace(opts *TraceOptions, instanceID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	if instanceID != "" && opts.Run != "" {
		_ = formatter.Error(ErrCodeGeneric, "instance id and --run are mutually exclusive", nil)
		return NewExitError(ExitCommandError, "instance id and --run are mutually exclusive")
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	switch {
	case opts.Run != "":
		run, err := st.ReadRun(ctx, opts.Run)
		if errors.Is(err, sql.ErrNoRows) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run not found: %s", opts.Run), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.Run))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		trace, err := st.ReadTrace(ctx, opts.Run)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read trace", err)
		}
		report := RunTraceReport{
			ID:        run.ID,
			Name:      run.Name,
			Outcome:   run.Outcome,
			Steps:     run.Steps,
			StartedAt: run.StartedAt,
			EndedAt:   run.EndedAt,
			Digest:    run.Digest,
			Trace:     filterTrace(trace, opts.Activity),
		}
		if formatter.Format == "json" {
			return encodeJSON(formatter.Writer, CLIResponse{Status: "ok", Data: report})
		}
		outputRunTraceText(formatter, report)
		return nil

	case instanceID != "":
		events, err := st.ReadHistory(ctx, instanceID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read history", err)
		}
		report := buildHistoryReport(instanceID, events, opts.Activity)
		if formatter.Format == "json" {
			return encodeJSON(formatter.Writer, CLIResponse{Status: "ok", Data: report})
		}
		if len(events) == 0 {
			fmt.Fprintf(formatter.Writer, "No history found for instance: %s\n", instanceID)
			return nil
		}
		outputHistoryText(formatter, report)
		return nil

	default:
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		instances, err := st.Instances(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list instances", err)
		}
		if formatter.Format == "json" {
			return encodeJSON(formatter.Writer, CLIResponse{Status: "ok", Data: map[string]any{
				"runs":      runs,
				"instances": instances,
			}})
		}
		outputListing(formatter.Writer, runs, instances)
		return nil
	}
}

// buildHistoryReport filters events to activity (if set) and counts them.
// Open and Ended are computed over the full history.
func buildHistoryReport(instanceID string, events []ir.HistoryEvent, activity string) HistoryReport {
	report := HistoryReport{InstanceID: instanceID, Events: []ir.HistoryEvent{}}

	open := make(map[string]bool)
	for _, ev := range events {
		if report.DefinitionKey == "" {
			report.DefinitionKey = ev.DefinitionKey
		}
		key := ev.ActivityID + "/" + ev.OccurrenceID
		switch ev.Type {
		case ir.HistoryStarted:
			open[key] = true
		case ir.HistoryFinished, ir.HistoryCanceled:
			delete(open, key)
			if ev.Kind == ir.KindEnd && ev.Type == ir.HistoryFinished {
				report.Stats.Ended = true
			}
		}

		if activity != "" && ev.ActivityID != activity {
			continue
		}
		report.Events = append(report.Events, ev)
		switch ev.Type {
		case ir.HistoryStarted:
			report.Stats.Started++
		case ir.HistoryFinished:
			report.Stats.Finished++
		case ir.HistoryCanceled:
			report.Stats.Canceled++
		}
	}
	report.Stats.Open = len(open)
	return report
}

func filterTrace(trace []ir.TraceEvent, activity string) []ir.TraceEvent {
	if activity == "" {
		return trace
	}
	filtered := []ir.TraceEvent{}
	for _, ev := range trace {
		if ev.ActivityID == activity {
			filtered = append(filtered, ev)
		}
	}
	return filtered
}

func outputHistoryText(formatter *OutputFormatter, report HistoryReport) {
	w := formatter.Writer
	fmt.Fprintf(w, "History for Instance: %s\n", report.InstanceID)
	if report.DefinitionKey != "" {
		fmt.Fprintf(w, "Process: %s\n", report.DefinitionKey)
	}
	fmt.Fprintf(w, "Status: %s\n", endedStatus(report.Stats))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(report.Events) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range report.Events {
		fmt.Fprintf(w, "  [%d] %s %-8s %s (%s)\n",
			ev.Seq, ev.At.UTC().Format(time.RFC3339), ev.Type, ev.ActivityID, ev.Kind)
		if formatter.Verbose {
			fmt.Fprintf(w, "       Occurrence: %s\n", ev.OccurrenceID)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Started:  %d\n", report.Stats.Started)
	fmt.Fprintf(w, "  Finished: %d\n", report.Stats.Finished)
	fmt.Fprintf(w, "  Canceled: %d\n", report.Stats.Canceled)
	fmt.Fprintf(w, "  Open:     %d\n", report.Stats.Open)
}

func outputRunTraceText(formatter *OutputFormatter, report RunTraceReport) {
	w := formatter.Writer
	fmt.Fprintf(w, "Trace for Run: %s (%s)\n", report.ID, report.Name)
	fmt.Fprintf(w, "Outcome: %s after %d step(s)\n", report.Outcome, report.Steps)
	fmt.Fprintf(w, "Clock: %s → %s\n",
		report.StartedAt.UTC().Format(time.RFC3339), report.EndedAt.UTC().Format(time.RFC3339))
	fmt.Fprintln(w)
	if len(report.Trace) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range report.Trace {
		fmt.Fprintf(w, "  %s\n", harness.FormatTraceEvent(ev))
	}
	if formatter.Verbose {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Digest: %s\n", report.Digest)
	}
}

func outputListing(w io.Writer, runs []store.Run, instances []string) {
	fmt.Fprintln(w, "=== Runs ===")
	if len(runs) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, run := range runs {
		fmt.Fprintf(w, "  %s %s %s\n", truncateID(run.ID), run.Name, run.Outcome)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Instances ===")
	if len(instances) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, id := range instances {
		fmt.Fprintf(w, "  %s\n", id)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

func endedStatus(stats HistoryStats) string {
	switch {
	case stats.Ended && stats.Open == 0:
		return "Ended"
	case stats.Open > 0:
		return fmt.Sprintf("Waiting (%d open)", stats.Open)
	default:
		return "Incomplete"
	}
}
