package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/harness"
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/memengine"
	"github.com/roach88/tempo/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	MaxSteps int
	Start    string

	// IDs overrides the instance id generator (for testing).
	// If nil, runs persisted with --db use UUIDv7 ids and in-memory runs
	// use sequential ids.
	IDs memengine.IDGenerator

	// RunID overrides the generated run id (for testing).
	RunID string
}

// RunReport is the JSON payload of the run command.
type RunReport struct {
	RunID  string          `json:"run_id,omitempty"`
	Result *harness.Result `json:"result"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <defs-dir> <scenario.yaml>",
		Short: "Run one scenario against compiled definitions",
		Long: `Run a single scenario to termination under the virtual clock.

Definitions from <defs-dir> are deployed alongside any the scenario names
itself. With --db, instance history, the run summary and the trace are
written to a SQLite database (created if it doesn't exist) and instances
get UUIDv7 ids. Without it the run is kept in memory.

Example:
  tempo run ./testdata/processes ./testdata/scenarios/timer_race_pt6m.yaml
  tempo run --db ./tempo.db ./defs ./scenarios/race.yaml --verbose`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCommand(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "override the scenario step bound (0 keeps it)")
	cmd.Flags().StringVar(&opts.Start, "start", "", "override the scenario start time (RFC3339)")

	return cmd
}

func runScenarioCommand(opts *RunOptions, defsDir, scenarioPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	defs, err := compileDefinitions(defsDir)
	if err != nil {
		code, message := parseLoadError(err)
		_ = formatter.Error(code, message, nil)
		return WrapExitError(ExitCommandError, "failed to compile definitions", err)
	}
	logger.Debug("definitions compiled", "dir", defsDir, "processes", len(defs))

	scenario, err := harness.LoadScenario(scenarioPath)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if err := applyRunOverrides(scenario, opts); err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid flag", err)
	}

	hopts := harness.Options{
		IDs:         opts.IDs,
		RunID:       opts.RunID,
		Definitions: defs,
		Logger:      logger,
	}

	if opts.Database != "" {
		logger.Info("opening database", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		hopts.Store = st
		if hopts.IDs == nil {
			hopts.IDs = memengine.UUIDv7Generator{}
		}
		if hopts.RunID == "" {
			hopts.RunID = uuid.Must(uuid.NewV7()).String()
		}
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	result, err := harness.RunWithOptions(ctx, scenario, hopts)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	if err := outputRunResult(formatter, hopts.RunID, result); err != nil {
		return err
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", result.Name))
	}
	return nil
}

// compileDefinitions loads every process in dir, failing on the first error.
func compileDefinitions(dir string) ([]ir.ProcessDefinition, error) {
	loadResult, loadErrors := LoadDefinitions(dir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}
	return loadResult.Definitions, nil
}

func applyRunOverrides(scenario *harness.Scenario, opts *RunOptions) error {
	if opts.MaxSteps < 0 {
		return fmt.Errorf("--max-steps must not be negative")
	}
	if opts.MaxSteps > 0 {
		scenario.MaxSteps = opts.MaxSteps
	}
	if opts.Start != "" {
		if _, err := time.Parse(time.RFC3339, opts.Start); err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		scenario.StartTime = opts.Start
	}
	return nil
}

// signalContext returns the command's context, cancelled on SIGINT/SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func outputRunResult(formatter *OutputFormatter, runID string, result *harness.Result) error {
	if formatter.Format == "json" {
		report := RunReport{RunID: runID, Result: result}
		if result.Pass {
			return formatter.Success(report)
		}
		return encodeJSON(formatter.Writer, CLIResponse{
			Status: "error",
			Data:   report,
			Error:  &CLIError{Code: failureCode(result), Message: firstError(result)},
		})
	}

	if result.Pass {
		formatter.Pass("%s", result.Name)
	} else {
		formatter.Fail("%s", result.Name)
	}
	formatter.Dim("outcome %s after %d step(s), clock %s", result.Outcome, result.Steps, result.Clock.Format(time.RFC3339))
	if result.ErrorCode != "" {
		formatter.Dim("error %s", result.ErrorCode)
	}
	for _, id := range result.Instances {
		formatter.Dim("instance %s", id)
	}
	for _, wp := range result.Open {
		formatter.Dim("open %s/%s (%s)", wp.InstanceID, wp.ActivityID, wp.Kind)
	}
	if runID != "" {
		formatter.Dim("run %s", runID)
	}
	for _, msg := range result.Errors {
		fmt.Fprintf(formatter.Writer, "\n%s\n", msg)
	}
	if formatter.Verbose {
		fmt.Fprintln(formatter.Writer)
		for _, ev := range result.Trace {
			fmt.Fprintln(formatter.Writer, harness.FormatTraceEvent(ev))
		}
	}
	return nil
}

// failureCode is the error code reported for a failed scenario.
func failureCode(result *harness.Result) string {
	if result.ErrorCode != "" {
		return result.ErrorCode
	}
	return "E_SCENARIO_FAILED"
}

func firstError(result *harness.Result) string {
	if len(result.Errors) > 0 {
		return result.Errors[0]
	}
	return "scenario failed"
}
