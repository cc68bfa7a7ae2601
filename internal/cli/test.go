package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
	Repeat int    // runs per scenario; more than one checks determinism
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Pass    bool     `json:"pass"`
	Outcome string   `json:"outcome,omitempty"`
	Digest  string   `json:"digest,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <defs-dir> <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run all scenario files in a directory against the definitions.

Each scenario passes when its run ends as expected, every assertion holds
and, if <scenarios-dir>/golden/<name>.golden exists, the canonical trace
matches it byte for byte. Scenario definition paths resolve against
<defs-dir>.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tempo test ./testdata/processes ./testdata/scenarios
  tempo test ./defs ./scenarios --filter "timer_race_*"
  tempo test ./defs ./scenarios --update
  tempo test ./defs ./scenarios --repeat 5 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().IntVar(&opts.Repeat, "repeat", 1, "runs per scenario; traces must match across runs")

	return cmd
}

// scenarioRunner runs one loaded scenario.
type scenarioRunner struct {
	opts    *TestOptions
	defsDir string
	hopts   harness.Options
}

func runTests(opts *TestOptions, defsDir, scenariosDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("scenarios directory not found: %s", scenariosDir), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	if opts.Repeat < 1 {
		return NewExitError(ExitCommandError, "--repeat must be at least 1")
	}

	defs, err := compileDefinitions(defsDir)
	if err != nil {
		code, message := parseLoadError(err)
		_ = formatter.Error(code, message, nil)
		return WrapExitError(ExitCommandError, "failed to compile definitions", err)
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(formatter, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}

	runner := &scenarioRunner{
		opts:    opts,
		defsDir: defsDir,
		hopts:   harness.Options{Definitions: defs},
	}
	if opts.Verbose {
		runner.hopts.Logger = newLogger(opts.RootOptions, formatter.GetErrWriter())
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	for _, scenarioFile := range scenarioFiles {
		sr := runner.run(ctx, scenarioFile)
		if opts.Format != "json" {
			reportScenario(formatter, sr)
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(formatter, result)
}

// findScenarioFiles finds all YAML scenario files under dir, in lexical
// order.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

func (r *scenarioRunner) run(ctx context.Context, scenarioFile string) ScenarioResult {
	fail := func(name, format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	scenario, err := harness.LoadScenarioWithBasePath(scenarioFile, r.defsDir)
	if err != nil {
		return fail(filepath.Base(scenarioFile), "failed to load scenario: %v", err)
	}

	var result *harness.Result
	if r.opts.Repeat > 1 {
		result, err = harness.CheckDeterminism(ctx, scenario, r.opts.Repeat, r.hopts)
	} else {
		result, err = harness.RunWithOptions(ctx, scenario, r.hopts)
	}
	if err != nil {
		return fail(scenario.Name, "execution failed: %v", err)
	}

	sr := ScenarioResult{
		Name:    scenario.Name,
		Pass:    result.Pass,
		Outcome: result.Outcome,
		Digest:  result.Digest,
		Errors:  result.Errors,
	}

	goldenPath := goldenFilePath(scenarioFile)
	if r.opts.Update {
		if err := updateGoldenFile(scenario.Name, result, goldenPath); err != nil {
			return fail(scenario.Name, "failed to update golden file: %v", err)
		}
		return sr
	}

	if _, err := os.Stat(goldenPath); os.IsNotExist(err) {
		return sr
	}
	match, err := compareWithGolden(scenario.Name, result, goldenPath)
	if err != nil {
		return fail(scenario.Name, "golden comparison failed: %v", err)
	}
	if !match {
		sr.Pass = false
		sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
	return sr
}

// goldenFilePath returns <dir>/golden/<name>.golden for a scenario file.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

func updateGoldenFile(name string, result *harness.Result, goldenPath string) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	data, err := harness.Snapshot(name, result)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	if err := os.WriteFile(goldenPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func compareWithGolden(name string, result *harness.Result, goldenPath string) (bool, error) {
	want, err := os.ReadFile(goldenPath)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	got, err := harness.Snapshot(name, result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal current trace: %w", err)
	}
	return bytes.Equal(want, got), nil
}

func reportScenario(formatter *OutputFormatter, sr ScenarioResult) {
	if sr.Pass {
		if sr.Outcome != "" {
			formatter.Pass("%s (%s)", sr.Name, sr.Outcome)
		} else {
			formatter.Pass("%s", sr.Name)
		}
		return
	}
	formatter.Fail("%s", sr.Name)
	for _, e := range sr.Errors {
		formatter.Dim("%s", e)
	}
}

func outputTestJSON(formatter *OutputFormatter, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	if err := encodeJSON(formatter.Writer, response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func outputTestText(formatter *OutputFormatter, result TestResult) error {
	fmt.Fprintln(formatter.Writer)
	fmt.Fprintf(formatter.Writer, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	formatter.Pass("All scenarios passed")
	return nil
}
