package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled process definitions.
type CompilationResult struct {
	Definitions []ir.ProcessDefinition `json:"definitions"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <defs-dir>",
		Short: "Compile CUE process definitions to JSON",
		Long: `Compile the CUE process definitions in a directory.

Every process under the package's top-level process struct is compiled
and printed in declaration order. All compile errors are reported, not
just the first.

Example:
  tempo compile ./testdata/processes
  tempo compile ./testdata/processes -o defs.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, defsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadDefinitions(defsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := parseLoadError(loadErrors[0])
		return outputCompileError(formatter, code, message)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, defsDir)
	for _, def := range loadResult.Definitions {
		formatter.VerboseLog("Compiled process: %s", def.Key)
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	result := &CompilationResult{Definitions: loadResult.Definitions}

	if opts.Output != "" {
		if err := writeDefinitionsToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	formatter.Pass("Compiled %d process(es)", len(result.Definitions))
	fmt.Fprintln(formatter.Writer)
	for _, def := range result.Definitions {
		waits, timers := 0, 0
		for _, act := range def.Activities {
			switch {
			case act.Kind.IsTimer():
				timers++
			case act.Kind.IsWait():
				waits++
			}
		}
		fmt.Fprintf(formatter.Writer, "  %s: %d activit(ies), %d wait point(s), %d timer(s)\n",
			def.Key, len(def.Activities), waits, timers)
	}

	if outputFile != "" {
		fmt.Fprintln(formatter.Writer)
		fmt.Fprintf(formatter.Writer, "Wrote definitions to %s\n", outputFile)
	}
	return nil
}

// outputCompileError outputs a single command-level error (exit code 2).
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	exitErr := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseLoadError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}

		if err := encodeJSON(formatter.Writer, CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return exitErr
	}

	formatter.Fail("Compilation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		code, message := parseLoadError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}
	return exitErr
}

// parseLoadError extracts the error code and message from a loader error.
func parseLoadError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeDefinitionsToFile writes indented JSON. Canonical JSON is reserved
// for digests.
func writeDefinitionsToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling definitions: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
