package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/compiler"
	"github.com/roach88/tempo/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                     `json:"valid"`
	Errors   []ProcessValidationError `json:"errors,omitempty"`
	Warnings []ProcessLoopWarning     `json:"warnings,omitempty"`
}

// ProcessValidationError is a validation error scoped to a process.
type ProcessValidationError struct {
	Process string `json:"process,omitempty"`
	compiler.ValidationError
	Line int `json:"line,omitempty"`
}

// ProcessLoopWarning is a loop finding scoped to a process.
type ProcessLoopWarning struct {
	Process string `json:"process"`
	compiler.LoopWarning
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <defs-dir>",
		Short: "Validate process definitions",
		Long: `Validate the CUE process definitions in a directory.

Checks structure, flow targets, timer durations and event names, and
reports flow loops. A loop without a wait point is a warning: the engine
would spin without ever yielding to the driver.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, defsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadDefinitions(defsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := parseLoadError(loadErrors[0])
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, defsDir)

	result := validateDefinitions(loadResult.Definitions, formatter)
	for _, err := range loadErrors {
		code, message := parseLoadError(err)
		pve := ProcessValidationError{
			ValidationError: compiler.ValidationError{Field: "load", Message: message, Code: code},
		}
		if loadErr, ok := err.(*LoadError); ok {
			pve.Line = loadErr.Line()
		}
		result.Errors = append(result.Errors, pve)
	}
	result.Valid = len(result.Errors) == 0

	return outputValidation(formatter, result)
}

// validateDefinitions runs schema validation and loop analysis over every
// definition, in order.
func validateDefinitions(defs []ir.ProcessDefinition, formatter *OutputFormatter) ValidationResult {
	result := ValidationResult{}
	for i := range defs {
		def := &defs[i]
		formatter.VerboseLog("Validating process: %s", def.Key)

		for _, verr := range compiler.Validate(def) {
			result.Errors = append(result.Errors, ProcessValidationError{Process: def.Key, ValidationError: verr})
		}
		for _, w := range compiler.AnalyzeLoops(def) {
			result.Warnings = append(result.Warnings, ProcessLoopWarning{Process: def.Key, LoopWarning: w})
		}
	}
	return result
}

func outputValidation(formatter *OutputFormatter, result ValidationResult) error {
	var exitErr error
	if !result.Valid {
		// Invalid definitions are a validation failure, not a command error.
		exitErr = NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	if formatter.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			response.Status = "error"
			response.Error = &CLIError{Code: result.Errors[0].Code, Message: result.Errors[0].Message}
		}
		if err := encodeJSON(formatter.Writer, response); err != nil {
			return err
		}
		return exitErr
	}

	if result.Valid {
		formatter.Pass("All definitions valid")
	} else {
		formatter.Fail("Validation failed")
		fmt.Fprintln(formatter.Writer)
		for _, e := range result.Errors {
			if e.Line > 0 {
				fmt.Fprintf(formatter.Writer, "line %d\n", e.Line)
			}
			scope := e.Field
			if e.Process != "" {
				scope = e.Process + "." + e.Field
			}
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", e.Code, scope, e.Message)
		}
	}

	for _, w := range result.Warnings {
		line := fmt.Sprintf("%s: %s", w.Process, w.Message)
		if w.Level == compiler.LevelWarning {
			formatter.Warn("%s", line)
		} else if formatter.Verbose {
			formatter.Dim("%s", line)
		}
	}

	return exitErr
}
