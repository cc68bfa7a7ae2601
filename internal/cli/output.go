package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario, assertion or validation failure
	ExitCommandError = 2 // Command error (invalid paths, unreadable database, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string      `json:"status"`            // "ok" or "error"
	Data    interface{} `json:"data,omitempty"`    // success payload
	Error   *CLIError   `json:"error,omitempty"`   // error details
	TraceID string      `json:"trace_id,omitempty"` // optional trace correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "STALLED_RUN", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// encodeJSON writes v as indented JSON.
func encodeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Marker styles for text reports. Colors are dropped when the writer is not
// a terminal.
type styles struct {
	pass lipgloss.Style
	fail lipgloss.Style
	warn lipgloss.Style
	dim  lipgloss.Style
}

func (f *OutputFormatter) styles() styles {
	r := lipgloss.NewRenderer(f.Writer)
	return styles{
		pass: r.NewStyle().Foreground(lipgloss.Color("#3FB950")).Bold(true),
		fail: r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		warn: r.NewStyle().Foreground(lipgloss.Color("#D29922")),
		dim:  r.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Pass renders a success line with a check mark.
func (f *OutputFormatter) Pass(format string, args ...interface{}) {
	fmt.Fprintf(f.Writer, "%s %s\n", f.styles().pass.Render("✓"), fmt.Sprintf(format, args...))
}

// Fail renders a failure line with a cross.
func (f *OutputFormatter) Fail(format string, args ...interface{}) {
	fmt.Fprintf(f.Writer, "%s %s\n", f.styles().fail.Render("✗"), fmt.Sprintf(format, args...))
}

// Warn renders a warning line.
func (f *OutputFormatter) Warn(format string, args ...interface{}) {
	fmt.Fprintf(f.Writer, "%s %s\n", f.styles().warn.Render("!"), fmt.Sprintf(format, args...))
}

// Dim renders secondary detail, indented.
func (f *OutputFormatter) Dim(format string, args ...interface{}) {
	fmt.Fprintf(f.Writer, "  %s\n", f.styles().dim.Render(fmt.Sprintf(format, args...)))
}
