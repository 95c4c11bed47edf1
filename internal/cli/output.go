package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // one or more phases failed
	ExitCommandError = 2 // bad flags, unreachable store, invalid config
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Validation failures map to ExitCommandError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, appErrors.ErrValidation) {
		return ExitCommandError
	}
	return ExitFailure
}

// Response is the JSON document printed with --format json.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// OutputFormatter prints command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Success prints data. text is the human-readable rendering.
func (f *OutputFormatter) Success(data interface{}, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Failure prints err and returns it unchanged so RunE can propagate it.
func (f *OutputFormatter) Failure(err error) error {
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(Response{Status: "error", Error: err.Error()})
	}
	return err
}
