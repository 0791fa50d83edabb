// Package exitcodes maps run errors to process exit codes so schedulers can
// tell a retryable failure from one that needs attention.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"
)

const (
	// Success - the run finished
	Success = 0

	// ConfigError - config parsing or validation failed (don't retry)
	ConfigError = 1

	// ConnectionError - source API, auth or destination unreachable (recoverable)
	ConnectionError = 2

	// PipelineError - extraction or import failed
	PipelineError = 3

	// ValidationError - integrity check failed
	ValidationError = 4

	// Cancelled - SIGINT/SIGTERM (recoverable with --resume)
	Cancelled = 5

	// StateError - checkpoint or id map unreadable
	StateError = 6

	// IOError - local file errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError classifies err. Typed errors are checked first, then the
// message.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ConnectionError
	}

	errStr := strings.ToLower(err.Error())

	// State before IO so a missing checkpoint file reads as a state error.
	if containsAny(errStr, []string{
		"checkpoint",
		"state file",
		"id map",
	}) {
		return StateError
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}
	if containsAny(errStr, []string{
		"no such file",
		"permission denied",
		"is a directory",
		"not a directory",
		"no space left",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{
		"integrity",
		"verification failed",
	}) {
		return ValidationError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"parsing config",
		"invalid configuration",
		"unknown step",
		"unknown entity",
		"is required",
		"must be",
	}) && !containsAny(errStr, []string{"connection", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"connection",
		"dial",
		"refused",
		"timeout",
		"no such host",
		"network",
		"ping",
		"tls",
		"http 401",
		"http 429",
		"http 5",
		"token",
		"cognito",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
	}) {
		return Cancelled
	}

	return PipelineError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case PipelineError:
		return "pipeline error"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
