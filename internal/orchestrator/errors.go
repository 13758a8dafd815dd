package orchestrator

import (
	"errors"
	"fmt"
)

// Common sentinel errors for orchestrator operations
var (
	// ErrToolTimeout indicates a tool execution exceeded its timeout
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolCanceled indicates the batch context was canceled before the tool ran
	ErrToolCanceled = errors.New("tool execution canceled")
)

// ValidationError indicates a tool registration or batch input that the
// orchestrator refuses to accept. It is fatal to that call only; other
// registered tools are unaffected.
type ValidationError struct {
	// Tool is the name of the offending tool, if known.
	Tool string

	// Reason describes what was wrong with the input.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("invalid tool: %s", e.Reason)
	}
	return fmt.Sprintf("invalid tool %q: %s", e.Tool, e.Reason)
}

// ExecutionErrorKind categorizes a tool execution failure.
type ExecutionErrorKind string

const (
	// ExecutionErrorTimeout indicates the per-call timeout elapsed.
	ExecutionErrorTimeout ExecutionErrorKind = "timeout"

	// ExecutionErrorInvalidArgs indicates the call arguments failed schema validation.
	ExecutionErrorInvalidArgs ExecutionErrorKind = "invalid_args"

	// ExecutionErrorCanceled indicates the batch context was canceled.
	ExecutionErrorCanceled ExecutionErrorKind = "canceled"

	// ExecutionErrorPanic indicates the tool panicked.
	ExecutionErrorPanic ExecutionErrorKind = "panic"

	// ExecutionErrorRuntime indicates the tool returned an error.
	ExecutionErrorRuntime ExecutionErrorKind = "runtime"
)

// ExecutionError is the structured error recorded on a failed ExecutionResult.
// It never propagates out of ExecuteTools; a failing tool only fails its own
// slot in the result batch.
type ExecutionError struct {
	Kind ExecutionErrorKind
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed (%s): %v", e.Tool, e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// newExecutionError wraps err for the given tool and kind.
func newExecutionError(kind ExecutionErrorKind, tool string, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Tool: tool, Err: err}
}
