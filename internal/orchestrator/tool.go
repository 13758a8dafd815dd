// Package orchestrator maintains the tool registry and runs capability-matched
// tools concurrently with per-call timeouts, dependency ordering, and isolated
// failures. One tool failing, timing out, or panicking never aborts its
// siblings; every input tool produces exactly one result, in input order.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"
)

// ExecuteFunc is the executable contract a tool supplies. The orchestrator
// calls this function and nothing else; business semantics stay with the tool.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool describes a registered capability. Name, Description, and Execute are
// required; everything else is optional.
type Tool struct {
	// Name uniquely identifies the tool in the registry.
	Name string `json:"name"`

	// Description explains what the tool does, for prompt catalogs.
	Description string `json:"description"`

	// Capabilities are the tags a request matches against during selection.
	Capabilities []string `json:"capabilities,omitempty"`

	// Priority orders selection results; higher selects first.
	Priority int `json:"priority,omitempty"`

	// Dependencies names tools whose results this tool needs. Dependencies
	// settle before their dependents start.
	Dependencies []string `json:"dependencies,omitempty"`

	// Parameters is an optional JSON Schema for the call arguments. When set,
	// arguments are validated before Execute is called.
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Timeout overrides the executor's per-call timeout for this tool.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Execute runs the tool.
	Execute ExecuteFunc `json:"-"`
}

// ExecutionResult is the per-invocation record returned from ExecuteTools.
type ExecutionResult struct {
	// ToolName identifies which tool produced this result.
	ToolName string `json:"tool_name"`

	// Success is false when Err is set.
	Success bool `json:"success"`

	// Result is the value returned by Execute on success.
	Result any `json:"result,omitempty"`

	// Err is the failure, always an *ExecutionError when set.
	Err error `json:"-"`

	// Duration is the measured wall-clock time of the call.
	Duration time.Duration `json:"duration"`
}

// ResultsKey is the args key under which a dependent tool finds the settled
// results of its dependencies, as map[string]ExecutionResult.
const ResultsKey = "__results"

// EventType identifies a tool lifecycle event.
type EventType string

const (
	EventToolStarted   EventType = "tool_started"
	EventToolCompleted EventType = "tool_completed"
	EventToolFailed    EventType = "tool_failed"
	EventToolTimeout   EventType = "tool_timeout"
)

// Event is emitted around each tool call so callers can wire timing and
// tracing without the orchestrator depending on the monitors.
type Event struct {
	Type     EventType
	Tool     string
	Index    int
	Duration time.Duration
	Err      error
}

// EventCallback receives lifecycle events. It must not block; it is called
// inline on the executing goroutine.
type EventCallback func(Event)
