package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ExecConfig configures tool execution behavior.
type ExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions per wave.
	// Default: 8.
	Concurrency int

	// DefaultTimeout applies to tools that declare no timeout of their own.
	// Default: 30 seconds.
	DefaultTimeout time.Duration
}

// DefaultExecConfig returns sensible defaults for tool execution.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{
		Concurrency:    8,
		DefaultTimeout: 30 * time.Second,
	}
}

// Orchestrator runs tool batches against a registry. Safe for concurrent use.
type Orchestrator struct {
	registry *Registry
	config   ExecConfig
	logger   *slog.Logger
}

// New creates an orchestrator over the given registry. Zero config fields get
// defaults.
func New(registry *Registry, config ExecConfig) *Orchestrator {
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	return &Orchestrator{
		registry: registry,
		config:   config,
		logger:   slog.Default().With("component", "orchestrator"),
	}
}

// Registry returns the underlying tool registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// ExecuteTools runs the batch and returns one result per input tool, in input
// order, regardless of completion order. Tools without dependencies on each
// other run concurrently; a dependent tool starts only after its in-batch
// dependencies settle, and finds their results in its args under ResultsKey.
//
// A single tool failing, timing out, or panicking fails only its own slot.
// The only error return is a ValidationError for a dependency cycle, raised
// before anything runs.
func (o *Orchestrator) ExecuteTools(ctx context.Context, tools []*Tool, args map[string]any, emit EventCallback) ([]ExecutionResult, error) {
	if len(tools) == 0 {
		return []ExecutionResult{}, nil
	}
	if args == nil {
		args = map[string]any{}
	}

	waves, err := executionWaves(tools)
	if err != nil {
		return nil, err
	}

	results := make([]ExecutionResult, len(tools))
	settled := make(map[string]ExecutionResult, len(tools))
	sem := make(chan struct{}, o.config.Concurrency)

	for _, wave := range waves {
		var wg sync.WaitGroup
		for _, idx := range wave {
			wg.Add(1)
			go func(idx int, tool *Tool) {
				defer wg.Done()

				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results[idx] = ExecutionResult{
						ToolName: tool.Name,
						Err:      newExecutionError(ExecutionErrorCanceled, tool.Name, ctx.Err()),
					}
					return
				}

				if emit != nil {
					emit(Event{Type: EventToolStarted, Tool: tool.Name, Index: idx})
				}

				start := time.Now()
				results[idx] = o.executeOne(ctx, tool, o.callArgs(tool, args, settled))
				results[idx].Duration = time.Since(start)

				if emit != nil {
					emit(toolDoneEvent(idx, results[idx]))
				}
			}(idx, tools[idx])
		}
		wg.Wait()

		// Expose this wave's results to later waves.
		for _, idx := range wave {
			settled[tools[idx].Name] = results[idx]
		}
	}

	return results, nil
}

// callArgs returns the args map a tool should see. Tools with in-batch
// dependencies get a shallow copy carrying the settled dependency results;
// everything else shares the caller's map unmodified.
func (o *Orchestrator) callArgs(tool *Tool, args map[string]any, settled map[string]ExecutionResult) map[string]any {
	if len(tool.Dependencies) == 0 {
		return args
	}
	depResults := make(map[string]ExecutionResult, len(tool.Dependencies))
	for _, dep := range tool.Dependencies {
		if result, ok := settled[dep]; ok {
			depResults[dep] = result
		}
	}
	withDeps := make(map[string]any, len(args)+1)
	for k, v := range args {
		withDeps[k] = v
	}
	withDeps[ResultsKey] = depResults
	return withDeps
}

// executeOne runs a single tool call with schema validation and timeout.
func (o *Orchestrator) executeOne(ctx context.Context, tool *Tool, args map[string]any) ExecutionResult {
	if schema := o.registry.schemaFor(tool.Name); schema != nil {
		if err := schema.Validate(toValidatable(args)); err != nil {
			return ExecutionResult{
				ToolName: tool.Name,
				Err:      newExecutionError(ExecutionErrorInvalidArgs, tool.Name, err),
			}
		}
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = o.config.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: newExecutionError(ExecutionErrorPanic, tool.Name, fmt.Errorf("panic: %v", r))}
			}
		}()
		value, err := tool.Execute(callCtx, args)
		select {
		case done <- outcome{value: value, err: err}:
		default:
			// The call settled after its timeout; the result is discarded
			// but the underlying work was never forcibly stopped.
			o.logger.Warn("tool completed after timeout, result discarded", "tool", tool.Name)
		}
	}()

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return ExecutionResult{
				ToolName: tool.Name,
				Err:      newExecutionError(ExecutionErrorTimeout, tool.Name, fmt.Errorf("%w after %v", ErrToolTimeout, timeout)),
			}
		}
		return ExecutionResult{
			ToolName: tool.Name,
			Err:      newExecutionError(ExecutionErrorCanceled, tool.Name, ErrToolCanceled),
		}
	case out := <-done:
		if out.err != nil {
			var execErr *ExecutionError
			if !errors.As(out.err, &execErr) {
				out.err = newExecutionError(ExecutionErrorRuntime, tool.Name, out.err)
			}
			return ExecutionResult{ToolName: tool.Name, Err: out.err}
		}
		return ExecutionResult{ToolName: tool.Name, Success: true, Result: out.value}
	}
}

// toolDoneEvent builds the completion event for a settled result.
func toolDoneEvent(idx int, result ExecutionResult) Event {
	eventType := EventToolCompleted
	if result.Err != nil {
		eventType = EventToolFailed
		var execErr *ExecutionError
		if errors.As(result.Err, &execErr) && execErr.Kind == ExecutionErrorTimeout {
			eventType = EventToolTimeout
		}
	}
	return Event{
		Type:     eventType,
		Tool:     result.ToolName,
		Index:    idx,
		Duration: result.Duration,
		Err:      result.Err,
	}
}

// toValidatable normalizes args for jsonschema validation, which expects the
// shapes produced by encoding/json (no custom numeric types).
func toValidatable(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == ResultsKey {
			continue
		}
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int32:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case float32:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}
