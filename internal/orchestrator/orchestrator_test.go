package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestExecuteTools_EmptyBatch(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())
	results, err := o.ExecuteTools(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestExecuteTools_PositionalResults(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())

	// Later tools finish first; results must still match input order.
	tools := []*Tool{
		{Name: "slow", Description: "d", Execute: func(ctx context.Context, args map[string]any) (any, error) {
			time.Sleep(60 * time.Millisecond)
			return "slow-done", nil
		}},
		{Name: "fast", Description: "d", Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return "fast-done", nil
		}},
	}

	results, err := o.ExecuteTools(context.Background(), tools, nil, nil)
	if err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ToolName != "slow" || results[1].ToolName != "fast" {
		t.Errorf("results out of input order: %s, %s", results[0].ToolName, results[1].ToolName)
	}
	if results[0].Result != "slow-done" || results[1].Result != "fast-done" {
		t.Errorf("unexpected result values: %v, %v", results[0].Result, results[1].Result)
	}
}

func TestExecuteTools_RunsConcurrently(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())

	sleeper := func(ctx context.Context, args map[string]any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	}
	tools := []*Tool{
		{Name: "one", Description: "d", Execute: sleeper},
		{Name: "two", Description: "d", Execute: sleeper},
	}

	start := time.Now()
	if _, err := o.ExecuteTools(context.Background(), tools, nil, nil); err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}
	elapsed := time.Since(start)

	// Two 50ms tools should take ~50ms together, not ~100ms.
	if elapsed > 90*time.Millisecond {
		t.Errorf("batch took %v, expected parallel execution near 50ms", elapsed)
	}
}

func TestExecuteTools_FailureIsIsolated(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())

	tools := []*Tool{
		{Name: "boom", Description: "d", Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("exploded")
		}},
		{Name: "fine", Description: "d", Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return 42, nil
		}},
	}

	results, err := o.ExecuteTools(context.Background(), tools, nil, nil)
	if err != nil {
		t.Fatalf("a failing tool must not fail the batch: %v", err)
	}
	if results[0].Success {
		t.Error("boom should have failed")
	}
	var execErr *ExecutionError
	if !errors.As(results[0].Err, &execErr) || execErr.Kind != ExecutionErrorRuntime {
		t.Errorf("expected runtime ExecutionError, got %v", results[0].Err)
	}
	if !results[1].Success || results[1].Result != 42 {
		t.Errorf("sibling tool should succeed: %+v", results[1])
	}
}

func TestExecuteTools_PanicIsIsolated(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())

	tools := []*Tool{
		{Name: "panicky", Description: "d", Execute: func(ctx context.Context, args map[string]any) (any, error) {
			panic("nope")
		}},
	}

	results, err := o.ExecuteTools(context.Background(), tools, nil, nil)
	if err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}
	var execErr *ExecutionError
	if !errors.As(results[0].Err, &execErr) || execErr.Kind != ExecutionErrorPanic {
		t.Errorf("expected panic ExecutionError, got %v", results[0].Err)
	}
}

func TestExecuteTools_TimeoutForcesFailedResult(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())

	tools := []*Tool{
		{Name: "hang", Description: "d", Timeout: 30 * time.Millisecond, Execute: func(ctx context.Context, args map[string]any) (any, error) {
			time.Sleep(500 * time.Millisecond)
			return "too late", nil
		}},
		{Name: "quick", Description: "d", Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return "on time", nil
		}},
	}

	results, err := o.ExecuteTools(context.Background(), tools, nil, nil)
	if err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}

	var execErr *ExecutionError
	if !errors.As(results[0].Err, &execErr) || execErr.Kind != ExecutionErrorTimeout {
		t.Fatalf("expected timeout ExecutionError, got %v", results[0].Err)
	}
	if !errors.Is(results[0].Err, ErrToolTimeout) {
		t.Errorf("timeout error should wrap ErrToolTimeout")
	}
	// The slow tool's timeout must not cancel its sibling.
	if !results[1].Success {
		t.Errorf("sibling should not be affected by timeout: %+v", results[1])
	}
}

func TestExecuteTools_NilArgs(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())

	tools := []*Tool{
		{Name: "inspect", Description: "d", Execute: func(ctx context.Context, args map[string]any) (any, error) {
			if args == nil {
				return nil, errors.New("args was nil")
			}
			return len(args), nil
		}},
	}

	results, err := o.ExecuteTools(context.Background(), tools, nil, nil)
	if err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}
	if !results[0].Success {
		t.Errorf("nil args must be treated as empty: %v", results[0].Err)
	}
}

func TestExecuteTools_DependencyResultsAvailable(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())

	tools := []*Tool{
		{Name: "consumer", Description: "d", Dependencies: []string{"producer"}, Execute: func(ctx context.Context, args map[string]any) (any, error) {
			deps, ok := args[ResultsKey].(map[string]ExecutionResult)
			if !ok {
				return nil, errors.New("no dependency results in args")
			}
			produced, ok := deps["producer"]
			if !ok || !produced.Success {
				return nil, fmt.Errorf("producer result missing or failed: %+v", produced)
			}
			return fmt.Sprintf("got %v", produced.Result), nil
		}},
		{Name: "producer", Description: "d", Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return "payload", nil
		}},
	}

	results, err := o.ExecuteTools(context.Background(), tools, map[string]any{"q": "hi"}, nil)
	if err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}
	if !results[0].Success {
		t.Fatalf("consumer failed: %v", results[0].Err)
	}
	if results[0].Result != "got payload" {
		t.Errorf("unexpected consumer result: %v", results[0].Result)
	}
}

func TestExecuteTools_CycleFailsBeforeExecution(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())

	executed := false
	tools := []*Tool{
		{Name: "a", Description: "d", Dependencies: []string{"b"}, Execute: func(ctx context.Context, args map[string]any) (any, error) {
			executed = true
			return nil, nil
		}},
		{Name: "b", Description: "d", Dependencies: []string{"a"}, Execute: func(ctx context.Context, args map[string]any) (any, error) {
			executed = true
			return nil, nil
		}},
	}

	_, err := o.ExecuteTools(context.Background(), tools, nil, nil)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if executed {
		t.Error("no tool should run when the batch has a cycle")
	}
}

func TestExecuteTools_SchemaValidationRejectsBadArgs(t *testing.T) {
	registry := NewRegistry()
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"count": {"type": "number"}},
		"required": ["count"]
	}`)
	if err := registry.Register(&Tool{
		Name:        "counted",
		Description: "requires count",
		Parameters:  schema,
		Execute:     noopExecute,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	o := New(registry, DefaultExecConfig())
	tool, _ := registry.Get("counted")

	results, err := o.ExecuteTools(context.Background(), []*Tool{tool}, map[string]any{"wrong": true}, nil)
	if err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}
	var execErr *ExecutionError
	if !errors.As(results[0].Err, &execErr) || execErr.Kind != ExecutionErrorInvalidArgs {
		t.Fatalf("expected invalid_args failure, got %+v", results[0])
	}

	results, err = o.ExecuteTools(context.Background(), []*Tool{tool}, map[string]any{"count": 3}, nil)
	if err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}
	if !results[0].Success {
		t.Errorf("valid args rejected: %v", results[0].Err)
	}
}

func TestExecuteTools_EmitsLifecycleEvents(t *testing.T) {
	o := New(NewRegistry(), DefaultExecConfig())

	tools := []*Tool{
		{Name: "ok", Description: "d", Execute: noopExecute},
		{Name: "bad", Description: "d", Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("nope")
		}},
	}

	var mu = make(chan Event, 8)
	_, err := o.ExecuteTools(context.Background(), tools, nil, func(e Event) {
		mu <- e
	})
	if err != nil {
		t.Fatalf("ExecuteTools: %v", err)
	}
	close(mu)

	counts := map[EventType]int{}
	for e := range mu {
		counts[e.Type]++
	}
	if counts[EventToolStarted] != 2 {
		t.Errorf("expected 2 started events, got %d", counts[EventToolStarted])
	}
	if counts[EventToolCompleted] != 1 || counts[EventToolFailed] != 1 {
		t.Errorf("unexpected completion events: %v", counts)
	}
}
