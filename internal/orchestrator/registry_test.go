package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func noopExecute(ctx context.Context, args map[string]any) (any, error) {
	return "ok", nil
}

func TestRegister_ValidatesRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		tool *Tool
	}{
		{"nil tool", nil},
		{"missing name", &Tool{Description: "d", Execute: noopExecute}},
		{"missing description", &Tool{Name: "a", Execute: noopExecute}},
		{"missing execute", &Tool{Name: "a", Description: "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			err := registry.Register(tt.tool)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if registry.Len() != 0 {
				t.Errorf("registry should stay empty, has %d tools", registry.Len())
			}
		})
	}
}

func TestRegister_DuplicateNameIsNoOp(t *testing.T) {
	registry := NewRegistry()

	first := &Tool{Name: "echo", Description: "first", Execute: noopExecute}
	second := &Tool{Name: "echo", Description: "second", Execute: noopExecute}

	if err := registry.Register(first); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := registry.Register(second); err != nil {
		t.Fatalf("duplicate register should not error: %v", err)
	}

	if registry.Len() != 1 {
		t.Fatalf("expected 1 tool, got %d", registry.Len())
	}
	got, _ := registry.Get("echo")
	if got.Description != "first" {
		t.Errorf("duplicate registration replaced the original entry")
	}
}

func TestRegister_InvalidParameterSchema(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(&Tool{
		Name:        "bad",
		Description: "broken schema",
		Parameters:  json.RawMessage(`{"type": 42}`),
		Execute:     noopExecute,
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for bad schema, got %v", err)
	}
}

func TestList_PreservesRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	names := []string{"c", "a", "b"}
	for _, name := range names {
		if err := registry.Register(&Tool{Name: name, Description: "d", Execute: noopExecute}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	tools := registry.List()
	if len(tools) != len(names) {
		t.Fatalf("expected %d tools, got %d", len(names), len(tools))
	}
	for i, name := range names {
		if tools[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, tools[i].Name)
		}
	}
}
