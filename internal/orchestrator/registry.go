package orchestrator

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry manages available tools with thread-safe registration and lookup.
// Registration is expected at startup but is safe at any time.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*registeredTool
	ordinal int
}

// registeredTool pairs a tool with its registration order and compiled
// parameter schema.
type registeredTool struct {
	tool   *Tool
	order  int
	schema *jsonschema.Schema
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*registeredTool),
	}
}

// Register validates and adds a tool. Re-registering an existing name is a
// no-op, not an error; the registry keeps the first entry.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil {
		return &ValidationError{Reason: "tool is nil"}
	}
	if tool.Name == "" {
		return &ValidationError{Reason: "name is required"}
	}
	if tool.Description == "" {
		return &ValidationError{Tool: tool.Name, Reason: "description is required"}
	}
	if tool.Execute == nil {
		return &ValidationError{Tool: tool.Name, Reason: "execute is required"}
	}

	var schema *jsonschema.Schema
	if len(tool.Parameters) > 0 {
		compiler := jsonschema.NewCompiler()
		url := fmt.Sprintf("tool://%s/parameters.json", tool.Name)
		if err := compiler.AddResource(url, bytes.NewReader(tool.Parameters)); err != nil {
			return &ValidationError{Tool: tool.Name, Reason: fmt.Sprintf("invalid parameters schema: %v", err)}
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return &ValidationError{Tool: tool.Name, Reason: fmt.Sprintf("invalid parameters schema: %v", err)}
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		// Duplicate names are silently ignored so startup registration
		// stays idempotent.
		return nil
	}
	r.tools[tool.Name] = &registeredTool{
		tool:   tool,
		order:  r.ordinal,
		schema: schema,
	}
	r.ordinal++
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return entry.tool, true
}

// List returns all registered tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*registeredTool, 0, len(r.tools))
	for _, entry := range r.tools {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].order < entries[j].order
	})

	tools := make([]*Tool, len(entries))
	for i, entry := range entries {
		tools[i] = entry.tool
	}
	return tools
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// schemaFor returns the compiled parameter schema for a tool, or nil.
func (r *Registry) schemaFor(name string) *jsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.tools[name]; ok {
		return entry.schema
	}
	return nil
}

// orderOf returns the registration ordinal for a name, used to break
// priority ties deterministically.
func (r *Registry) orderOf(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.tools[name]; ok {
		return entry.order
	}
	return int(^uint(0) >> 1)
}
