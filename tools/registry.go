package tools

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry holds tool definitions. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*entry
	ordered []string
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds or replaces a tool.
// The parameter schema is compiled eagerly; an invalid schema is rejected.
func (r *Registry) Register(t Tool) error {
	if err := t.Validate(); err != nil {
		return err
	}
	compiled, err := compileSchema(t.Name, t.Parameters)
	if err != nil {
		return fmt.Errorf("tool %q: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.ordered = append(r.ordered, t.Name)
	}
	r.tools[t.Name] = &entry{tool: t, schema: compiled}
	return nil
}

// Lookup returns the tool with the given name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ordered)
}

// Schemas returns the advertised schema of every enabled tool, keyed by name.
func (r *Registry) Schemas() map[string]Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Schema, len(r.tools))
	for name, e := range r.tools {
		if e.tool.Disabled {
			continue
		}
		params := e.tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		out[name] = Schema{Description: e.tool.Description, Parameters: maps.Clone(params)}
	}
	return out
}

// ValidateArgs validates args against the tool's parameter schema.
// Tools without a schema accept any arguments.
func (r *Registry) ValidateArgs(name string, args any) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if e.schema == nil {
		return nil
	}
	if err := e.schema.Validate(args); err != nil {
		return fmt.Errorf("invalid arguments for tool %q: %w", name, err)
	}
	return nil
}

// compileSchema compiles a parameter schema. Returns nil for a nil schema.
func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	url := "tool-" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, params); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
