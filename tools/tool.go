// Package tools implements client-side tool execution.
//
// A Registry holds tool definitions. The Controller watches accumulated
// messages for tool-call parts, streams their argument text, executes
// the matching tool once the arguments are complete, and reports each
// outcome as an AddToolResultCommand.
package tools

import (
	"context"
	"errors"
)

// Call is one tool invocation with parsed arguments.
type Call struct {
	ToolCallID string
	ToolName   string
	// Args is the decoded JSON arguments.
	Args any
	// ArgsText is the raw argument text as streamed.
	ArgsText string
}

// Result is the outcome of a tool invocation.
type Result struct {
	Value    any
	IsError  bool
	Artifact any
}

// Executor runs a tool.
// Implementations must respect context cancellation. A returned error
// is reported to the server as an error result; it does not fail the run.
type Executor interface {
	Execute(ctx context.Context, call Call) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, call Call) (Result, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, call Call) (Result, error) {
	return f(ctx, call)
}

// Tool is a tool definition.
type Tool struct {
	// Name is the unique tool name.
	Name string
	// Description is sent to the server with the tool schema.
	Description string
	// Parameters is the JSON schema of the arguments. May be nil.
	Parameters map[string]any
	// Disabled tools are neither advertised nor executed.
	Disabled bool
	// Executor runs the tool. A nil Executor marks a human-in-the-loop
	// tool whose result is supplied by the client application.
	Executor Executor
}

// Validate checks that the definition is usable.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	return nil
}

// Schema is the wire form of a tool advertised to the server.
type Schema struct {
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}
