package types

import (
	"errors"
	"fmt"
)

// ProtocolErrorKind classifies protocol violations.
type ProtocolErrorKind int

const (
	// ProtocolArgsRewrite indicates a tool call's argument text was
	// changed in a way that is not a pure append.
	ProtocolArgsRewrite ProtocolErrorKind = iota
	// ProtocolUnknownToolCall indicates a frame referenced a tool call
	// that was never opened.
	ProtocolUnknownToolCall
	// ProtocolDuplicateToolCall indicates a tool call ID was opened twice.
	ProtocolDuplicateToolCall
	// ProtocolStateRegression indicates a state update that cannot be
	// applied to the current state.
	ProtocolStateRegression
)

// String returns the string representation of the kind.
func (k ProtocolErrorKind) String() string {
	switch k {
	case ProtocolArgsRewrite:
		return "args_rewrite"
	case ProtocolUnknownToolCall:
		return "unknown_tool_call"
	case ProtocolDuplicateToolCall:
		return "duplicate_tool_call"
	case ProtocolStateRegression:
		return "state_regression"
	default:
		return "unknown"
	}
}

// ProtocolError is a well-formed frame that violates stream semantics.
// Protocol errors are fatal for the run.
type ProtocolError struct {
	Kind       ProtocolErrorKind
	ToolCallID string
	Msg        string
}

func (e *ProtocolError) Error() string {
	if e.ToolCallID != "" {
		return fmt.Sprintf("protocol violation (%s) for tool call %s: %s", e.Kind, e.ToolCallID, e.Msg)
	}
	return fmt.Sprintf("protocol violation (%s): %s", e.Kind, e.Msg)
}

// NewArgsRewriteError reports an argument text update that does not
// start with the previously observed text.
func NewArgsRewriteError(toolCallID, previous, next string) *ProtocolError {
	return &ProtocolError{
		Kind:       ProtocolArgsRewrite,
		ToolCallID: toolCallID,
		Msg: fmt.Sprintf(
			"tool call argsText can only be appended, not updated: %q does not start with %q",
			next, previous,
		),
	}
}

// IsProtocolError returns true if err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
