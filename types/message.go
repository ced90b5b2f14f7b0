package types

import "slices"

// PartType is the discriminator of a message content part.
type PartType string

// Content part types.
const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
	PartImage     PartType = "image"
	PartToolCall  PartType = "tool-call"
)

// Part is one content part of a message.
//
// Field usage depends on Type:
//   - text, reasoning: Text
//   - image: Image
//   - tool-call: ToolCallID, ToolName, ArgsText, Result, IsError, Artifact
//
// ArgsText for a given ToolCallID is append-only across its lifetime.
type Part struct {
	Type       PartType `json:"type" msgpack:"type"`
	Text       string   `json:"text,omitempty" msgpack:"text,omitempty"`
	Image      string   `json:"image,omitempty" msgpack:"image,omitempty"`
	ToolCallID string   `json:"toolCallId,omitempty" msgpack:"toolCallId,omitempty"`
	ToolName   string   `json:"toolName,omitempty" msgpack:"toolName,omitempty"`
	ArgsText   string   `json:"argsText,omitempty" msgpack:"argsText,omitempty"`
	// HasResult reports whether Result has been attached.
	// A nil Result is a legitimate tool outcome.
	HasResult bool `json:"hasResult,omitempty" msgpack:"hasResult,omitempty"`
	Result    any  `json:"result,omitempty" msgpack:"result,omitempty"`
	IsError   bool `json:"isError,omitempty" msgpack:"isError,omitempty"`
	Artifact  any  `json:"artifact,omitempty" msgpack:"artifact,omitempty"`
}

// IsToolCall reports whether the part is a tool-call part.
func (p Part) IsToolCall() bool {
	return p.Type == PartToolCall
}

// MessageStatusType is the lifecycle status of a message.
type MessageStatusType string

// Message status constants.
const (
	StatusRunning    MessageStatusType = "running"
	StatusComplete   MessageStatusType = "complete"
	StatusIncomplete MessageStatusType = "incomplete"
	// StatusRequiresAction marks a message halted on unresolved tool calls.
	StatusRequiresAction MessageStatusType = "requires-action"
)

// MessageStatus describes where a message is in its lifecycle.
type MessageStatus struct {
	Type MessageStatusType `json:"type" msgpack:"type"`
	// Reason is the finish or failure reason, if any.
	Reason string `json:"reason,omitempty" msgpack:"reason,omitempty"`
	// Error is the remote error text for incomplete messages.
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Usage is token usage reported by the remote endpoint.
type Usage struct {
	PromptTokens     int `json:"promptTokens" msgpack:"promptTokens"`
	CompletionTokens int `json:"completionTokens" msgpack:"completionTokens"`
}

// StepMetadata records one finished step of an assistant message.
type StepMetadata struct {
	MessageID    string `json:"messageId,omitempty" msgpack:"messageId,omitempty"`
	FinishReason string `json:"finishReason,omitempty" msgpack:"finishReason,omitempty"`
	Usage        *Usage `json:"usage,omitempty" msgpack:"usage,omitempty"`
	IsContinued  bool   `json:"isContinued,omitempty" msgpack:"isContinued,omitempty"`
}

// MessageMetadata carries non-content information accumulated for a message.
type MessageMetadata struct {
	Steps        []StepMetadata `json:"steps,omitempty" msgpack:"steps,omitempty"`
	Data         []any          `json:"data,omitempty" msgpack:"data,omitempty"`
	Annotations  []any          `json:"annotations,omitempty" msgpack:"annotations,omitempty"`
	FinishReason string         `json:"finishReason,omitempty" msgpack:"finishReason,omitempty"`
	Usage        *Usage         `json:"usage,omitempty" msgpack:"usage,omitempty"`
}

// Message is one entry of the conversation history.
type Message struct {
	ID       string          `json:"id" msgpack:"id"`
	Role     Role            `json:"role" msgpack:"role"`
	Parts    []Part          `json:"parts" msgpack:"parts"`
	Status   MessageStatus   `json:"status" msgpack:"status"`
	Metadata MessageMetadata `json:"metadata" msgpack:"metadata"`
}

// Clone returns a copy of the message that shares no slices with m.
// Result, Artifact and metadata payloads are decoded JSON values and are
// treated as immutable, so they are shared.
func (m Message) Clone() Message {
	out := m
	out.Parts = slices.Clone(m.Parts)
	out.Metadata.Steps = slices.Clone(m.Metadata.Steps)
	out.Metadata.Data = slices.Clone(m.Metadata.Data)
	out.Metadata.Annotations = slices.Clone(m.Metadata.Annotations)
	return out
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// ToolCalls returns the tool-call parts of the message in order.
func (m Message) ToolCalls() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.IsToolCall() {
			calls = append(calls, p)
		}
	}
	return calls
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var n int
	for _, p := range m.Parts {
		if p.Type == PartText {
			n += len(p.Text)
		}
	}
	buf := make([]byte, 0, n)
	for _, p := range m.Parts {
		if p.Type == PartText {
			buf = append(buf, p.Text...)
		}
	}
	return string(buf)
}

// MessageFromCommand projects an add-message command into a history entry.
func MessageFromCommand(id string, cmd AddMessageCommand) Message {
	parts := make([]Part, 0, len(cmd.Parts))
	for _, up := range cmd.Parts {
		switch up.Type {
		case UserPartImage:
			parts = append(parts, Part{Type: PartImage, Image: up.Image})
		default:
			parts = append(parts, Part{Type: PartText, Text: up.Text})
		}
	}
	role := cmd.Role
	if role == "" {
		role = RoleUser
	}
	return Message{
		ID:     id,
		Role:   role,
		Parts:  parts,
		Status: MessageStatus{Type: StatusComplete},
	}
}

// ApplyToolResult attaches a tool result to the tool-call part with the
// given ID in any message. It returns false if no such part exists.
// msgs is modified in place; callers pass a clone when sharing.
func ApplyToolResult(msgs []Message, cmd AddToolResultCommand) bool {
	for i := range msgs {
		for j := range msgs[i].Parts {
			p := &msgs[i].Parts[j]
			if p.IsToolCall() && p.ToolCallID == cmd.ToolCallID {
				p.HasResult = true
				p.Result = cmd.Result
				p.IsError = cmd.IsError
				p.Artifact = cmd.Artifact
				return true
			}
		}
	}
	return false
}
