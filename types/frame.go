package types

// FrameType is the discriminator of a protocol frame.
type FrameType string

// Frame type constants.
const (
	FrameTextDelta      FrameType = "text-delta"
	FrameReasoningDelta FrameType = "reasoning-delta"
	FrameToolCallBegin  FrameType = "tool-call-begin"
	FrameToolCallDelta  FrameType = "tool-call-delta"
	FrameToolCall       FrameType = "tool-call"
	FrameToolResult     FrameType = "tool-result"
	FrameStartStep      FrameType = "start-step"
	FrameFinishStep     FrameType = "finish-step"
	FrameFinishMessage  FrameType = "finish-message"
	FrameData           FrameType = "data"
	FrameAnnotation     FrameType = "annotation"
	FrameError          FrameType = "error"
	FrameStateSnapshot  FrameType = "state-snapshot"
	FrameStateUpdate    FrameType = "state-update"
)

// Frame is one decoded unit of the inbound stream.
// The set of implementations is closed to this package.
type Frame interface {
	FrameType() FrameType
	isFrame()
}

// TextDeltaFrame appends text to the current assistant message.
type TextDeltaFrame struct {
	Text string
}

// ReasoningDeltaFrame appends reasoning text to the current assistant message.
type ReasoningDeltaFrame struct {
	Text string
}

// ToolCallBeginFrame opens a new tool-call part.
type ToolCallBeginFrame struct {
	ToolCallID string `json:"toolCallId" msgpack:"toolCallId"`
	ToolName   string `json:"toolName" msgpack:"toolName"`
}

// ToolCallDeltaFrame appends to the argument text of an open tool call.
type ToolCallDeltaFrame struct {
	ToolCallID    string `json:"toolCallId" msgpack:"toolCallId"`
	ArgsTextDelta string `json:"argsTextDelta" msgpack:"argsTextDelta"`
}

// ToolCallFrame carries the complete argument text of a tool call.
// ArgsText is the raw JSON of the arguments as sent by the server.
type ToolCallFrame struct {
	ToolCallID string `json:"toolCallId" msgpack:"toolCallId"`
	ToolName   string `json:"toolName" msgpack:"toolName"`
	ArgsText   string `json:"argsText" msgpack:"argsText"`
}

// ToolResultFrame attaches a server-side result to a tool call.
type ToolResultFrame struct {
	ToolCallID string `json:"toolCallId" msgpack:"toolCallId"`
	Result     any    `json:"result" msgpack:"result"`
	IsError    bool   `json:"isError,omitempty" msgpack:"isError,omitempty"`
	Artifact   any    `json:"artifact,omitempty" msgpack:"artifact,omitempty"`
}

// StartStepFrame marks the start of a step, optionally of a new message.
type StartStepFrame struct {
	MessageID string `json:"messageId" msgpack:"messageId"`
}

// FinishStepFrame marks the end of a step.
type FinishStepFrame struct {
	FinishReason string `json:"finishReason" msgpack:"finishReason"`
	Usage        *Usage `json:"usage,omitempty" msgpack:"usage,omitempty"`
	IsContinued  bool   `json:"isContinued,omitempty" msgpack:"isContinued,omitempty"`
}

// FinishMessageFrame marks the end of the assistant message.
type FinishMessageFrame struct {
	FinishReason string `json:"finishReason" msgpack:"finishReason"`
	Usage        *Usage `json:"usage,omitempty" msgpack:"usage,omitempty"`
}

// DataFrame carries arbitrary data items attached to the message.
type DataFrame struct {
	Data []any
}

// AnnotationFrame carries message annotations.
type AnnotationFrame struct {
	Annotations []any
}

// ErrorFrame reports a remote failure.
type ErrorFrame struct {
	Message string
}

// StateSnapshotFrame replaces the agent state wholesale.
type StateSnapshotFrame struct {
	State any
}

// StateUpdateFrame applies incremental operations to the agent state.
type StateUpdateFrame struct {
	Operations []StateOp
}

func (TextDeltaFrame) FrameType() FrameType      { return FrameTextDelta }
func (ReasoningDeltaFrame) FrameType() FrameType { return FrameReasoningDelta }
func (ToolCallBeginFrame) FrameType() FrameType  { return FrameToolCallBegin }
func (ToolCallDeltaFrame) FrameType() FrameType  { return FrameToolCallDelta }
func (ToolCallFrame) FrameType() FrameType       { return FrameToolCall }
func (ToolResultFrame) FrameType() FrameType     { return FrameToolResult }
func (StartStepFrame) FrameType() FrameType      { return FrameStartStep }
func (FinishStepFrame) FrameType() FrameType     { return FrameFinishStep }
func (FinishMessageFrame) FrameType() FrameType  { return FrameFinishMessage }
func (DataFrame) FrameType() FrameType           { return FrameData }
func (AnnotationFrame) FrameType() FrameType     { return FrameAnnotation }
func (ErrorFrame) FrameType() FrameType          { return FrameError }
func (StateSnapshotFrame) FrameType() FrameType  { return FrameStateSnapshot }
func (StateUpdateFrame) FrameType() FrameType    { return FrameStateUpdate }

func (TextDeltaFrame) isFrame()      {}
func (ReasoningDeltaFrame) isFrame() {}
func (ToolCallBeginFrame) isFrame()  {}
func (ToolCallDeltaFrame) isFrame()  {}
func (ToolCallFrame) isFrame()       {}
func (ToolResultFrame) isFrame()     {}
func (StartStepFrame) isFrame()      {}
func (FinishStepFrame) isFrame()     {}
func (FinishMessageFrame) isFrame()  {}
func (DataFrame) isFrame()           {}
func (AnnotationFrame) isFrame()     {}
func (ErrorFrame) isFrame()          {}
func (StateSnapshotFrame) isFrame()  {}
func (StateUpdateFrame) isFrame()    {}

// Compile-time interface checks.
var (
	_ Frame = TextDeltaFrame{}
	_ Frame = ReasoningDeltaFrame{}
	_ Frame = ToolCallBeginFrame{}
	_ Frame = ToolCallDeltaFrame{}
	_ Frame = ToolCallFrame{}
	_ Frame = ToolResultFrame{}
	_ Frame = StartStepFrame{}
	_ Frame = FinishStepFrame{}
	_ Frame = FinishMessageFrame{}
	_ Frame = DataFrame{}
	_ Frame = AnnotationFrame{}
	_ Frame = ErrorFrame{}
	_ Frame = StateSnapshotFrame{}
	_ Frame = StateUpdateFrame{}
)
