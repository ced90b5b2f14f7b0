// Package accumulator folds protocol frames into a growing message
// history and the latest agent state.
//
// An Accumulator is seeded with the prior conversation, an empty
// assistant message that receives streamed content, and the last known
// agent state. Each applied frame yields a Snapshot that shares nothing
// mutable with the accumulator.
package accumulator

import (
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/pithecene-io/conduit/types"
)

// RemoteError is a failure reported by the server through an error frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// IsRemoteError returns true if err is or wraps a *RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// Snapshot is the accumulated view after one frame.
type Snapshot struct {
	// Messages is the full history: seed messages followed by every
	// assistant message opened during the stream.
	Messages []types.Message
	// State is the current agent state.
	State types.State
	// Frame is the frame that produced this snapshot.
	Frame types.Frame
}

// Config seeds an Accumulator.
type Config struct {
	// Messages is the prior conversation. It is cloned.
	Messages []types.Message
	// State is the last known agent state.
	State types.State
	// MessageID is the ID of the initial assistant message.
	// If empty, a random ID is generated.
	MessageID string
	// NewID generates IDs for assistant messages opened without an
	// explicit ID. Defaults to uuid.NewString.
	NewID func() string
}

// Accumulator folds frames into messages and state.
// Not safe for concurrent use.
type Accumulator struct {
	messages []types.Message
	state    types.State
	// current is the index of the assistant message receiving content.
	current int
	// toolCalls maps tool call IDs opened during this stream to
	// (message index, part index).
	toolCalls map[string]partRef
	newID     func() string
	failed    error
}

type partRef struct {
	msg, part int
}

// New creates an accumulator from cfg.
func New(cfg Config) *Accumulator {
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	id := cfg.MessageID
	if id == "" {
		id = newID()
	}

	messages := types.CloneMessages(cfg.Messages)
	messages = append(messages, types.Message{
		ID:     id,
		Role:   types.RoleAssistant,
		Parts:  []types.Part{},
		Status: types.MessageStatus{Type: types.StatusRunning},
	})

	a := &Accumulator{
		messages:  messages,
		state:     cfg.State,
		current:   len(messages) - 1,
		toolCalls: make(map[string]partRef),
		newID:     newID,
	}
	// Tool calls already present in the seed may still receive results.
	for i, m := range messages {
		for j, p := range m.Parts {
			if p.IsToolCall() {
				a.toolCalls[p.ToolCallID] = partRef{msg: i, part: j}
			}
		}
	}
	return a
}

// Snapshot returns the current view without applying a frame.
func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{Messages: types.CloneMessages(a.messages), State: a.state}
}

// Apply folds one frame and returns the resulting snapshot.
//
// Errors:
//   - *types.ProtocolError: the frame violates stream semantics
//   - *RemoteError: the frame is an error frame
//
// After an error the accumulator is failed and rejects further frames.
func (a *Accumulator) Apply(frame types.Frame) (Snapshot, error) {
	if a.failed != nil {
		return Snapshot{}, a.failed
	}
	if err := a.apply(frame); err != nil {
		a.failed = err
		return Snapshot{}, err
	}
	snap := a.Snapshot()
	snap.Frame = frame
	return snap, nil
}

// Accumulate lazily folds a frame sequence, yielding a snapshot per frame.
// The sequence ends at the first error, which is yielded.
func (a *Accumulator) Accumulate(frames iter.Seq2[types.Frame, error]) iter.Seq2[Snapshot, error] {
	return func(yield func(Snapshot, error) bool) {
		for frame, err := range frames {
			if err != nil {
				yield(Snapshot{}, err)
				return
			}
			snap, err := a.Apply(frame)
			if err != nil {
				yield(Snapshot{}, err)
				return
			}
			if !yield(snap, nil) {
				return
			}
		}
	}
}

// Finish marks the trailing assistant message complete if the stream
// ended without an explicit finish-message frame.
func (a *Accumulator) Finish() Snapshot {
	cur := &a.messages[a.current]
	if cur.Status.Type == types.StatusRunning {
		cur.Status = types.MessageStatus{Type: types.StatusComplete, Reason: "unknown"}
	}
	return a.Snapshot()
}

func (a *Accumulator) apply(frame types.Frame) error {
	switch f := frame.(type) {
	case types.TextDeltaFrame:
		a.appendText(types.PartText, f.Text)
	case types.ReasoningDeltaFrame:
		a.appendText(types.PartReasoning, f.Text)
	case types.ToolCallBeginFrame:
		return a.beginToolCall(f.ToolCallID, f.ToolName)
	case types.ToolCallDeltaFrame:
		ref, ok := a.toolCalls[f.ToolCallID]
		if !ok {
			return unknownToolCall(f.ToolCallID, "tool-call-delta")
		}
		a.messages[ref.msg].Parts[ref.part].ArgsText += f.ArgsTextDelta
	case types.ToolCallFrame:
		return a.completeToolCall(f)
	case types.ToolResultFrame:
		ref, ok := a.toolCalls[f.ToolCallID]
		if !ok {
			return unknownToolCall(f.ToolCallID, "tool-result")
		}
		p := &a.messages[ref.msg].Parts[ref.part]
		p.HasResult = true
		p.Result = f.Result
		p.IsError = f.IsError
		p.Artifact = f.Artifact
	case types.StartStepFrame:
		a.startStep(f.MessageID)
	case types.FinishStepFrame:
		cur := &a.messages[a.current]
		cur.Metadata.Steps = append(cur.Metadata.Steps, types.StepMetadata{
			MessageID:    cur.ID,
			FinishReason: f.FinishReason,
			Usage:        f.Usage,
			IsContinued:  f.IsContinued,
		})
	case types.FinishMessageFrame:
		cur := &a.messages[a.current]
		cur.Metadata.FinishReason = f.FinishReason
		cur.Metadata.Usage = f.Usage
		cur.Status = finishStatus(f.FinishReason, cur)
	case types.DataFrame:
		cur := &a.messages[a.current]
		cur.Metadata.Data = append(cur.Metadata.Data, f.Data...)
	case types.AnnotationFrame:
		cur := &a.messages[a.current]
		cur.Metadata.Annotations = append(cur.Metadata.Annotations, f.Annotations...)
	case types.ErrorFrame:
		cur := &a.messages[a.current]
		cur.Status = types.MessageStatus{Type: types.StatusIncomplete, Reason: "error", Error: f.Message}
		return &RemoteError{Message: f.Message}
	case types.StateSnapshotFrame:
		a.state = f.State
	case types.StateUpdateFrame:
		next, err := types.ApplyStateOps(a.state, f.Operations)
		if err != nil {
			return err
		}
		a.state = next
	default:
		return fmt.Errorf("accumulator: unsupported frame %T", frame)
	}
	return nil
}

// appendText extends the trailing part if it has the same kind,
// otherwise opens a new part.
func (a *Accumulator) appendText(kind types.PartType, text string) {
	cur := &a.messages[a.current]
	if n := len(cur.Parts); n > 0 && cur.Parts[n-1].Type == kind {
		cur.Parts[n-1].Text += text
		return
	}
	cur.Parts = append(cur.Parts, types.Part{Type: kind, Text: text})
}

func (a *Accumulator) beginToolCall(id, name string) error {
	if _, exists := a.toolCalls[id]; exists {
		return &types.ProtocolError{
			Kind:       types.ProtocolDuplicateToolCall,
			ToolCallID: id,
			Msg:        "tool-call-begin for an already open tool call",
		}
	}
	cur := &a.messages[a.current]
	cur.Parts = append(cur.Parts, types.Part{Type: types.PartToolCall, ToolCallID: id, ToolName: name})
	a.toolCalls[id] = partRef{msg: a.current, part: len(cur.Parts) - 1}
	return nil
}

// completeToolCall handles a full tool-call frame. If the call was
// streamed, the final text must extend what was streamed; a final text
// that is equal as JSON to the streamed text keeps the streamed form.
func (a *Accumulator) completeToolCall(f types.ToolCallFrame) error {
	ref, ok := a.toolCalls[f.ToolCallID]
	if !ok {
		if err := a.beginToolCall(f.ToolCallID, f.ToolName); err != nil {
			return err
		}
		ref = a.toolCalls[f.ToolCallID]
	}

	p := &a.messages[ref.msg].Parts[ref.part]
	if f.ToolName != "" {
		p.ToolName = f.ToolName
	}
	switch {
	case p.ArgsText == f.ArgsText:
	case len(f.ArgsText) >= len(p.ArgsText) && f.ArgsText[:len(p.ArgsText)] == p.ArgsText:
		p.ArgsText = f.ArgsText
	case jsonEqual(p.ArgsText, f.ArgsText):
		// A complete tool-call frame may carry re-serialized args; the
		// streamed text is kept.
	default:
		return types.NewArgsRewriteError(f.ToolCallID, p.ArgsText, f.ArgsText)
	}
	return nil
}

// startStep opens a new assistant message when the step carries an ID
// different from the current message. An empty current message adopts
// the ID instead.
func (a *Accumulator) startStep(id string) {
	cur := &a.messages[a.current]
	if id == "" || id == cur.ID {
		return
	}
	if len(cur.Parts) == 0 && len(cur.Metadata.Steps) == 0 {
		cur.ID = id
		return
	}
	if cur.Status.Type == types.StatusRunning {
		cur.Status = types.MessageStatus{Type: types.StatusComplete, Reason: "stop"}
	}
	a.messages = append(a.messages, types.Message{
		ID:     id,
		Role:   types.RoleAssistant,
		Parts:  []types.Part{},
		Status: types.MessageStatus{Type: types.StatusRunning},
	})
	a.current = len(a.messages) - 1
}

func finishStatus(reason string, m *types.Message) types.MessageStatus {
	switch reason {
	case "tool-calls":
		for _, p := range m.Parts {
			if p.IsToolCall() && !p.HasResult {
				return types.MessageStatus{Type: types.StatusRequiresAction, Reason: reason}
			}
		}
		return types.MessageStatus{Type: types.StatusComplete, Reason: reason}
	case "error":
		return types.MessageStatus{Type: types.StatusIncomplete, Reason: reason}
	case "":
		return types.MessageStatus{Type: types.StatusComplete, Reason: "unknown"}
	default:
		return types.MessageStatus{Type: types.StatusComplete, Reason: reason}
	}
}

func unknownToolCall(id, frame string) *types.ProtocolError {
	return &types.ProtocolError{
		Kind:       types.ProtocolUnknownToolCall,
		ToolCallID: id,
		Msg:        frame + " for a tool call that was never opened",
	}
}
