package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/conduit/types"
)

// Data-stream frame codes.
const (
	CodeTextDelta      = "0"
	CodeReasoningDelta = "g"
	CodeToolCallBegin  = "b"
	CodeToolCallDelta  = "c"
	CodeToolCall       = "9"
	CodeToolResult     = "a"
	CodeStartStep      = "f"
	CodeFinishStep     = "e"
	CodeFinishMessage  = "d"
	CodeData           = "2"
	CodeAnnotation     = "8"
	CodeError          = "3"
	CodeStateUpdate    = "aui-state"
	CodeStateSnapshot  = "aui-state-snapshot"
)

const readChunkSize = 32 * 1024

// DataStreamDecoder decodes "<code>:<json>\n" lines.
type DataStreamDecoder struct {
	r   io.Reader
	buf []byte
	// start is the offset of the first unconsumed byte in buf.
	start int
	// scanned is the offset up to which buf has been searched for a
	// newline without finding one.
	scanned int
	eof     bool
	err     error
}

// NewDataStreamDecoder creates a data-stream decoder reading from r.
func NewDataStreamDecoder(r io.Reader) *DataStreamDecoder {
	return &DataStreamDecoder{r: r}
}

// Next returns the next frame. Blank lines are skipped.
func (d *DataStreamDecoder) Next() (types.Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	frame, err := d.next()
	if err != nil {
		d.err = err
	}
	return frame, err
}

func (d *DataStreamDecoder) next() (types.Frame, error) {
	for {
		if i := bytes.IndexByte(d.buf[d.scanned:], '\n'); i >= 0 {
			end := d.scanned + i
			line := bytes.TrimSuffix(d.buf[d.start:end], []byte{'\r'})
			d.start = end + 1
			d.scanned = d.start
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			return parseLine(line)
		}
		d.scanned = len(d.buf)

		if d.scanned-d.start > MaxFrameSize {
			return nil, &FrameError{
				Kind: FrameErrorTooLarge,
				Msg:  fmt.Sprintf("line exceeds maximum frame size %d", MaxFrameSize),
			}
		}

		if d.eof {
			rest := d.buf[d.start:]
			d.start = len(d.buf)
			if len(bytes.TrimSpace(rest)) == 0 {
				return nil, io.EOF
			}
			return nil, &FrameError{
				Kind: FrameErrorPartial,
				Msg:  fmt.Sprintf("stream ended inside a frame (%d bytes pending)", len(rest)),
			}
		}

		if err := d.fill(); err != nil {
			return nil, err
		}
	}
}

// fill reads more input, compacting consumed bytes first.
func (d *DataStreamDecoder) fill() error {
	if d.start > 0 {
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.scanned -= d.start
		d.start = 0
	}

	if cap(d.buf)-len(d.buf) < readChunkSize {
		grown := make([]byte, len(d.buf), 2*cap(d.buf)+readChunkSize)
		copy(grown, d.buf)
		d.buf = grown
	}

	n, err := d.r.Read(d.buf[len(d.buf):cap(d.buf)])
	d.buf = d.buf[:len(d.buf)+n]
	if errors.Is(err, io.EOF) {
		d.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func parseLine(line []byte) (types.Frame, error) {
	sep := bytes.IndexByte(line, ':')
	if sep <= 0 {
		return nil, decodeError(fmt.Sprintf("malformed line %q", truncate(line)), nil)
	}
	code := string(line[:sep])
	payload := line[sep+1:]

	switch code {
	case CodeTextDelta:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, decodeError("decode text-delta", err)
		}
		return types.TextDeltaFrame{Text: s}, nil

	case CodeReasoningDelta:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, decodeError("decode reasoning-delta", err)
		}
		return types.ReasoningDeltaFrame{Text: s}, nil

	case CodeToolCallBegin:
		var f types.ToolCallBeginFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, decodeError("decode tool-call-begin", err)
		}
		if f.ToolCallID == "" {
			return nil, decodeError("tool-call-begin without toolCallId", nil)
		}
		return f, nil

	case CodeToolCallDelta:
		var f types.ToolCallDeltaFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, decodeError("decode tool-call-delta", err)
		}
		if f.ToolCallID == "" {
			return nil, decodeError("tool-call-delta without toolCallId", nil)
		}
		return f, nil

	case CodeToolCall:
		var w struct {
			ToolCallID string          `json:"toolCallId"`
			ToolName   string          `json:"toolName"`
			Args       json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, decodeError("decode tool-call", err)
		}
		if w.ToolCallID == "" {
			return nil, decodeError("tool-call without toolCallId", nil)
		}
		return types.ToolCallFrame{ToolCallID: w.ToolCallID, ToolName: w.ToolName, ArgsText: string(w.Args)}, nil

	case CodeToolResult:
		var f types.ToolResultFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, decodeError("decode tool-result", err)
		}
		return f, nil

	case CodeStartStep:
		var f types.StartStepFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, decodeError("decode start-step", err)
		}
		return f, nil

	case CodeFinishStep:
		var f types.FinishStepFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, decodeError("decode finish-step", err)
		}
		return f, nil

	case CodeFinishMessage:
		var f types.FinishMessageFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, decodeError("decode finish-message", err)
		}
		return f, nil

	case CodeData:
		var items []any
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, decodeError("decode data", err)
		}
		return types.DataFrame{Data: items}, nil

	case CodeAnnotation:
		var items []any
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, decodeError("decode annotation", err)
		}
		return types.AnnotationFrame{Annotations: items}, nil

	case CodeError:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, decodeError("decode error frame", err)
		}
		return types.ErrorFrame{Message: s}, nil

	case CodeStateUpdate:
		var ops []types.StateOp
		if err := json.Unmarshal(payload, &ops); err != nil {
			return nil, decodeError("decode state-update", err)
		}
		return types.StateUpdateFrame{Operations: ops}, nil

	case CodeStateSnapshot:
		var state any
		if err := json.Unmarshal(payload, &state); err != nil {
			return nil, decodeError("decode state-snapshot", err)
		}
		return types.StateSnapshotFrame{State: state}, nil

	default:
		return nil, decodeError(fmt.Sprintf("unknown frame code %q", code), nil)
	}
}

func truncate(b []byte) []byte {
	const limit = 64
	if len(b) > limit {
		return b[:limit]
	}
	return b
}

// DataStreamEncoder writes frames as data-stream lines.
type DataStreamEncoder struct {
	w io.Writer
}

// NewDataStreamEncoder creates a data-stream encoder writing to w.
func NewDataStreamEncoder(w io.Writer) *DataStreamEncoder {
	return &DataStreamEncoder{w: w}
}

// Encode writes one frame followed by a newline.
func (e *DataStreamEncoder) Encode(frame types.Frame) error {
	code, payload, err := dataStreamPayload(frame)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", frame.FrameType(), err)
	}

	line := make([]byte, 0, len(code)+len(data)+2)
	line = append(line, code...)
	line = append(line, ':')
	line = append(line, data...)
	line = append(line, '\n')
	_, err = e.w.Write(line)
	return err
}

func dataStreamPayload(frame types.Frame) (string, any, error) {
	switch f := frame.(type) {
	case types.TextDeltaFrame:
		return CodeTextDelta, f.Text, nil
	case types.ReasoningDeltaFrame:
		return CodeReasoningDelta, f.Text, nil
	case types.ToolCallBeginFrame:
		return CodeToolCallBegin, f, nil
	case types.ToolCallDeltaFrame:
		return CodeToolCallDelta, f, nil
	case types.ToolCallFrame:
		args := json.RawMessage(f.ArgsText)
		if !json.Valid(args) {
			return "", nil, fmt.Errorf("encode tool-call %s: argsText is not valid JSON", f.ToolCallID)
		}
		return CodeToolCall, map[string]any{
			"toolCallId": f.ToolCallID,
			"toolName":   f.ToolName,
			"args":       args,
		}, nil
	case types.ToolResultFrame:
		return CodeToolResult, f, nil
	case types.StartStepFrame:
		return CodeStartStep, f, nil
	case types.FinishStepFrame:
		return CodeFinishStep, f, nil
	case types.FinishMessageFrame:
		return CodeFinishMessage, f, nil
	case types.DataFrame:
		return CodeData, nonNil(f.Data), nil
	case types.AnnotationFrame:
		return CodeAnnotation, nonNil(f.Annotations), nil
	case types.ErrorFrame:
		return CodeError, f.Message, nil
	case types.StateUpdateFrame:
		if f.Operations == nil {
			return CodeStateUpdate, []types.StateOp{}, nil
		}
		return CodeStateUpdate, f.Operations, nil
	case types.StateSnapshotFrame:
		return CodeStateSnapshot, f.State, nil
	default:
		return "", nil, fmt.Errorf("encode: unsupported frame %T", frame)
	}
}

func nonNil(items []any) []any {
	if items == nil {
		return []any{}
	}
	return items
}

var (
	_ Decoder = (*DataStreamDecoder)(nil)
	_ Encoder = (*DataStreamEncoder)(nil)
)
