package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/conduit/types"
)

// LengthPrefixSize is the size of the msgpack frame length prefix in bytes.
const LengthPrefixSize = 4

// MaxPayloadSize is the maximum msgpack payload size (MaxFrameSize - 4 bytes).
const MaxPayloadSize = MaxFrameSize - LengthPrefixSize

// envelope is the msgpack frame body.
type envelope struct {
	Type    types.FrameType    `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// MsgpackDecoder decodes length-prefixed msgpack frames.
type MsgpackDecoder struct {
	reader io.Reader
	err    error
}

// NewMsgpackDecoder creates a msgpack frame decoder reading from r.
func NewMsgpackDecoder(r io.Reader) *MsgpackDecoder {
	return &MsgpackDecoder{reader: r}
}

// Next reads and decodes the next frame.
func (d *MsgpackDecoder) Next() (types.Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	payload, err := d.ReadFrame()
	if err == nil {
		var frame types.Frame
		frame, err = DecodeMsgpackFrame(payload)
		if err == nil {
			return frame, nil
		}
	}
	d.err = err
	return nil, err
}

// ReadFrame reads a single frame from the stream.
// Returns the raw payload bytes (msgpack-encoded).
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *MsgpackDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// DecodeMsgpackFrame decodes one msgpack frame body.
func DecodeMsgpackFrame(payload []byte) (types.Frame, error) {
	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, decodeError("failed to decode frame envelope", err)
	}

	switch env.Type {
	case types.FrameTextDelta:
		var s string
		if err := unmarshalPayload(env, &s); err != nil {
			return nil, err
		}
		return types.TextDeltaFrame{Text: s}, nil
	case types.FrameReasoningDelta:
		var s string
		if err := unmarshalPayload(env, &s); err != nil {
			return nil, err
		}
		return types.ReasoningDeltaFrame{Text: s}, nil
	case types.FrameToolCallBegin:
		var f types.ToolCallBeginFrame
		if err := unmarshalPayload(env, &f); err != nil {
			return nil, err
		}
		return f, nil
	case types.FrameToolCallDelta:
		var f types.ToolCallDeltaFrame
		if err := unmarshalPayload(env, &f); err != nil {
			return nil, err
		}
		return f, nil
	case types.FrameToolCall:
		var f types.ToolCallFrame
		if err := unmarshalPayload(env, &f); err != nil {
			return nil, err
		}
		return f, nil
	case types.FrameToolResult:
		var f types.ToolResultFrame
		if err := unmarshalPayload(env, &f); err != nil {
			return nil, err
		}
		return f, nil
	case types.FrameStartStep:
		var f types.StartStepFrame
		if err := unmarshalPayload(env, &f); err != nil {
			return nil, err
		}
		return f, nil
	case types.FrameFinishStep:
		var f types.FinishStepFrame
		if err := unmarshalPayload(env, &f); err != nil {
			return nil, err
		}
		return f, nil
	case types.FrameFinishMessage:
		var f types.FinishMessageFrame
		if err := unmarshalPayload(env, &f); err != nil {
			return nil, err
		}
		return f, nil
	case types.FrameData:
		var items []any
		if err := unmarshalPayload(env, &items); err != nil {
			return nil, err
		}
		return types.DataFrame{Data: items}, nil
	case types.FrameAnnotation:
		var items []any
		if err := unmarshalPayload(env, &items); err != nil {
			return nil, err
		}
		return types.AnnotationFrame{Annotations: items}, nil
	case types.FrameError:
		var s string
		if err := unmarshalPayload(env, &s); err != nil {
			return nil, err
		}
		return types.ErrorFrame{Message: s}, nil
	case types.FrameStateUpdate:
		var ops []types.StateOp
		if err := unmarshalPayload(env, &ops); err != nil {
			return nil, err
		}
		for i := range ops {
			v, err := types.NormalizeState(ops[i].Value)
			if err != nil {
				return nil, decodeError(fmt.Sprintf("invalid %s value", env.Type), err)
			}
			ops[i].Value = v
		}
		return types.StateUpdateFrame{Operations: ops}, nil
	case types.FrameStateSnapshot:
		var raw any
		if err := unmarshalPayload(env, &raw); err != nil {
			return nil, err
		}
		state, err := types.NormalizeState(raw)
		if err != nil {
			return nil, decodeError(fmt.Sprintf("invalid %s payload", env.Type), err)
		}
		return types.StateSnapshotFrame{State: state}, nil
	default:
		return nil, decodeError(fmt.Sprintf("unknown frame type %q", env.Type), nil)
	}
}

func unmarshalPayload(env envelope, v any) error {
	if err := msgpack.Unmarshal(env.Payload, v); err != nil {
		return decodeError(fmt.Sprintf("failed to decode %s payload", env.Type), err)
	}
	return nil
}

// MsgpackEncoder writes length-prefixed msgpack frames.
type MsgpackEncoder struct {
	w io.Writer
}

// NewMsgpackEncoder creates a msgpack frame encoder writing to w.
func NewMsgpackEncoder(w io.Writer) *MsgpackEncoder {
	return &MsgpackEncoder{w: w}
}

// Encode writes one frame with its length prefix.
func (e *MsgpackEncoder) Encode(frame types.Frame) error {
	payload, err := msgpackPayload(frame)
	if err != nil {
		return err
	}
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", frame.FrameType(), err)
	}
	body, err := msgpack.Marshal(envelope{Type: frame.FrameType(), Payload: raw})
	if err != nil {
		return fmt.Errorf("encode %s: %w", frame.FrameType(), err)
	}
	if len(body) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(body), MaxPayloadSize),
		}
	}

	out := make([]byte, LengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body))) //nolint:gosec // bounded by MaxPayloadSize
	copy(out[LengthPrefixSize:], body)
	_, err = e.w.Write(out)
	return err
}

func msgpackPayload(frame types.Frame) (any, error) {
	switch f := frame.(type) {
	case types.TextDeltaFrame:
		return f.Text, nil
	case types.ReasoningDeltaFrame:
		return f.Text, nil
	case types.DataFrame:
		return nonNil(f.Data), nil
	case types.AnnotationFrame:
		return nonNil(f.Annotations), nil
	case types.ErrorFrame:
		return f.Message, nil
	case types.StateUpdateFrame:
		return f.Operations, nil
	case types.StateSnapshotFrame:
		return f.State, nil
	case types.ToolCallBeginFrame, types.ToolCallDeltaFrame, types.ToolCallFrame,
		types.ToolResultFrame, types.StartStepFrame, types.FinishStepFrame,
		types.FinishMessageFrame:
		return f, nil
	default:
		return nil, fmt.Errorf("encode: unsupported frame %T", frame)
	}
}

var (
	_ Decoder = (*MsgpackDecoder)(nil)
	_ Encoder = (*MsgpackEncoder)(nil)
)
