package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/conduit/types"
)

// encodeFrame encodes a payload with length prefix.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func TestMsgpackDecoder_RoundTrip(t *testing.T) {
	frames := []types.Frame{
		types.StartStepFrame{MessageID: "m1"},
		types.TextDeltaFrame{Text: "hi"},
		types.ToolCallBeginFrame{ToolCallID: "t1", ToolName: "search"},
		types.ToolCallDeltaFrame{ToolCallID: "t1", ArgsTextDelta: `{"q":1}`},
		types.ToolCallFrame{ToolCallID: "t1", ToolName: "search", ArgsText: `{"q":1}`},
		types.ErrorFrame{Message: "boom"},
		types.StateSnapshotFrame{State: map[string]any{"title": "x"}},
		types.StateUpdateFrame{Operations: []types.StateOp{
			{Type: types.StateOpAppendText, Path: []string{"title"}, Value: "y"},
		}},
		types.FinishMessageFrame{FinishReason: "stop"},
	}

	var buf bytes.Buffer
	enc := NewMsgpackEncoder(&buf)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("Encode(%s) failed: %v", f.FrameType(), err)
		}
	}

	decoded, err := ReadAll(NewMsgpackDecoder(&oneByteReader{data: buf.Bytes()}))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(decoded) != len(frames) {
		t.Fatalf("got %d frames, want %d", len(decoded), len(frames))
	}
	for i := range frames {
		if decoded[i].FrameType() != frames[i].FrameType() {
			t.Errorf("frame %d: type = %s, want %s", i, decoded[i].FrameType(), frames[i].FrameType())
		}
	}

	if got := decoded[4].(types.ToolCallFrame).ArgsText; got != `{"q":1}` {
		t.Errorf("argsText = %q", got)
	}
	snap := decoded[6].(types.StateSnapshotFrame).State.(map[string]any)
	if snap["title"] != "x" {
		t.Errorf("snapshot = %v", snap)
	}
	op := decoded[7].(types.StateUpdateFrame).Operations[0]
	if op.Type != types.StateOpAppendText || op.Value != "y" {
		t.Errorf("op = %+v", op)
	}
}

func TestMsgpackDecoder_StateUsesJSONNumbers(t *testing.T) {
	var buf bytes.Buffer
	enc := NewMsgpackEncoder(&buf)
	frames := []types.Frame{
		types.StateSnapshotFrame{State: map[string]any{"count": 1, "ids": []any{int64(7)}}},
		types.StateUpdateFrame{Operations: []types.StateOp{
			{Type: types.StateOpSet, Path: []string{"count"}, Value: uint8(2)},
		}},
	}
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("Encode(%s) failed: %v", f.FrameType(), err)
		}
	}

	decoded, err := ReadAll(NewMsgpackDecoder(&buf))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	snap := decoded[0].(types.StateSnapshotFrame).State.(map[string]any)
	if snap["count"] != 1.0 {
		t.Errorf("count = %#v, want float64(1)", snap["count"])
	}
	if ids := snap["ids"].([]any); ids[0] != 7.0 {
		t.Errorf("ids[0] = %#v, want float64(7)", ids[0])
	}
	if v := decoded[1].(types.StateUpdateFrame).Operations[0].Value; v != 2.0 {
		t.Errorf("op value = %#v, want float64(2)", v)
	}
}

func TestMsgpackDecoder_EmptyStream(t *testing.T) {
	_, err := NewMsgpackDecoder(bytes.NewReader(nil)).Next()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestMsgpackDecoder_PartialLengthPrefix(t *testing.T) {
	_, err := NewMsgpackDecoder(bytes.NewReader([]byte{0, 0})).Next()
	if !IsPartialFrame(err) {
		t.Errorf("expected partial frame error, got %v", err)
	}
}

func TestMsgpackDecoder_PartialPayload(t *testing.T) {
	frame := encodeFrame([]byte{0x81, 0xa4})
	_, err := NewMsgpackDecoder(bytes.NewReader(frame[:len(frame)-1])).Next()
	if !IsPartialFrame(err) {
		t.Errorf("expected partial frame error, got %v", err)
	}
}

func TestMsgpackDecoder_TooLarge(t *testing.T) {
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)

	_, err := NewMsgpackDecoder(bytes.NewReader(prefix[:])).Next()
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorTooLarge {
		t.Errorf("expected too-large frame error, got %v", err)
	}
}

func TestMsgpackDecoder_UnknownType(t *testing.T) {
	body, err := msgpack.Marshal(map[string]any{"type": "bogus", "payload": nil})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	_, err = NewMsgpackDecoder(bytes.NewReader(encodeFrame(body))).Next()
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorDecode {
		t.Errorf("expected decode frame error, got %v", err)
	}
}

func TestMsgpackDecoder_GarbagePayload(t *testing.T) {
	_, err := NewMsgpackDecoder(bytes.NewReader(encodeFrame([]byte{0xc1}))).Next()
	if !IsFrameError(err) {
		t.Errorf("expected frame error, got %v", err)
	}
}
