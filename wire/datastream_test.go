package wire

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/pithecene-io/conduit/types"
)

// oneByteReader returns input one byte per Read call.
type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

// failingReader returns data then a non-EOF error.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

const sampleStream = `f:{"messageId":"m1"}
0:"Hello"
0:", world"
g:"thinking"
b:{"toolCallId":"t1","toolName":"search"}
c:{"toolCallId":"t1","argsTextDelta":"{\"q\":"}
c:{"toolCallId":"t1","argsTextDelta":"\"go\"}"}
9:{"toolCallId":"t1","toolName":"search","args":{"q":"go"}}
a:{"toolCallId":"t1","result":"found"}
2:[{"k":1}]
8:[{"note":"x"}]
aui-state:[{"type":"set","path":["title"],"value":"T"}]
aui-state-snapshot:{"title":"T"}
e:{"finishReason":"tool-calls","isContinued":false}
d:{"finishReason":"stop","usage":{"promptTokens":3,"completionTokens":5}}
`

func TestDataStreamDecoder_AllFrameKinds(t *testing.T) {
	frames, err := ReadAll(NewDataStreamDecoder(strings.NewReader(sampleStream)))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	want := []types.FrameType{
		types.FrameStartStep,
		types.FrameTextDelta,
		types.FrameTextDelta,
		types.FrameReasoningDelta,
		types.FrameToolCallBegin,
		types.FrameToolCallDelta,
		types.FrameToolCallDelta,
		types.FrameToolCall,
		types.FrameToolResult,
		types.FrameData,
		types.FrameAnnotation,
		types.FrameStateUpdate,
		types.FrameStateSnapshot,
		types.FrameFinishStep,
		types.FrameFinishMessage,
	}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(frames), len(want))
	}
	for i, f := range frames {
		if f.FrameType() != want[i] {
			t.Errorf("frame %d: type = %s, want %s", i, f.FrameType(), want[i])
		}
	}

	if got := frames[1].(types.TextDeltaFrame).Text; got != "Hello" {
		t.Errorf("text = %q, want Hello", got)
	}
	if got := frames[6].(types.ToolCallDeltaFrame).ArgsTextDelta; got != `"go"}` {
		t.Errorf("argsTextDelta = %q", got)
	}
	if got := frames[7].(types.ToolCallFrame).ArgsText; got != `{"q":"go"}` {
		t.Errorf("tool-call argsText = %q", got)
	}
	fm := frames[14].(types.FinishMessageFrame)
	if fm.FinishReason != "stop" || fm.Usage == nil || fm.Usage.CompletionTokens != 5 {
		t.Errorf("unexpected finish-message %+v", fm)
	}
}

func TestDataStreamDecoder_FramesSpanReads(t *testing.T) {
	whole, err := ReadAll(NewDataStreamDecoder(strings.NewReader(sampleStream)))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	split, err := ReadAll(NewDataStreamDecoder(&oneByteReader{data: []byte(sampleStream)}))
	if err != nil {
		t.Fatalf("ReadAll (byte reader) failed: %v", err)
	}
	if !reflect.DeepEqual(whole, split) {
		t.Error("decoding byte-by-byte produced different frames")
	}
}

func TestDataStreamDecoder_SkipsBlankLinesAndCRLF(t *testing.T) {
	input := "0:\"a\"\r\n\n\n0:\"b\"\n"
	frames, err := ReadAll(NewDataStreamDecoder(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
}

func TestDataStreamDecoder_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind FrameErrorKind
		good     int
	}{
		{name: "unknown code", input: "0:\"a\"\nz:{}\n", wantKind: FrameErrorDecode, good: 1},
		{name: "missing separator", input: "garbage\n", wantKind: FrameErrorDecode},
		{name: "bad json", input: "0:not-json\n", wantKind: FrameErrorDecode},
		{name: "truncated final line", input: "0:\"a\"\n0:\"b", wantKind: FrameErrorPartial, good: 1},
		{name: "tool call begin without id", input: "b:{\"toolName\":\"x\"}\n", wantKind: FrameErrorDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := ReadAll(NewDataStreamDecoder(strings.NewReader(tt.input)))
			if len(frames) != tt.good {
				t.Errorf("got %d good frames, want %d", len(frames), tt.good)
			}
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FrameError, got %v", err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", fe.Kind, tt.wantKind)
			}
		})
	}
}

func TestDataStreamDecoder_ErrorIsSticky(t *testing.T) {
	d := NewDataStreamDecoder(strings.NewReader("z:1\n0:\"a\"\n"))
	_, err1 := d.Next()
	_, err2 := d.Next()
	if err1 == nil || err1 != err2 {
		t.Errorf("expected same sticky error, got %v then %v", err1, err2)
	}
}

func TestDataStreamDecoder_ReaderErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	d := NewDataStreamDecoder(&failingReader{data: []byte("0:\"a\"\n"), err: boom})

	if _, err := d.Next(); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	_, err := d.Next()
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped reader error, got %v", err)
	}
	if IsFrameError(err) {
		t.Error("reader failure must not be classified as a frame error")
	}
}

func TestDataStreamDecoder_EmptyStream(t *testing.T) {
	_, err := NewDataStreamDecoder(bytes.NewReader(nil)).Next()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDataStreamEncoder_RoundTrip(t *testing.T) {
	frames, err := ReadAll(NewDataStreamDecoder(strings.NewReader(sampleStream)))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	var buf bytes.Buffer
	enc := NewDataStreamEncoder(&buf)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("Encode(%s) failed: %v", f.FrameType(), err)
		}
	}

	again, err := ReadAll(NewDataStreamDecoder(&buf))
	if err != nil {
		t.Fatalf("ReadAll after encode failed: %v", err)
	}
	if !reflect.DeepEqual(frames, again) {
		t.Error("re-encoded stream decoded to different frames")
	}
}

func TestAll_StopsEarly(t *testing.T) {
	d := NewDataStreamDecoder(strings.NewReader("0:\"a\"\n0:\"b\"\n0:\"c\"\n"))
	var n int
	for _, err := range All(d) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
		if n == 2 {
			break
		}
	}
	// The decoder is single-pass: the remaining frame is still available.
	f, err := d.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if f.(types.TextDeltaFrame).Text != "c" {
		t.Errorf("expected remaining frame c, got %v", f)
	}
}

func TestNewDecoderForContentType(t *testing.T) {
	tests := []struct {
		contentType string
		wantMsgpack bool
	}{
		{"text/plain; charset=utf-8", false},
		{"", false},
		{ContentTypeMsgpack, true},
		{ContentTypeMsgpack + "; v=1", true},
	}
	for _, tt := range tests {
		d := NewDecoderForContentType(tt.contentType, bytes.NewReader(nil))
		_, isMsgpack := d.(*MsgpackDecoder)
		if isMsgpack != tt.wantMsgpack {
			t.Errorf("%q: msgpack = %v, want %v", tt.contentType, isMsgpack, tt.wantMsgpack)
		}
	}
}
