package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/conduit/types"
	"github.com/pithecene-io/conduit/wire"
)

func writeCapture(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	return path
}

func decodeReplayResult(t *testing.T, out string) ReplayResult {
	t.Helper()
	var res ReplayResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	return res
}

func TestReplay_DataStream(t *testing.T) {
	capture := strings.Join([]string{
		`0:"Looking "`,
		`b:{"toolCallId":"call-1","toolName":"search"}`,
		`c:{"toolCallId":"call-1","argsTextDelta":"{\"q\":"}`,
		`c:{"toolCallId":"call-1","argsTextDelta":"\"go\"}"}`,
		`aui-state-snapshot:{"phase":"search"}`,
		`d:{"finishReason":"tool-calls"}`,
	}, "\n") + "\n"
	path := writeCapture(t, "run.txt", []byte(capture))

	ta := newTestApp("", ReplayCommand())
	if err := ta.run("replay", "--format", "json", path); err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	res := decodeReplayResult(t, ta.stdout.String())
	if res.Outcome != string(types.OutcomeSuccess) {
		t.Errorf("outcome = %q", res.Outcome)
	}
	if res.Frames != 6 {
		t.Errorf("frames = %d, want 6", res.Frames)
	}
	if res.ToolCalls != 1 {
		t.Errorf("tool calls = %d, want 1", res.ToolCalls)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	msg := res.Messages[0]
	if msg.Text() != "Looking " {
		t.Errorf("text = %q", msg.Text())
	}
	calls := msg.ToolCalls()
	if len(calls) != 1 || calls[0].ArgsText != `{"q":"go"}` {
		t.Errorf("tool calls = %+v", calls)
	}
	if msg.Status.Type != types.StatusRequiresAction {
		t.Errorf("status = %+v, want requires-action", msg.Status)
	}
	if state, ok := res.State.(map[string]any); !ok || state["phase"] != "search" {
		t.Errorf("state = %v", res.State)
	}
}

func TestReplay_Msgpack(t *testing.T) {
	var buf bytes.Buffer
	enc := wire.NewMsgpackEncoder(&buf)
	for _, f := range []types.Frame{
		types.TextDeltaFrame{Text: "Hel"},
		types.TextDeltaFrame{Text: "lo"},
	} {
		if err := enc.Encode(f); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	path := writeCapture(t, "run.mpk", buf.Bytes())

	ta := newTestApp("", ReplayCommand())
	if err := ta.run("replay", "--format", "json", path); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	res := decodeReplayResult(t, ta.stdout.String())
	if res.Frames != 2 || len(res.Messages) != 1 || res.Messages[0].Text() != "Hello" {
		t.Errorf("result = %+v", res)
	}
}

func TestReplay_Stdin(t *testing.T) {
	ta := newTestApp("0:\"from stdin\"\n", ReplayCommand())
	if err := ta.run("replay", "--format", "json", "-"); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	res := decodeReplayResult(t, ta.stdout.String())
	if len(res.Messages) != 1 || res.Messages[0].Text() != "from stdin" {
		t.Errorf("messages = %+v", res.Messages)
	}
}

func TestReplay_Failures(t *testing.T) {
	tests := []struct {
		name    string
		capture string
		want    int
	}{
		{"malformed line", "0:\"ok\"\nnot a frame\n", exitTransport},
		{"unknown code", "zz:1\n", exitTransport},
		{"remote error", "0:\"partial\"\n3:\"quota exceeded\"\n", exitRunError},
		{"unknown tool call", "c:{\"toolCallId\":\"missing\",\"argsTextDelta\":\"x\"}\n", exitRunError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCapture(t, "run.txt", []byte(tt.capture))
			ta := newTestApp("", ReplayCommand())
			err := ta.run("replay", "--format", "json", path)
			if got := exitCodeOf(err); got != tt.want {
				t.Fatalf("exit code = %d, want %d (err: %v)", got, tt.want, err)
			}
			res := decodeReplayResult(t, ta.stdout.String())
			if res.Outcome != string(types.OutcomeError) || res.Error == "" {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestReplay_Args(t *testing.T) {
	ta := newTestApp("", ReplayCommand())
	if got := exitCodeOf(ta.run("replay")); got != exitRunError {
		t.Errorf("no args exit = %d, want %d", got, exitRunError)
	}

	ta = newTestApp("", ReplayCommand())
	missing := filepath.Join(t.TempDir(), "nope.txt")
	if got := exitCodeOf(ta.run("replay", missing)); got != exitTransport {
		t.Errorf("missing file exit = %d, want %d", got, exitTransport)
	}
}

func TestReplayContentType(t *testing.T) {
	tests := []struct {
		path     string
		explicit string
		want     string
	}{
		{"run.txt", "", wire.ContentTypeDataStream},
		{"run.msgpack", "", wire.ContentTypeMsgpack},
		{"RUN.MPK", "", wire.ContentTypeMsgpack},
		{"-", "", wire.ContentTypeDataStream},
		{"run.txt", wire.ContentTypeMsgpack, wire.ContentTypeMsgpack},
	}
	for _, tt := range tests {
		if got := replayContentType(tt.path, tt.explicit); got != tt.want {
			t.Errorf("replayContentType(%q, %q) = %q, want %q", tt.path, tt.explicit, got, tt.want)
		}
	}
}
