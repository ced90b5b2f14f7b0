package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestCommand_MarshalWireShape(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "add message",
			cmd:  NewUserMessage(TextPart("hi")),
			want: `{"type":"add-message","message":{"role":"user","parts":[{"type":"text","text":"hi"}]}}`,
		},
		{
			name: "add message without parts",
			cmd:  AddMessageCommand{Role: RoleUser},
			want: `{"type":"add-message","message":{"role":"user","parts":[]}}`,
		},
		{
			name: "add tool result",
			cmd:  AddToolResultCommand{ToolCallID: "t1", ToolName: "search", Result: "ok"},
			want: `{"type":"add-tool-result","toolCallId":"t1","toolName":"search","result":"ok","isError":false}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.cmd)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"add-tool-result","toolCallId":"t1","toolName":"x","result":{"a":1},"isError":true}`))
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	tr, ok := cmd.(AddToolResultCommand)
	if !ok {
		t.Fatalf("got %T, want AddToolResultCommand", cmd)
	}
	if tr.ToolCallID != "t1" || !tr.IsError {
		t.Errorf("unexpected command %+v", tr)
	}

	cmd, err = DecodeCommand([]byte(`{"type":"add-message","message":{"role":"user","parts":[{"type":"image","image":"data:x"}]}}`))
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	am := cmd.(AddMessageCommand)
	if len(am.Parts) != 1 || am.Parts[0].Image != "data:x" {
		t.Errorf("unexpected parts %+v", am.Parts)
	}

	_, err = DecodeCommand([]byte(`{"type":"bogus"}`))
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestApplyStateOps(t *testing.T) {
	initial := map[string]any{"title": "a", "items": []any{"x"}}

	next, err := ApplyStateOps(initial, []StateOp{
		{Type: StateOpAppendText, Path: []string{"title"}, Value: "b"},
		{Type: StateOpSet, Path: []string{"items", "1"}, Value: "y"},
		{Type: StateOpSet, Path: []string{"nested", "k"}, Value: 1.0},
	})
	if err != nil {
		t.Fatalf("ApplyStateOps failed: %v", err)
	}

	want := map[string]any{
		"title":  "ab",
		"items":  []any{"x", "y"},
		"nested": map[string]any{"k": 1.0},
	}
	if !StatesEqual(next, want) {
		t.Errorf("got %v, want %v", next, want)
	}

	// Input must be untouched.
	if initial["title"] != "a" || len(initial["items"].([]any)) != 1 {
		t.Errorf("input state was mutated: %v", initial)
	}
}

func TestStatesEqual_NumericForms(t *testing.T) {
	tests := []struct {
		name string
		a, b State
		want bool
	}{
		{"identical", map[string]any{"n": 1.0}, map[string]any{"n": 1.0}, true},
		{"int against float", map[string]any{"n": int8(1)}, map[string]any{"n": float64(1)}, true},
		{"nested uint", map[string]any{"xs": []any{uint8(2)}}, map[string]any{"xs": []any{2.0}}, true},
		{"different value", map[string]any{"n": int64(2)}, map[string]any{"n": 1.0}, false},
		{"nil against empty map", nil, map[string]any{}, false},
		{"both nil", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("StatesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestNormalizeState(t *testing.T) {
	got, err := NormalizeState(map[string]any{"n": int16(3), "tags": []string{"a"}})
	if err != nil {
		t.Fatalf("NormalizeState failed: %v", err)
	}
	m := got.(map[string]any)
	if m["n"] != 3.0 {
		t.Errorf("n = %#v, want float64(3)", m["n"])
	}
	if tags, ok := m["tags"].([]any); !ok || len(tags) != 1 || tags[0] != "a" {
		t.Errorf("tags = %#v", m["tags"])
	}

	if _, err := NormalizeState(map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("expected error for a non-JSON value")
	}
}

func TestApplyStateOps_AppendOntoNonString(t *testing.T) {
	_, err := ApplyStateOps(map[string]any{"n": 1.0}, []StateOp{
		{Type: StateOpAppendText, Path: []string{"n"}, Value: "x"},
	})
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if pe.Kind != ProtocolStateRegression {
		t.Errorf("Kind = %v, want state_regression", pe.Kind)
	}
}

func TestApplyStateOps_AppendOntoMissing(t *testing.T) {
	next, err := ApplyStateOps(nil, []StateOp{
		{Type: StateOpAppendText, Path: []string{"log"}, Value: "hello"},
	})
	if err != nil {
		t.Fatalf("ApplyStateOps failed: %v", err)
	}
	if !StatesEqual(next, map[string]any{"log": "hello"}) {
		t.Errorf("got %v", next)
	}
}

func TestApplyToolResult(t *testing.T) {
	msgs := []Message{
		{ID: "m1", Role: RoleAssistant, Parts: []Part{{Type: PartToolCall, ToolCallID: "t1"}}},
	}
	if !ApplyToolResult(msgs, AddToolResultCommand{ToolCallID: "t1", Result: "r"}) {
		t.Fatal("expected tool result to apply")
	}
	if !msgs[0].Parts[0].HasResult || msgs[0].Parts[0].Result != "r" {
		t.Errorf("result not attached: %+v", msgs[0].Parts[0])
	}
	if ApplyToolResult(msgs, AddToolResultCommand{ToolCallID: "missing"}) {
		t.Error("expected unknown tool call to be rejected")
	}
}

func TestMessage_CloneIsIndependent(t *testing.T) {
	m := Message{ID: "m", Parts: []Part{{Type: PartText, Text: "a"}}}
	c := m.Clone()
	c.Parts[0].Text = "b"
	if m.Parts[0].Text != "a" {
		t.Error("clone shares parts with original")
	}
}

func TestNewArgsRewriteError(t *testing.T) {
	err := NewArgsRewriteError("t1", `{"a":`, `{"b"`)
	if !IsProtocolError(err) {
		t.Fatal("expected protocol error")
	}
	if !strings.Contains(err.Error(), "can only be appended") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestRunMeta_Validate(t *testing.T) {
	m := NewRunMeta("s1", 1)
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	m.Seq = 0
	if err := m.Validate(); err == nil {
		t.Error("expected error for seq 0")
	}
}
