package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("sess-1", Options{Output: &buf, Level: "debug"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.WithRun("run-1", 2).Info("run started", map[string]any{"commands": 1})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["session_id"] != "sess-1" || e["run_id"] != "run-1" || e["seq"] != 2.0 {
		t.Errorf("missing context fields: %v", e)
	}
	if e["message"] != "run started" || e["level"] != "info" {
		t.Errorf("unexpected entry: %v", e)
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok || fields["commands"] != 1.0 {
		t.Errorf("fields = %v", e["fields"])
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("s", Options{Output: &buf, Level: "warn"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("hidden", nil)
	l.Warn("shown", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "shown" {
		t.Errorf("unexpected entries %v", entries)
	}
}

func TestLogger_UnknownLevel(t *testing.T) {
	if _, err := New("s", Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.Info("ignored", nil)
	l.WithRun("r", 1).Error("ignored", nil)
	l.Sugar().Infof("ignored %d", 1)
	if err := l.Sync(); err != nil {
		t.Errorf("Sync on nil logger: %v", err)
	}
}

func TestSugaredLogger(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New("s", Options{Output: &buf})
	l.Sugar().With("k", "v").Infof("hello %s", "world")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "hello world" || entries[0]["k"] != "v" {
		t.Errorf("unexpected entries %v", entries)
	}
}
