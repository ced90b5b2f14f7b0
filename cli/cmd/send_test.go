package cmd

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/pithecene-io/conduit/types"
)

func decodeSendResult(t *testing.T, out string) SendResult {
	t.Helper()
	var res SendResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	return res
}

func TestSend_Success(t *testing.T) {
	srv := newStreamServer(t, http.StatusOK, "0:\"Hel\"\n0:\"lo\"\naui-state-snapshot:{\"step\":1}\n")
	journalDir := t.TempDir()

	ta := newTestApp("", SendCommand())
	err := ta.run("send", "--endpoint", srv.URL, "--format", "json", "--journal-path", journalDir, "hi", "there")
	if err != nil {
		t.Fatalf("send failed: %v\nstderr: %s", err, ta.stderr.String())
	}

	res := decodeSendResult(t, ta.stdout.String())
	if res.Outcome != string(types.OutcomeSuccess) {
		t.Errorf("outcome = %q, want success", res.Outcome)
	}
	if res.Runs != 1 {
		t.Errorf("runs = %d, want 1", res.Runs)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(res.Messages))
	}
	if got := res.Messages[0].Text(); got != "hi there" {
		t.Errorf("user text = %q", got)
	}
	if got := res.Messages[1].Text(); got != "Hello" {
		t.Errorf("assistant text = %q", got)
	}
	if state, ok := res.State.(map[string]any); !ok || state["step"] != float64(1) {
		t.Errorf("state = %v", res.State)
	}

	// The run was journaled and is visible to the runs command.
	runs := newTestApp("", RunsCommand())
	if err := runs.run("runs", "--journal-path", journalDir, "--format", "json"); err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	var records []types.RunRecord
	if err := json.Unmarshal(runs.stdout.Bytes(), &records); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, runs.stdout.String())
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].SessionID != res.SessionID || records[0].Outcome != types.OutcomeSuccess {
		t.Errorf("record = %+v", records[0])
	}
}

func TestSend_ExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    int
		errText string
	}{
		{
			name:    "remote error frame",
			status:  http.StatusOK,
			body:    "0:\"partial\"\n3:\"overloaded\"\n",
			want:    exitRunError,
			errText: "overloaded",
		},
		{
			name:   "server rejects request",
			status: http.StatusInternalServerError,
			body:   "boom",
			want:   exitTransport,
		},
		{
			name:   "malformed frame",
			status: http.StatusOK,
			body:   "0:\"ok\"\nnot a frame\n",
			want:   exitTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newStreamServer(t, tt.status, tt.body)
			ta := newTestApp("", SendCommand())
			err := ta.run("send", "--endpoint", srv.URL, "--format", "json", "hi")
			if got := exitCodeOf(err); got != tt.want {
				t.Fatalf("exit code = %d, want %d (err: %v)", got, tt.want, err)
			}
			res := decodeSendResult(t, ta.stdout.String())
			if res.Outcome != string(types.OutcomeError) {
				t.Errorf("outcome = %q, want error", res.Outcome)
			}
			if res.Error == "" || !strings.Contains(res.Error, tt.errText) {
				t.Errorf("error = %q, want it to contain %q", res.Error, tt.errText)
			}
		})
	}
}

func TestSend_RemoteErrorKeepsPartialText(t *testing.T) {
	srv := newStreamServer(t, http.StatusOK, "0:\"partial\"\n3:\"overloaded\"\n")
	ta := newTestApp("", SendCommand())
	_ = ta.run("send", "--endpoint", srv.URL, "--format", "json", "hi")

	res := decodeSendResult(t, ta.stdout.String())
	last := res.Messages[len(res.Messages)-1]
	if last.Text() != "partial" {
		t.Errorf("text = %q, want partial", last.Text())
	}
	if last.Status.Type != types.StatusIncomplete {
		t.Errorf("status = %+v, want incomplete", last.Status)
	}
}

func TestSend_TableUsesTranscript(t *testing.T) {
	srv := newStreamServer(t, http.StatusOK, "0:\"Hello\"\n")
	ta := newTestApp("", SendCommand())
	if err := ta.run("send", "--endpoint", srv.URL, "--format", "table", "--no-color", "hi"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	want := "you>\nhi\nagent>\nHello\n"
	if got := ta.stdout.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestSend_RequiresInput(t *testing.T) {
	ta := newTestApp("", SendCommand())
	err := ta.run("send", "--endpoint", "http://127.0.0.1:1")
	if got := exitCodeOf(err); got != exitRunError {
		t.Errorf("exit code = %d, want %d", got, exitRunError)
	}
}

func TestSend_RequiresEndpoint(t *testing.T) {
	ta := newTestApp("", SendCommand())
	err := ta.run("send", "hi")
	if err == nil || !strings.Contains(err.Error(), "endpoint is required") {
		t.Errorf("err = %v, want missing endpoint", err)
	}
}

func TestSend_ConfigFile(t *testing.T) {
	var gotSystem, gotAuth string
	srv := newAgentEcho(t, func(body map[string]any, h http.Header) {
		gotSystem, _ = body["system"].(string)
		gotAuth = h.Get("Authorization")
	})

	path := writeConfig(t, `
endpoint: `+srv.URL+`
system: be brief
headers:
  Authorization: Bearer from-config
`)
	ta := newTestApp("", SendCommand())
	err := ta.run("send", "--config", path, "--header", "Authorization=Bearer from-flag", "--format", "json", "hi")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotSystem != "be brief" {
		t.Errorf("system = %q", gotSystem)
	}
	if gotAuth != "Bearer from-flag" {
		t.Errorf("Authorization = %q, flag should win", gotAuth)
	}
}
