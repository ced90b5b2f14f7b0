package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(t *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "run error with message",
			err:      cli.Exit("remote error: overloaded", 1),
			wantCode: 1,
			wantMsg:  "remote error: overloaded",
		},
		{
			name:     "transport failure",
			err:      cli.Exit("connection refused", 2),
			wantCode: 2,
			wantMsg:  "connection refused",
		},
		{
			name:     "cancelled without message",
			err:      cli.Exit("", 3),
			wantCode: 3,
			wantMsg:  "",
		},
		{
			name:     "wrapped exit coder",
			err:      fmt.Errorf("send: %w", cli.Exit("inner", 42)),
			wantCode: 42,
			wantMsg:  "inner",
		},
		{
			name:     "regular error",
			err:      errors.New("boom"),
			wantCode: 1,
			wantMsg:  "Error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	want := []string{"chat", "send", "replay", "runs", "sessions", "version"}
	if len(app.Commands) != len(want) {
		t.Fatalf("got %d commands, want %d", len(app.Commands), len(want))
	}
	for i, name := range want {
		if app.Commands[i].Name != name {
			t.Errorf("command %d = %q, want %q", i, app.Commands[i].Name, name)
		}
	}
}
