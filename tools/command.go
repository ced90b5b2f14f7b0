package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultCommandTimeout bounds a single command tool invocation.
const DefaultCommandTimeout = 60 * time.Second

// CommandTool runs a local process per tool call.
//
// The process receives the call on stdin as JSON
// ({"tool_call_id", "tool_name", "args"}) and must write its result as a
// single JSON value to stdout. A non-zero exit produces an error result
// carrying stderr. Non-JSON stdout is returned as a string.
type CommandTool struct {
	// Command is the executable path.
	Command string
	// Args are extra command-line arguments.
	Args []string
	// Env adds KEY=VALUE entries to the inherited environment.
	Env []string
	// Dir is the working directory (default: current directory).
	Dir string
	// Timeout bounds each invocation (default DefaultCommandTimeout).
	Timeout time.Duration
}

// commandInput is the JSON structure written to the process stdin.
type commandInput struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Args       any    `json:"args"`
}

// Execute implements Executor.
func (t *CommandTool) Execute(ctx context.Context, call Call) (Result, error) {
	if t.Command == "" {
		return Result{}, errors.New("command tool has no command")
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(commandInput{
		ToolCallID: call.ToolCallID,
		ToolName:   call.ToolName,
		Args:       call.Args,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode input: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.Command, t.Args...)
	cmd.Dir = t.Dir
	cmd.WaitDelay = time.Second
	if len(t.Env) > 0 {
		cmd.Env = deduplicateEnv(append(os.Environ(), t.Env...))
	}
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("command %s: %w", t.Command, ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("failed to run command: %w", err)
		}
		code := -1
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			code = status.ExitStatus()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("command exited with code %d", code)
		}
		return Result{Value: msg, IsError: true}, nil
	}

	return Result{Value: decodeOutput(stdout.Bytes())}, nil
}

// decodeOutput returns stdout parsed as JSON, or as trimmed text if it
// is not valid JSON.
func decodeOutput(out []byte) any {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(trimmed)
}

// deduplicateEnv keeps the last occurrence of each env var key.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}

var _ Executor = (*CommandTool)(nil)
