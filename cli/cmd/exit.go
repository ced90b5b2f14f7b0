package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/runtime"
	"github.com/pithecene-io/conduit/types"
)

// Exit codes for commands that run or replay a stream.
const (
	exitSuccess   = 0
	exitRunError  = 1
	exitTransport = 2
	exitCancelled = 3
)

// exitCode maps a run outcome to a process exit code. Protocol and
// remote failures are run errors.
func exitCode(status types.OutcomeStatus, err error) int {
	switch status {
	case types.OutcomeSuccess, types.OutcomeNoop, "":
		return exitSuccess
	case types.OutcomeAborted:
		return exitCancelled
	}
	if runtime.IsTransportError(err) || runtime.IsDecodeError(err) {
		return exitTransport
	}
	if runtime.IsCanceledError(err) {
		return exitCancelled
	}
	return exitRunError
}

// exitWith returns nil for success and a cli.Exit error otherwise.
func exitWith(code int, msg string) error {
	if code == exitSuccess {
		return nil
	}
	return cli.Exit(msg, code)
}
