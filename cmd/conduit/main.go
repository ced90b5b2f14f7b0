// Package main provides the conduit CLI entrypoint.
//
// Usage:
//
//	conduit <command> [options]
//
// Exit codes for `send` and `replay`:
//   - 0: success
//   - 1: run error (protocol violation, remote error frame)
//   - 2: transport or decode failure
//   - 3: cancelled
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/cli/cmd"
	"github.com/pithecene-io/conduit/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "conduit",
		Usage:          "Streaming agent transport runtime CLI",
		Version:        fmt.Sprintf("%s (protocol %s, commit: %s)", types.Version, types.ProtocolVersion, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ChatCommand(),
			cmd.SendCommand(),
			cmd.ReplayCommand(),
			cmd.RunsCommand(),
			cmd.SessionsCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler prints the error, if any, and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus extracts the exit code and printable message from err.
// cli.Exit("", N) carries no message worth printing.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
