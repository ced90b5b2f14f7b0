package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/cli/render"
	"github.com/pithecene-io/conduit/runtime"
	"github.com/pithecene-io/conduit/types"
)

// SendResult is the rendered result of the send command.
type SendResult struct {
	SessionID string          `json:"session_id"`
	Outcome   string          `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	Runs      int             `json:"runs"`
	Messages  []types.Message `json:"messages"`
	State     types.State     `json:"state,omitempty"`
}

// SendCommand returns the send command.
// It sends one user message, waits until the session is idle (including
// follow-up runs for tool results) and renders the conversation.
func SendCommand() *cli.Command {
	flags := append(OutputFlags(), sessionFlags()...)
	flags = append(flags,
		&cli.StringSliceFlag{
			Name:  "image",
			Usage: "Image URL to attach (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Cancel the session after this long (0 = no limit)",
		},
	)
	return &cli.Command{
		Name:      "send",
		Usage:     "Send one message and wait for the agent to finish",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action:    sendAction,
	}
}

func sendAction(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	images := c.StringSlice("image")
	if text == "" && len(images) == 0 {
		return cli.Exit("send requires message text or --image", exitRunError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	setup, err := newSessionSetup(c, runtime.Callbacks{})
	if err != nil {
		return err
	}
	defer func() { _ = setup.Close() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var parts []types.UserMessagePart
	if text != "" {
		parts = append(parts, types.TextPart(text))
	}
	for _, img := range images {
		parts = append(parts, types.ImagePart(img))
	}

	// Interrupts cancel the session; the wait continues until it settles.
	unwatch := context.AfterFunc(ctx, setup.session.Cancel)
	defer unwatch()

	if err := setup.session.AppendMessage(parts...); err != nil {
		return err
	}
	if err := setup.session.WaitIdle(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	last := setup.tracker.Last()
	result := SendResult{
		SessionID: setup.session.ID(),
		Outcome:   string(last.Status),
		Runs:      last.Runs,
		Messages:  setup.session.Messages(),
		State:     setup.session.State(),
	}
	if last.Err != nil {
		result.Error = last.Err.Error()
	}

	if r.Format() == render.FormatTable {
		tr := render.NewTranscript(r.Writer(), r.NoColor())
		tr.Messages(result.Messages)
		if last.Err != nil {
			tr.Error(last.Err)
		}
	} else if err := r.Render(result); err != nil {
		return err
	}

	return exitWith(exitCode(last.Status, last.Err), "")
}
