package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/cli/render"
	"github.com/pithecene-io/conduit/runtime"
	"github.com/pithecene-io/conduit/types"
)

const chatHelp = "commands: /state, /pending, /cancel, /quit"

// ChatCommand returns the chat command.
// Each input line is sent as a user message. Assistant output streams as
// it arrives; an interrupt cancels the run in flight, or exits when idle.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:   "chat",
		Usage:  "Interactive session over stdin",
		Flags:  append([]cli.Flag{NoColorFlag}, sessionFlags()...),
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	tr := render.NewTranscript(outWriter(c), c.Bool("no-color"))

	setup, err := newSessionSetup(c, runtime.Callbacks{
		OnError: func(err error, _ runtime.ErrorContext) {
			tr.Error(err)
		},
		OnCancel: func(cc runtime.CancelContext) {
			if n := len(cc.Commands); n > 0 {
				tr.Notice("cancelled, %d command(s) will be resent with the next message", n)
				return
			}
			tr.Notice("cancelled")
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = setup.Close() }()

	printer := newStreamPrinter(tr)
	unsubscribe := setup.session.Subscribe(printer.update)
	defer unsubscribe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	tr.Notice("session %s (%s)", setup.session.ID(), chatHelp)
	lines := readLines(inReader(c))
	for {
		select {
		case <-c.Context.Done():
			return nil
		case <-sigCh:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleChatLine(c.Context, setup.session, tr, sigCh, line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// handleChatLine runs one input line. It reports whether the user asked
// to quit.
func handleChatLine(ctx context.Context, s *runtime.Session, tr *render.Transcript, sigCh <-chan os.Signal, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/help":
		tr.Notice(chatHelp)
		return false, nil
	case "/cancel":
		s.Cancel()
		return false, nil
	case "/pending":
		tr.Notice("%d pending command(s)", len(s.PendingCommands()))
		return false, nil
	case "/state":
		data, err := json.MarshalIndent(s.State(), "", "  ")
		if err != nil {
			return false, err
		}
		tr.Notice("%s", data)
		return false, nil
	}

	if err := s.AppendMessage(types.TextPart(line)); err != nil {
		return false, err
	}
	return false, waitIdle(ctx, s, sigCh)
}

// waitIdle waits for the session to settle, cancelling it on interrupt.
func waitIdle(ctx context.Context, s *runtime.Session, sigCh <-chan os.Signal) error {
	done := make(chan error, 1)
	go func() { done <- s.WaitIdle(ctx) }()
	for {
		select {
		case err := <-done:
			return err
		case <-sigCh:
			s.Cancel()
		}
	}
}

// readLines delivers lines from r until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// streamPrinter streams assistant messages from session views.
type streamPrinter struct {
	tr    *render.Transcript
	mu    sync.Mutex
	ended map[string]bool
}

func newStreamPrinter(tr *render.Transcript) *streamPrinter {
	return &streamPrinter{tr: tr, ended: make(map[string]bool)}
}

func (p *streamPrinter) update(v runtime.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range v.Messages {
		if m.Role != types.RoleAssistant {
			continue
		}
		running := m.Status.Type == types.StatusRunning
		if p.ended[m.ID] {
			if !running {
				continue
			}
			// A follow-up run continues the message.
			delete(p.ended, m.ID)
		}
		p.tr.Stream(m)
		if !running {
			p.tr.EndStream(m)
			p.ended[m.ID] = true
		}
	}
}
