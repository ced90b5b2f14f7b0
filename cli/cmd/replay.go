package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/conduit/accumulator"
	"github.com/pithecene-io/conduit/cli/render"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/runtime"
	"github.com/pithecene-io/conduit/types"
	"github.com/pithecene-io/conduit/wire"
)

// ReplayResult is the rendered result of the replay command.
type ReplayResult struct {
	File      string          `json:"file"`
	Outcome   string          `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	Frames    int64           `json:"frames"`
	ToolCalls int64           `json:"tool_calls"`
	Messages  []types.Message `json:"messages"`
	State     types.State     `json:"state,omitempty"`
}

// ReplayCommand returns the replay command.
// It folds a captured response stream through the decoder and
// accumulator without contacting an endpoint.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Decode a captured response stream offline",
		ArgsUsage: "<file|->",
		Flags: append(OutputFlags(),
			LogLevelFlag,
			&cli.StringFlag{
				Name:  "content-type",
				Usage: "Stream content type (default: msgpack for .msgpack/.mpk files, data stream otherwise)",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Agent state before the stream, as JSON",
			},
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one file argument", exitRunError)
	}
	path := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	logger, err := log.New("", log.Options{Output: errWriter(c), Level: c.String("log-level")})
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var state types.State
	if raw := c.String("state"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return fmt.Errorf("invalid --state JSON: %w", err)
		}
	}

	var in io.Reader
	if path == "-" {
		in = inReader(c)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot open stream: %v", err), exitTransport)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	engine := runtime.NewIngestionEngine(runtime.IngestionConfig{
		Decoder:     wire.NewDecoderForContentType(replayContentType(path, c.String("content-type")), in),
		Accumulator: accumulator.New(accumulator.Config{State: state}),
		Logger:      logger.With("file", path),
		Collector:   metrics.NewCollector("replay", path, "none"),
	})
	snap, runErr := engine.Run(c.Context)

	status := types.OutcomeSuccess
	switch {
	case runErr == nil:
	case runtime.IsCanceledError(runErr):
		status = types.OutcomeAborted
	default:
		status = types.OutcomeError
	}

	result := ReplayResult{
		File:      path,
		Outcome:   string(status),
		Frames:    engine.Frames(),
		ToolCalls: engine.ToolCalls(),
		Messages:  snap.Messages,
		State:     snap.State,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	if r.Format() == render.FormatTable {
		tr := render.NewTranscript(r.Writer(), r.NoColor())
		tr.Messages(result.Messages)
		tr.Notice("%d frame(s), %d tool call(s)", result.Frames, result.ToolCalls)
		if runErr != nil {
			tr.Error(runErr)
		}
	} else if err := r.Render(result); err != nil {
		return err
	}

	return exitWith(exitCode(status, runErr), "")
}

// replayContentType picks the codec for a capture file. An explicit
// content type wins over the file extension.
func replayContentType(path, explicit string) string {
	if explicit != "" {
		return explicit
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		return wire.ContentTypeMsgpack
	default:
		return wire.ContentTypeDataStream
	}
}
