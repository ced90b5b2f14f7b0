package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pithecene-io/conduit/accumulator"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/types"
	"github.com/pithecene-io/conduit/wire"
)

// SnapshotSink consumes accumulated snapshots in frame order.
// A returned error aborts ingestion.
type SnapshotSink func(snap accumulator.Snapshot) error

// IngestionConfig configures an IngestionEngine.
type IngestionConfig struct {
	// Decoder yields frames from the response stream. Required.
	Decoder wire.Decoder
	// Accumulator folds frames. Required.
	Accumulator *accumulator.Accumulator
	// Sink receives every snapshot, including the final one at EOF.
	Sink SnapshotSink
	// Logger may be nil.
	Logger *log.Logger
	// Collector may be nil.
	Collector *metrics.Collector
}

// IngestionEngine drives one response stream through the accumulator.
//
//   - Frames are applied strictly in arrival order
//   - Malformed frames are fatal (no resync)
//   - An error frame fails the run after its snapshot is delivered
//   - Cancellation is checked before every read
type IngestionEngine struct {
	cfg       IngestionConfig
	frames    int64
	toolCalls map[string]struct{}
}

// NewIngestionEngine creates a new ingestion engine.
func NewIngestionEngine(cfg IngestionConfig) *IngestionEngine {
	if cfg.Sink == nil {
		cfg.Sink = func(accumulator.Snapshot) error { return nil }
	}
	return &IngestionEngine{cfg: cfg, toolCalls: make(map[string]struct{})}
}

// Frames returns the number of frames applied so far.
func (e *IngestionEngine) Frames() int64 {
	return e.frames
}

// ToolCalls returns the number of distinct tool calls opened by the stream.
func (e *IngestionEngine) ToolCalls() int64 {
	return int64(len(e.toolCalls))
}

// Run runs the ingestion loop until EOF or a fatal error and returns the
// last snapshot.
// Returns:
//   - nil: stream ended cleanly (EOF)
//   - *RunError with Kind=RunErrorDecode: malformed frame
//   - *RunError with Kind=RunErrorProtocol: invariant violation
//   - *RunError with Kind=RunErrorRemote: error frame
//   - *RunError with Kind=RunErrorTransport: stream read failure
//   - *RunError with Kind=RunErrorCanceled: context canceled
func (e *IngestionEngine) Run(ctx context.Context) (accumulator.Snapshot, error) {
	acc := e.cfg.Accumulator
	for {
		if err := ctx.Err(); err != nil {
			return acc.Snapshot(), &RunError{Kind: RunErrorCanceled, Err: err}
		}

		frame, err := e.cfg.Decoder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				final := acc.Finish()
				if err := e.cfg.Sink(final); err != nil {
					return final, e.fail(err)
				}
				return final, nil
			}
			return acc.Snapshot(), e.readError(ctx, err)
		}

		e.frames++
		e.cfg.Collector.IncFrame(string(frame.FrameType()))
		e.observe(frame)

		snap, err := acc.Apply(frame)
		if err != nil {
			// Deliver the failed state (e.g. an incomplete message) before
			// reporting the failure.
			snap = acc.Snapshot()
			_ = e.cfg.Sink(snap)
			return snap, e.fail(err)
		}
		if err := e.cfg.Sink(snap); err != nil {
			return snap, e.fail(err)
		}
	}
}

func (e *IngestionEngine) observe(frame types.Frame) {
	switch f := frame.(type) {
	case types.ToolCallBeginFrame:
		e.toolCalls[f.ToolCallID] = struct{}{}
	case types.ToolCallFrame:
		e.toolCalls[f.ToolCallID] = struct{}{}
	}
}

// readError classifies a decoder failure.
func (e *IngestionEngine) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &RunError{Kind: RunErrorCanceled, Err: ctx.Err()}
	}
	if wire.IsFrameError(err) {
		e.cfg.Logger.Error("frame decode error", map[string]any{
			"error": err.Error(),
			"frame": e.frames + 1,
		})
		e.cfg.Collector.IncDecodeErrors()
		return &RunError{Kind: RunErrorDecode, Err: fmt.Errorf("frame decode error: %w", err)}
	}
	e.cfg.Logger.Error("stream read error", map[string]any{"error": err.Error()})
	e.cfg.Collector.IncTransportErrors()
	return &RunError{Kind: RunErrorTransport, Err: err}
}

// fail classifies an accumulator or sink failure.
func (e *IngestionEngine) fail(err error) error {
	runErr := classifyRunError(err)
	switch runErr.Kind {
	case RunErrorProtocol:
		e.cfg.Collector.IncProtocolErrors()
		e.cfg.Logger.Error("protocol violation", map[string]any{"error": err.Error()})
	case RunErrorRemote:
		e.cfg.Collector.IncRemoteErrors()
		e.cfg.Logger.Warn("remote error", map[string]any{"error": err.Error()})
	}
	return runErr
}
