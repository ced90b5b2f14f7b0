package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/types"
)

// DefaultMaxConcurrent is the default bound on concurrent tool executions.
const DefaultMaxConcurrent = 4

// ArgsEvent describes progress of a tool call's argument stream.
type ArgsEvent struct {
	ToolCallID string
	ToolName   string
	// Delta is the newly appended argument text. Empty on close.
	Delta string
	// Closed is set once the arguments are complete.
	Closed bool
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Registry resolves tool definitions. Required.
	Registry *Registry
	// Enqueue receives every tool result. Required.
	// Called from tool goroutines.
	Enqueue func(types.Command)
	// Seed is the message history at construction. Tool calls found in it
	// are never streamed or executed.
	Seed []types.Message
	// MaxConcurrent bounds concurrent executions (default DefaultMaxConcurrent).
	MaxConcurrent int64
	// OnArgs, if set, observes argument streaming. It runs with the
	// controller lock held and must not call back into the controller.
	OnArgs func(ArgsEvent)
	// Logger for execution events. May be nil.
	Logger *log.Logger
	// Collector records tool metrics. May be nil.
	Collector *metrics.Collector
	// Tracer for tool spans. Defaults to the global tracer provider.
	Tracer trace.Tracer
}

// Controller drives client-side tool execution from accumulated messages.
//
// Process is called with every message snapshot. For each tool-call part
// not present at construction, the controller tracks the argument text,
// enforces that it only ever grows by appending, and starts execution
// once the text parses as a complete JSON value. Results are reported
// through Enqueue exactly once per executed call.
type Controller struct {
	cfg ControllerConfig
	sem *semaphore.Weighted

	mu      sync.Mutex
	ignored map[string]struct{}
	calls   map[string]*callState
	// ctx is the shared execution token, replaced on every Abort.
	ctx    context.Context
	cancel context.CancelFunc

	inflight int
	idle     chan struct{}
}

type callState struct {
	name     string
	argsText string
	closed   bool
}

// NewController creates a tool invocation controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/pithecene-io/conduit/tools")
	}

	ignored := make(map[string]struct{})
	for _, m := range cfg.Seed {
		for _, p := range m.Parts {
			if p.IsToolCall() {
				ignored[p.ToolCallID] = struct{}{}
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		ignored: ignored,
		calls:   make(map[string]*callState),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Process inspects messages for new or updated tool-call parts.
// Returns a *types.ProtocolError if a tool call's argument text changed
// other than by appending. Parts processed before the violation keep
// their effects.
func (c *Controller) Process(messages []types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range messages {
		for _, p := range m.Parts {
			if !p.IsToolCall() {
				continue
			}
			if _, skip := c.ignored[p.ToolCallID]; skip {
				continue
			}
			if err := c.observeLocked(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Controller) observeLocked(p types.Part) error {
	st, seen := c.calls[p.ToolCallID]
	if !seen {
		st = &callState{name: p.ToolName}
		c.calls[p.ToolCallID] = st
	}

	if p.ArgsText != st.argsText {
		if !strings.HasPrefix(p.ArgsText, st.argsText) {
			return types.NewArgsRewriteError(p.ToolCallID, st.argsText, p.ArgsText)
		}
		delta := p.ArgsText[len(st.argsText):]
		st.argsText = p.ArgsText
		if !st.closed {
			c.emit(ArgsEvent{ToolCallID: p.ToolCallID, ToolName: st.name, Delta: delta})
		}
	}

	if st.closed {
		return nil
	}
	if p.HasResult {
		// Resolved elsewhere: by the server or by the client application.
		st.closed = true
		c.emit(ArgsEvent{ToolCallID: p.ToolCallID, ToolName: st.name, Closed: true})
		return nil
	}
	if !json.Valid([]byte(st.argsText)) {
		return nil
	}

	st.closed = true
	c.emit(ArgsEvent{ToolCallID: p.ToolCallID, ToolName: st.name, Closed: true})
	c.startLocked(p.ToolCallID, st)
	return nil
}

func (c *Controller) emit(ev ArgsEvent) {
	if c.cfg.OnArgs != nil {
		c.cfg.OnArgs(ev)
	}
}

// startLocked launches execution of a call whose arguments are complete.
// Caller must hold c.mu.
func (c *Controller) startLocked(id string, st *callState) {
	tool, ok := c.cfg.Registry.Lookup(st.name)
	switch {
	case !ok:
		c.cfg.Logger.Debug("tool not registered locally, awaiting external result", map[string]any{
			"tool_call_id": id,
			"tool":         st.name,
		})
		return
	case tool.Disabled:
		c.cfg.Logger.Warn("tool call for disabled tool ignored", map[string]any{
			"tool_call_id": id,
			"tool":         st.name,
		})
		return
	case tool.Executor == nil:
		c.cfg.Logger.Debug("tool requires client-supplied result", map[string]any{
			"tool_call_id": id,
			"tool":         st.name,
		})
		return
	}

	call := Call{ToolCallID: id, ToolName: st.name, ArgsText: st.argsText}
	_ = json.Unmarshal([]byte(st.argsText), &call.Args)

	if c.inflight == 0 {
		c.idle = make(chan struct{})
	}
	c.inflight++
	go c.execute(c.ctx, tool, call)
}

func (c *Controller) execute(ctx context.Context, tool Tool, call Call) {
	defer c.done()

	fields := map[string]any{"tool_call_id": call.ToolCallID, "tool": call.ToolName}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.cfg.Collector.IncToolCancelled()
		c.cfg.Logger.Info("tool execution cancelled before start", fields)
		return
	}
	defer c.sem.Release(1)

	ctx, span := c.cfg.Tracer.Start(ctx, "tools.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tools.tool", call.ToolName),
			attribute.String("tools.tool_call_id", call.ToolCallID),
		),
	)
	defer span.End()

	c.cfg.Collector.IncToolStarted()
	c.cfg.Logger.Debug("tool execution started", fields)

	var result Result
	if err := c.cfg.Registry.ValidateArgs(call.ToolName, call.Args); err != nil {
		result = Result{Value: err.Error(), IsError: true}
	} else {
		res, err := tool.Executor.Execute(ctx, call)
		if ctx.Err() != nil {
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "tool execution cancelled")
			c.cfg.Collector.IncToolCancelled()
			c.cfg.Logger.Info("tool execution cancelled", fields)
			return
		}
		if err != nil {
			result = Result{Value: err.Error(), IsError: true}
		} else {
			result = res
		}
	}

	if result.IsError {
		span.SetStatus(codes.Error, "tool returned error result")
		c.cfg.Collector.IncToolFailed()
		fields["error"] = result.Value
		c.cfg.Logger.Warn("tool execution failed", fields)
	} else {
		c.cfg.Collector.IncToolSucceeded()
		c.cfg.Logger.Debug("tool execution completed", fields)
	}

	c.cfg.Enqueue(types.AddToolResultCommand{
		ToolCallID: call.ToolCallID,
		ToolName:   call.ToolName,
		Result:     result.Value,
		IsError:    result.IsError,
		Artifact:   result.Artifact,
	})
}

func (c *Controller) done() {
	c.mu.Lock()
	c.inflight--
	if c.inflight == 0 {
		close(c.idle)
	}
	c.mu.Unlock()
}

// Abort cancels every running execution and re-arms the token so that
// later calls run normally. Cancelled executions report no result.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// Inflight returns the number of executions not yet finished.
func (c *Controller) Inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// Wait blocks until no executions are in flight or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.inflight == 0 {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close aborts all executions and waits for them to exit.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	return c.Wait(ctx)
}
