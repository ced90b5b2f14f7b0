package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pithecene-io/conduit/accumulator"
	"github.com/pithecene-io/conduit/adapter"
	"github.com/pithecene-io/conduit/iox"
	"github.com/pithecene-io/conduit/log"
	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/queue"
	"github.com/pithecene-io/conduit/registry"
	"github.com/pithecene-io/conduit/tools"
	"github.com/pithecene-io/conduit/types"
)

// DefaultFlushTimeout bounds the journal write and adapter publish that
// follow every run.
const DefaultFlushTimeout = 10 * time.Second

// DefaultCloseTimeout bounds how long Close waits for runs and tools.
const DefaultCloseTimeout = 5 * time.Second

// Journal persists run records.
type Journal interface {
	Record(ctx context.Context, rec *types.RunRecord) error
}

// StateUpdater replaces the agent state with update(current).
type StateUpdater func(update func(types.State) types.State)

// FinishContext accompanies OnFinish.
type FinishContext struct {
	Run      *types.RunMeta
	Messages []types.Message
	State    types.State
}

// ErrorContext accompanies OnError. Commands are the in-transit batch
// whose fate is unknown; they are marked delivered after the callback.
type ErrorContext struct {
	Run         *types.RunMeta
	Commands    []types.Command
	UpdateState StateUpdater
}

// CancelContext accompanies OnCancel. Commands are the in-transit batch
// followed by everything still queued; the queue is reset after the
// callback so they will be sent again.
type CancelContext struct {
	Run         *types.RunMeta
	Commands    []types.Command
	UpdateState StateUpdater
}

// Callbacks observe the run lifecycle. Each runs on the run goroutine
// without session locks held and may call any Session method except
// WaitIdle and Close.
type Callbacks struct {
	// OnResponse is called for every accepted response before streaming.
	OnResponse func(resp *Response)
	// OnFinish is called after a run completes successfully.
	OnFinish func(fc FinishContext)
	// OnError is called after a run fails for any reason but cancellation.
	OnError func(err error, ec ErrorContext)
	// OnCancel is called after a run is cancelled.
	OnCancel func(cc CancelContext)
}

// View is the projection handed to subscribers.
type View struct {
	Messages        []types.Message
	State           types.State
	Running         bool
	PendingCommands []types.Command
}

// Options configures a Session.
type Options struct {
	// Transport sends runs. Required.
	Transport Transport
	// SessionID identifies the session. Generated if empty.
	SessionID string
	// Endpoint labels records and metrics. Defaults to the transport's
	// endpoint when it has one.
	Endpoint string
	// Tools are the locally known tools. May be nil.
	Tools *tools.Registry
	// MaxConcurrentTools bounds concurrent tool executions.
	MaxConcurrentTools int64
	// OnToolArgs observes tool argument streaming.
	OnToolArgs func(tools.ArgsEvent)
	// InitialMessages is the prior conversation. Tool calls in it are
	// never executed.
	InitialMessages []types.Message
	// InitialState is the last known agent state.
	InitialState types.State
	// Callbacks observe the run lifecycle.
	Callbacks Callbacks
	// Logger may be nil.
	Logger *log.Logger
	// Collector may be nil.
	Collector *metrics.Collector
	// Journal receives a record after every run. May be nil.
	Journal Journal
	// Adapter is notified after every run. May be nil. The caller closes it.
	Adapter adapter.Adapter
	// Registry, if set, lists the session while it is open.
	Registry *registry.Registry
	// FlushTimeout bounds post-run journal and adapter writes.
	FlushTimeout time.Duration
	// Tracer for run spans. Defaults to the global tracer provider.
	Tracer trace.Tracer
	// NewID generates message IDs. Defaults to uuid.NewString.
	NewID func() string
}

// Session owns the agent state, the command queue and the run lifecycle
// of one conversation with a remote agent endpoint.
//
// All state transitions happen under the session mutex. At most one run
// is in flight; commands enqueued meanwhile are sent by a follow-up run.
type Session struct {
	id        string
	endpoint  string
	createdAt time.Time
	opts      Options
	logger    *log.Logger
	collector *metrics.Collector
	tracer    trace.Tracer
	newID     func() string

	queue *queue.Queue
	runs  *RunManager
	tools *tools.Controller
	defs  *tools.Registry

	mu       sync.Mutex
	messages []types.Message
	state    types.State
	seq      int
	current  *runState
	closed   bool

	subMu   sync.Mutex
	subs    map[int]func(View)
	nextSub int
	// pubMu serializes subscriber delivery.
	pubMu sync.Mutex
}

// runState tracks the run in flight.
type runState struct {
	meta      *types.RunMeta
	commands  []types.Command
	history   []types.Message
	delivered bool
	logger    *log.Logger
	engine    *IngestionEngine
}

// NewSession creates an idle session.
func NewSession(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session requires a transport")
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Endpoint == "" {
		if ep, ok := opts.Transport.(interface{ Endpoint() string }); ok {
			opts.Endpoint = ep.Endpoint()
		}
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewRegistry()
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultFlushTimeout
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/pithecene-io/conduit/runtime")
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	s := &Session{
		id:        opts.SessionID,
		endpoint:  opts.Endpoint,
		createdAt: time.Now(),
		opts:      opts,
		logger:    opts.Logger,
		collector: opts.Collector,
		tracer:    opts.Tracer,
		newID:     opts.NewID,
		defs:      opts.Tools,
		messages:  types.CloneMessages(opts.InitialMessages),
		state:     opts.InitialState,
		subs:      make(map[int]func(View)),
	}
	s.runs = NewRunManager(s.run, s.settle)
	s.runs.OnIdle(s.publish)
	s.queue = queue.New(queue.WithNotify(s.runs.Schedule))
	s.tools = tools.NewController(tools.ControllerConfig{
		Registry:      opts.Tools,
		Enqueue:       s.enqueueToolResult,
		Seed:          opts.InitialMessages,
		MaxConcurrent: opts.MaxConcurrentTools,
		OnArgs:        opts.OnToolArgs,
		Logger:        opts.Logger,
		Collector:     opts.Collector,
		Tracer:        opts.Tracer,
	})

	opts.Registry.Register(s.id, s)
	s.logger.Debug("session created", map[string]any{"endpoint": s.endpoint})
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Messages returns a copy of the message history.
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneMessages(s.messages)
}

// State returns the current agent state.
func (s *Session) State() types.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether a run is in flight.
func (s *Session) IsRunning() bool {
	return s.runs.IsRunning()
}

// PendingCommands returns the in-transit commands followed by the queued
// ones, for optimistic display.
func (s *Session) PendingCommands() []types.Command {
	return s.queue.PendingCommands()
}

// Enqueue queues a command. The first command queued while idle starts a run.
func (s *Session) Enqueue(cmd types.Command) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue.Enqueue(cmd)
	s.mu.Unlock()
	s.publish()
	return nil
}

// AppendMessage queues a user message built from parts.
func (s *Session) AppendMessage(parts ...types.UserMessagePart) error {
	return s.Enqueue(types.NewUserMessage(parts...))
}

// AddToolResult queues the result of a tool call, typically one whose
// tool has no local executor.
func (s *Session) AddToolResult(toolCallID, toolName string, result tools.Result) error {
	return s.Enqueue(types.AddToolResultCommand{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Result:     result.Value,
		IsError:    result.IsError,
		Artifact:   result.Artifact,
	})
}

func (s *Session) enqueueToolResult(cmd types.Command) {
	if err := s.Enqueue(cmd); err != nil {
		s.logger.Warn("tool result dropped", map[string]any{"error": err.Error()})
	}
}

// Cancel cancels the run in flight and every running tool execution.
func (s *Session) Cancel() {
	s.runs.Cancel()
	s.tools.Abort()
}

// WaitIdle blocks until no run is in flight and no tool is executing,
// including follow-up runs started by tool results.
func (s *Session) WaitIdle(ctx context.Context) error {
	for {
		if err := s.runs.WaitIdle(ctx); err != nil {
			return err
		}
		if err := s.tools.Wait(ctx); err != nil {
			return err
		}
		if !s.runs.IsRunning() && s.tools.Inflight() == 0 {
			return nil
		}
	}
}

// Subscribe registers fn to receive a View after every change.
// Calls are serialized; fn may read the session but must not modify it.
// The returned func unsubscribes.
func (s *Session) Subscribe(fn func(View)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// View returns the current projection.
func (s *Session) View() View {
	s.mu.Lock()
	v := View{Messages: types.CloneMessages(s.messages), State: s.state}
	s.mu.Unlock()
	v.Running = s.runs.IsRunning()
	v.PendingCommands = s.queue.PendingCommands()
	return v
}

func (s *Session) publish() {
	s.subMu.Lock()
	if len(s.subs) == 0 {
		s.subMu.Unlock()
		return
	}
	subs := make([]func(View), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	v := s.View()
	for _, fn := range subs {
		fn(v)
	}
}

// Inspect implements registry.Source.
func (s *Session) Inspect() registry.Entry {
	s.absorbQueueStats()
	s.mu.Lock()
	entry := registry.Entry{
		ID:        s.id,
		Endpoint:  s.endpoint,
		CreatedAt: s.createdAt,
		Messages:  len(s.messages),
		State:     s.state,
	}
	s.mu.Unlock()
	entry.Running = s.runs.IsRunning()
	entry.PendingCommands = len(s.queue.PendingCommands())
	entry.Metrics = s.collector.Snapshot()
	return entry
}

// Close cancels any run and tool execution, waits for them to settle and
// unregisters the session. Further Enqueue calls fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultCloseTimeout)
	defer cancel()

	s.runs.Cancel()
	err := errors.Join(s.tools.Close(ctx), s.runs.WaitIdle(ctx))
	s.opts.Registry.Unregister(s.id)
	s.absorbQueueStats()
	s.logger.Debug("session closed", nil)
	return err
}

// run is the RunFunc: flush, project, send and ingest.
func (s *Session) run(ctx context.Context) error {
	commands, err := s.queue.Flush()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	meta := types.NewRunMeta(s.id, s.seq)
	rs := &runState{
		meta:     meta,
		commands: commands,
		history:  s.messages,
		logger:   s.logger.WithRun(meta.RunID, meta.Seq),
	}
	s.messages = project(s.messages, commands, s.newID)
	messages := s.messages
	state := s.state
	s.current = rs
	s.mu.Unlock()

	s.collector.IncRunStarted()
	rs.logger.Info("run started", map[string]any{"commands": len(commands)})
	s.publish()

	ctx, span := s.tracer.Start(ctx, "conduit.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("conduit.session_id", s.id),
			attribute.String("conduit.run_id", meta.RunID),
			attribute.Int("conduit.seq", meta.Seq),
		),
	)
	defer span.End()

	err = s.stream(ctx, rs, messages, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
	}
	return err
}

func (s *Session) stream(ctx context.Context, rs *runState, messages []types.Message, state types.State) error {
	resp, err := s.opts.Transport.Send(ctx, &Request{
		Run:      rs.meta,
		Commands: rs.commands,
		State:    state,
		Tools:    s.defs.Schemas(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return &RunError{Kind: RunErrorCanceled, Err: ctx.Err()}
		}
		s.collector.IncTransportErrors()
		rs.logger.Error("request failed", map[string]any{"error": err.Error()})
		return classifyRunError(err)
	}
	defer iox.DiscardClose(resp.Body)

	if cb := s.opts.Callbacks.OnResponse; cb != nil {
		cb(resp)
	}

	rs.engine = NewIngestionEngine(IngestionConfig{
		Decoder: resp.Decoder,
		Accumulator: accumulator.New(accumulator.Config{
			Messages: messages,
			State:    state,
			NewID:    s.newID,
		}),
		Sink:      func(snap accumulator.Snapshot) error { return s.apply(rs, snap) },
		Logger:    rs.logger,
		Collector: s.collector,
	})
	_, err = rs.engine.Run(ctx)
	return err
}

// apply commits one snapshot. The first state change of a run marks the
// in-transit commands delivered.
func (s *Session) apply(rs *runState, snap accumulator.Snapshot) error {
	s.mu.Lock()
	if !types.StatesEqual(snap.State, s.state) {
		if !rs.delivered {
			s.queue.MarkDelivered()
			rs.delivered = true
		}
		s.state = snap.State
		s.collector.IncStateChanges()
	}
	s.messages = snap.Messages
	s.mu.Unlock()

	s.publish()
	return s.tools.Process(snap.Messages)
}

// settle is the SettleFunc: it applies the queue policy for the outcome,
// runs callbacks and records the run.
func (s *Session) settle(status types.OutcomeStatus, err error) {
	if status == types.OutcomeNoop {
		s.collector.IncRunNoop()
		s.logger.Debug("nothing queued, run skipped", nil)
		return
	}

	s.mu.Lock()
	rs := s.current
	s.current = nil
	s.mu.Unlock()

	outcome := DetermineOutcome(status, err)

	switch status {
	case types.OutcomeSuccess:
		s.collector.IncRunSucceeded()
		if !rs.delivered {
			rs.logger.Debug("run left state unchanged, commands stay in transit", map[string]any{
				"commands": len(rs.commands),
			})
		}
		rs.logger.Info("run completed", nil)
		if cb := s.opts.Callbacks.OnFinish; cb != nil {
			cb(FinishContext{Run: rs.meta, Messages: s.Messages(), State: s.State()})
		}

	case types.OutcomeAborted:
		s.collector.IncRunAborted()
		s.mu.Lock()
		if rs.delivered {
			interrupt(s.messages, types.MessageStatus{Type: types.StatusIncomplete, Reason: "cancelled"})
		} else {
			s.messages = rs.history
		}
		s.mu.Unlock()
		commands := s.queue.PendingCommands()
		rs.logger.Info("run cancelled", map[string]any{"commands": len(commands)})
		if cb := s.opts.Callbacks.OnCancel; cb != nil {
			cb(CancelContext{Run: rs.meta, Commands: commands, UpdateState: s.updateState})
		}
		s.queue.Reset()

	default:
		s.collector.IncRunFailed()
		runErr := classifyRunError(err)
		s.mu.Lock()
		interrupt(s.messages, types.MessageStatus{Type: types.StatusIncomplete, Reason: "error", Error: runErr.Error()})
		s.mu.Unlock()
		commands := s.queue.InTransit()
		rs.logger.Error("run failed", map[string]any{
			"error":      runErr.Error(),
			"error_type": runErr.Kind.String(),
			"commands":   len(commands),
		})
		if cb := s.opts.Callbacks.OnError; cb != nil {
			cb(runErr, ErrorContext{Run: rs.meta, Commands: commands, UpdateState: s.updateState})
		}
		s.queue.MarkDelivered()
	}

	s.absorbQueueStats()
	s.publish()
	s.record(rs, outcome)
}

func (s *Session) updateState(update func(types.State) types.State) {
	s.mu.Lock()
	s.state = update(s.state)
	s.mu.Unlock()
	s.publish()
}

func (s *Session) absorbQueueStats() {
	st := s.queue.Stats()
	s.collector.AbsorbQueueStats(st.Enqueued, st.FlushedCommands, st.Delivered, st.Resets)
}

// record writes the run to the journal and notifies the adapter.
// Both are best effort: failures are logged and counted.
func (s *Session) record(rs *runState, outcome *types.RunOutcome) {
	if s.opts.Journal == nil && s.opts.Adapter == nil {
		return
	}

	completed := time.Now()
	rec := &types.RunRecord{
		RunID:       rs.meta.RunID,
		SessionID:   rs.meta.SessionID,
		Seq:         rs.meta.Seq,
		Endpoint:    s.endpoint,
		Outcome:     outcome.Status,
		Message:     outcome.Message,
		Commands:    len(rs.commands),
		Delivered:   rs.delivered,
		StartedAt:   rs.meta.StartedAt,
		CompletedAt: completed,
		DurationMs:  completed.Sub(rs.meta.StartedAt).Milliseconds(),
		State:       s.State(),
	}
	if outcome.ErrorType != nil {
		rec.ErrorType = *outcome.ErrorType
	}
	if rs.engine != nil {
		rec.Frames = rs.engine.Frames()
		rec.ToolCalls = rs.engine.ToolCalls()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FlushTimeout)
	defer cancel()

	if s.opts.Journal != nil {
		if err := s.opts.Journal.Record(ctx, rec); err != nil {
			s.collector.IncJournalWriteFailure()
			rs.logger.Warn("journal write failed", map[string]any{"error": err.Error()})
		} else {
			s.collector.IncJournalWriteSuccess()
		}
	}
	if s.opts.Adapter != nil {
		if err := s.opts.Adapter.Publish(ctx, adapter.NewRunCompletedEvent(rec)); err != nil {
			s.collector.IncAdapterPublishFailure()
			rs.logger.Warn("adapter publish failed", map[string]any{"error": err.Error()})
		} else {
			s.collector.IncAdapterPublishSuccess()
		}
	}
}

// project appends queued messages and applies queued tool results to a
// copy of history.
func project(history []types.Message, commands []types.Command, newID func() string) []types.Message {
	msgs := types.CloneMessages(history)
	for _, cmd := range commands {
		switch c := cmd.(type) {
		case types.AddMessageCommand:
			msgs = append(msgs, types.MessageFromCommand(newID(), c))
		case types.AddToolResultCommand:
			types.ApplyToolResult(msgs, c)
		}
	}
	return msgs
}

// interrupt sets status on the trailing assistant message if it is still
// running.
func interrupt(msgs []types.Message, status types.MessageStatus) {
	if len(msgs) == 0 {
		return
	}
	last := &msgs[len(msgs)-1]
	if last.Role == types.RoleAssistant && last.Status.Type == types.StatusRunning {
		last.Status = status
	}
}

var _ registry.Source = (*Session)(nil)
