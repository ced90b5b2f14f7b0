package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/pithecene-io/conduit/queue"
	"github.com/pithecene-io/conduit/types"
)

// RunFunc performs one run. It must flush the queue itself and return
// queue.ErrNothingQueued if there was nothing to send.
type RunFunc func(ctx context.Context) error

// SettleFunc receives the classified outcome of a run before the manager
// considers starting the next one.
type SettleFunc func(status types.OutcomeStatus, err error)

// RunManager is the Idle/Running state machine that serializes runs.
//
// Schedule starts a run when Idle. While Running, Schedule records a single
// coalesced follow-up that starts as soon as the current run settles.
// At most one run is in flight at any time.
type RunManager struct {
	run    RunFunc
	settle SettleFunc
	onIdle func()

	mu      sync.Mutex
	running bool
	pending bool
	cancel  context.CancelFunc
	// idle is closed once the manager is Idle and the idle hook has run.
	// Nil while Idle.
	idle chan struct{}
}

// NewRunManager creates an idle run manager. settle may be nil.
func NewRunManager(run RunFunc, settle SettleFunc) *RunManager {
	return &RunManager{run: run, settle: settle}
}

// OnIdle sets fn to be called, without locks held, each time the manager
// returns to Idle. Must be called before the first Schedule.
func (m *RunManager) OnIdle(fn func()) {
	m.onIdle = fn
}

// Schedule requests a run.
func (m *RunManager) Schedule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.pending = true
		return
	}
	m.startLocked()
}

func (m *RunManager) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	if m.idle == nil {
		m.idle = make(chan struct{})
	}
	go m.execute(ctx, cancel)
}

func (m *RunManager) execute(ctx context.Context, cancel context.CancelFunc) {
	err := m.run(ctx)
	status := ClassifyOutcome(ctx, err)
	cancel()

	if m.settle != nil {
		m.settle(status, err)
	}

	m.mu.Lock()
	if m.pending {
		m.pending = false
		m.startLocked()
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if m.onIdle != nil {
		m.onIdle()
	}

	// A run scheduled during the hook keeps the channel open.
	m.mu.Lock()
	if !m.running && m.idle != nil {
		close(m.idle)
		m.idle = nil
	}
	m.mu.Unlock()
}

// Cancel fires the active run's cancellation token and discards any
// pending follow-up. No-op when Idle.
func (m *RunManager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false
	if m.cancel != nil {
		m.cancel()
	}
}

// IsRunning reports whether a run is in flight.
func (m *RunManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// WaitIdle blocks until the manager is Idle with no follow-up pending,
// or ctx is done.
func (m *RunManager) WaitIdle(ctx context.Context) error {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClassifyOutcome maps a run's result to its outcome status. A run that
// returned nil succeeded even if its token fired afterwards.
func ClassifyOutcome(ctx context.Context, err error) types.OutcomeStatus {
	switch {
	case err == nil:
		return types.OutcomeSuccess
	case errors.Is(err, queue.ErrNothingQueued):
		return types.OutcomeNoop
	case ctx.Err() != nil:
		return types.OutcomeAborted
	default:
		return types.OutcomeError
	}
}
