package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// OutcomeStatus is the terminal classification of a run.
type OutcomeStatus string

// Outcome status constants.
const (
	// OutcomeSuccess: the stream ended cleanly.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeError: transport, decode, protocol or remote failure.
	OutcomeError OutcomeStatus = "error"
	// OutcomeAborted: the run's cancellation token fired.
	OutcomeAborted OutcomeStatus = "aborted"
	// OutcomeNoop: the queue was empty at flush time. Not reported as a run.
	OutcomeNoop OutcomeStatus = "noop"
)

// RunOutcome represents the terminal outcome of a run.
type RunOutcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
	// ErrorType is the error classification for OutcomeError
	// (transport, decode, protocol, remote, tool).
	ErrorType *string `json:"error_type,omitempty"`
}

// RunMeta identifies one round-trip with the remote endpoint.
type RunMeta struct {
	// RunID is a unique identifier for this run.
	RunID string `json:"run_id"`
	// SessionID identifies the session the run belongs to.
	SessionID string `json:"session_id"`
	// Seq is the 1-based ordinal of the run within its session.
	Seq int `json:"seq"`
	// StartedAt is when the run was started.
	StartedAt time.Time `json:"started_at"`
}

// NewRunMeta returns run metadata with a fresh run ID.
func NewRunMeta(sessionID string, seq int) *RunMeta {
	return &RunMeta{
		RunID:     uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq,
		StartedAt: time.Now(),
	}
}

// Validate validates run metadata.
func (m *RunMeta) Validate() error {
	if m.RunID == "" {
		return errors.New("run_id is required")
	}
	if m.SessionID == "" {
		return errors.New("session_id is required")
	}
	if m.Seq < 1 {
		return errors.New("seq must be >= 1")
	}
	return nil
}

// RunRecord is the completed-run summary journaled and published
// after every non-noop run.
type RunRecord struct {
	RunID       string        `json:"run_id"`
	SessionID   string        `json:"session_id"`
	Seq         int           `json:"seq"`
	Endpoint    string        `json:"endpoint"`
	Outcome     OutcomeStatus `json:"outcome"`
	Message     string        `json:"message,omitempty"`
	ErrorType   string        `json:"error_type,omitempty"`
	Commands    int           `json:"commands"`
	Frames      int64         `json:"frames"`
	ToolCalls   int64         `json:"tool_calls"`
	Delivered   bool          `json:"delivered"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	DurationMs  int64         `json:"duration_ms"`
	State       State         `json:"state,omitempty"`
}
