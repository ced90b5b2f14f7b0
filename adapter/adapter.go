// Package adapter defines the notification boundary for completed runs.
//
// Adapters publish run completion notifications to downstream systems.
// The session publishes after every non-noop run; callers own adapter
// lifecycle and close it after the session is closed.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/conduit/types"
)

// EventVersion is the version of the RunCompletedEvent shape.
const EventVersion = "1"

// EventTypeRunCompleted is the only event type published today.
const EventTypeRunCompleted = "run_completed"

// RunCompletedEvent is the payload published when a run finishes.
type RunCompletedEvent struct {
	EventVersion string `json:"event_version"`
	EventType    string `json:"event_type"` // always "run_completed"
	RunID        string `json:"run_id"`
	SessionID    string `json:"session_id"`
	Seq          int    `json:"seq"`
	Endpoint     string `json:"endpoint"`
	Outcome      string `json:"outcome"` // success, error, aborted
	ErrorType    string `json:"error_type,omitempty"`
	Message      string `json:"message,omitempty"`
	Timestamp    string `json:"timestamp"` // RFC 3339
	Commands     int    `json:"commands"`
	FrameCount   int64  `json:"frame_count"`
	ToolCalls    int64  `json:"tool_calls"`
	Delivered    bool   `json:"delivered"`
	DurationMs   int64  `json:"duration_ms"`
}

// NewRunCompletedEvent builds the event for a journaled run record.
func NewRunCompletedEvent(rec *types.RunRecord) *RunCompletedEvent {
	return &RunCompletedEvent{
		EventVersion: EventVersion,
		EventType:    EventTypeRunCompleted,
		RunID:        rec.RunID,
		SessionID:    rec.SessionID,
		Seq:          rec.Seq,
		Endpoint:     rec.Endpoint,
		Outcome:      string(rec.Outcome),
		ErrorType:    rec.ErrorType,
		Message:      rec.Message,
		Timestamp:    rec.CompletedAt.UTC().Format(time.RFC3339),
		Commands:     rec.Commands,
		FrameCount:   rec.Frames,
		ToolCalls:    rec.ToolCalls,
		Delivered:    rec.Delivered,
		DurationMs:   rec.DurationMs,
	}
}

// Adapter publishes run completion events to a downstream system.
type Adapter interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
