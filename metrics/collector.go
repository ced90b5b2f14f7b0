// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters over the lifetime of a session. It is a
// leaf package with no internal dependencies. Queue metrics are absorbed from
// queue.Stats when a snapshot is taken rather than recorded live, avoiding
// double-counting.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64 `json:"runs_started"`
	RunsSucceeded int64 `json:"runs_succeeded"`
	RunsFailed    int64 `json:"runs_failed"`
	RunsAborted   int64 `json:"runs_aborted"`
	RunsNoop      int64 `json:"runs_noop"`

	// Stream
	FramesDecoded   int64            `json:"frames_decoded"`
	FramesByType    map[string]int64 `json:"frames_by_type"`
	DecodeErrors    int64            `json:"decode_errors"`
	ProtocolErrors  int64            `json:"protocol_errors"`
	TransportErrors int64            `json:"transport_errors"`
	RemoteErrors    int64            `json:"remote_errors"`
	StateChanges    int64            `json:"state_changes"`

	// Tools
	ToolsStarted   int64 `json:"tools_started"`
	ToolsSucceeded int64 `json:"tools_succeeded"`
	ToolsFailed    int64 `json:"tools_failed"`
	ToolsCancelled int64 `json:"tools_cancelled"`

	// Queue (absorbed from queue.Stats)
	CommandsEnqueued  int64 `json:"commands_enqueued"`
	CommandsFlushed   int64 `json:"commands_flushed"`
	CommandsDelivered int64 `json:"commands_delivered"`
	QueueResets       int64 `json:"queue_resets"`

	// Journal / adapter
	JournalWriteSuccess   int64 `json:"journal_write_success"`
	JournalWriteFailure   int64 `json:"journal_write_failure"`
	AdapterPublishSuccess int64 `json:"adapter_publish_success"`
	AdapterPublishFailure int64 `json:"adapter_publish_failure"`

	// Dimensions (informational, set at construction)
	SessionID      string `json:"session_id"`
	Endpoint       string `json:"endpoint"`
	StorageBackend string `json:"storage_backend"`
}

// Collector accumulates metrics during a session.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsSucceeded int64
	runsFailed    int64
	runsAborted   int64
	runsNoop      int64

	framesDecoded   int64
	framesByType    map[string]int64
	decodeErrors    int64
	protocolErrors  int64
	transportErrors int64
	remoteErrors    int64
	stateChanges    int64

	toolsStarted   int64
	toolsSucceeded int64
	toolsFailed    int64
	toolsCancelled int64

	commandsEnqueued  int64
	commandsFlushed   int64
	commandsDelivered int64
	queueResets       int64

	journalWriteSuccess   int64
	journalWriteFailure   int64
	adapterPublishSuccess int64
	adapterPublishFailure int64

	sessionID      string
	endpoint       string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend is empty when no journal is configured.
func NewCollector(sessionID, endpoint, storageBackend string) *Collector {
	return &Collector{
		framesByType:   make(map[string]int64),
		sessionID:      sessionID,
		endpoint:       endpoint,
		storageBackend: storageBackend,
	}
}

func (c *Collector) inc(field *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.inc(&c.runsStarted)
}

// IncRunSucceeded records a run whose stream ended cleanly.
func (c *Collector) IncRunSucceeded() {
	if c == nil {
		return
	}
	c.inc(&c.runsSucceeded)
}

// IncRunFailed records a run that ended in error.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.inc(&c.runsFailed)
}

// IncRunAborted records a cancelled run.
func (c *Collector) IncRunAborted() {
	if c == nil {
		return
	}
	c.inc(&c.runsAborted)
}

// IncRunNoop records a scheduled run that found nothing to send.
func (c *Collector) IncRunNoop() {
	if c == nil {
		return
	}
	c.inc(&c.runsNoop)
}

// --- Stream ---

// IncFrame records a decoded frame of the given type.
func (c *Collector) IncFrame(frameType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesDecoded++
	c.framesByType[frameType]++
	c.mu.Unlock()
}

// IncDecodeErrors records a malformed stream.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.inc(&c.decodeErrors)
}

// IncProtocolErrors records a protocol violation.
func (c *Collector) IncProtocolErrors() {
	if c == nil {
		return
	}
	c.inc(&c.protocolErrors)
}

// IncTransportErrors records a failed request or non-2xx response.
func (c *Collector) IncTransportErrors() {
	if c == nil {
		return
	}
	c.inc(&c.transportErrors)
}

// IncRemoteErrors records an error frame.
func (c *Collector) IncRemoteErrors() {
	if c == nil {
		return
	}
	c.inc(&c.remoteErrors)
}

// IncStateChanges records an observed agent state change.
func (c *Collector) IncStateChanges() {
	if c == nil {
		return
	}
	c.inc(&c.stateChanges)
}

// --- Tools ---

// IncToolStarted records the start of a tool execution.
func (c *Collector) IncToolStarted() {
	if c == nil {
		return
	}
	c.inc(&c.toolsStarted)
}

// IncToolSucceeded records a tool execution that produced a result.
func (c *Collector) IncToolSucceeded() {
	if c == nil {
		return
	}
	c.inc(&c.toolsSucceeded)
}

// IncToolFailed records a tool execution reported as an error result.
func (c *Collector) IncToolFailed() {
	if c == nil {
		return
	}
	c.inc(&c.toolsFailed)
}

// IncToolCancelled records a tool execution cancelled by abort.
func (c *Collector) IncToolCancelled() {
	if c == nil {
		return
	}
	c.inc(&c.toolsCancelled)
}

// --- Journal / adapter ---
// Journal counters are per-call: one write per completed run.

// IncJournalWriteSuccess records a successful journal write.
func (c *Collector) IncJournalWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.journalWriteSuccess)
}

// IncJournalWriteFailure records a failed journal write.
func (c *Collector) IncJournalWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.journalWriteFailure)
}

// IncAdapterPublishSuccess records a successful adapter publish.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.adapterPublishSuccess)
}

// IncAdapterPublishFailure records a failed adapter publish.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.inc(&c.adapterPublishFailure)
}

// --- Queue (absorbed from queue.Stats) ---

// AbsorbQueueStats copies queue counters into the collector.
// The values are cumulative; each call overwrites the previous values.
func (c *Collector) AbsorbQueueStats(enqueued, flushed, delivered, resets int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsEnqueued = enqueued
	c.commandsFlushed = flushed
	c.commandsDelivered = delivered
	c.queueResets = resets
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsSucceeded: c.runsSucceeded,
		RunsFailed:    c.runsFailed,
		RunsAborted:   c.runsAborted,
		RunsNoop:      c.runsNoop,

		FramesDecoded:   c.framesDecoded,
		FramesByType:    maps.Clone(c.framesByType),
		DecodeErrors:    c.decodeErrors,
		ProtocolErrors:  c.protocolErrors,
		TransportErrors: c.transportErrors,
		RemoteErrors:    c.remoteErrors,
		StateChanges:    c.stateChanges,

		ToolsStarted:   c.toolsStarted,
		ToolsSucceeded: c.toolsSucceeded,
		ToolsFailed:    c.toolsFailed,
		ToolsCancelled: c.toolsCancelled,

		CommandsEnqueued:  c.commandsEnqueued,
		CommandsFlushed:   c.commandsFlushed,
		CommandsDelivered: c.commandsDelivered,
		QueueResets:       c.queueResets,

		JournalWriteSuccess:   c.journalWriteSuccess,
		JournalWriteFailure:   c.journalWriteFailure,
		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		SessionID:      c.sessionID,
		Endpoint:       c.endpoint,
		StorageBackend: c.storageBackend,
	}
}
