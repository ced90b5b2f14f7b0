package queue

// statsRecorder holds queue counters.
//
// Lock discipline: all fields are guarded by Queue.mu. The recorder has
// no lock of its own so that counters stay consistent with queue contents.
type statsRecorder struct {
	enqueued        int64
	flushes         int64
	flushedCommands int64
	delivered       int64
	deliveryMarks   int64
	resets          int64
	superseded      int64
	notifications   int64
}

// snapshotLocked returns a copy of the counters.
// Caller must hold Queue.mu.
func (r *statsRecorder) snapshotLocked() Stats {
	return Stats{
		Enqueued:        r.enqueued,
		Flushes:         r.flushes,
		FlushedCommands: r.flushedCommands,
		Delivered:       r.delivered,
		DeliveryMarks:   r.deliveryMarks,
		Resets:          r.resets,
		Superseded:      r.superseded,
		Notifications:   r.notifications,
	}
}
