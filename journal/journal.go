// Package journal persists completed-run records to a lode dataset.
//
// Records are JSONL, Hive-partitioned by day and session_id, and stored on
// the local filesystem or S3. One snapshot is written per run. Query reads
// snapshots newest first and is used by the runs command.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/conduit/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "conduit"

// RecordKindRun discriminates run records within the dataset.
const RecordKindRun = "run"

// dayFormat is the layout of the day partition key.
const dayFormat = "2006-01-02"

// Journal writes and queries run records.
// Safe for concurrent use.
type Journal struct {
	ds lode.Dataset
}

// New creates a journal over the given store factory.
func New(dataset string, factory lode.StoreFactory) (*Journal, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("day", "session_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap("init", dataset, err)
	}
	return &Journal{ds: ds}, nil
}

// NewFS creates a journal rooted at a local directory.
func NewFS(dataset, root string) (*Journal, error) {
	return New(dataset, lode.NewFSFactory(root))
}

// Dataset returns the dataset ID.
func (j *Journal) Dataset() string {
	return string(j.ds.ID())
}

// Record writes one run record as its own snapshot.
func (j *Journal) Record(ctx context.Context, rec *types.RunRecord) error {
	record, err := toRecordMap(rec)
	if err != nil {
		return fmt.Errorf("journal: encode record: %w", err)
	}
	if _, err := j.ds.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return wrap("write", rec.SessionID+"/"+rec.RunID, err)
	}
	return nil
}

// toRecordMap flattens a record into the map form the Hive layout
// partitions on.
func toRecordMap(rec *types.RunRecord) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m["record_kind"] = RecordKindRun
	m["day"] = rec.StartedAt.UTC().Format(dayFormat)
	return m, nil
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	SessionID string
	Outcome   types.OutcomeStatus
	// Day restricts to one UTC day (YYYY-MM-DD).
	Day string
	// Limit caps the number of records returned. Zero means no cap.
	Limit int
}

// Query returns run records matching f, newest first.
func (j *Journal) Query(ctx context.Context, f Filter) ([]types.RunRecord, error) {
	snapshots, err := j.ds.Snapshots(ctx)
	if err != nil {
		return nil, wrap("read", j.Dataset()+"/snapshots", err)
	}

	seen := make(map[string]struct{})
	var out []types.RunRecord

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "session_id", f.SessionID) || !snapshotMatches(snap, "day", f.Day) {
			continue
		}

		data, err := j.ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("%s/snapshot/%v", j.Dataset(), snap.ID), err)
		}

		for _, item := range data {
			rec, ok := fromRecord(item)
			if !ok {
				continue
			}
			if _, dup := seen[rec.RunID]; dup {
				continue
			}
			if !f.matches(rec) {
				continue
			}
			seen[rec.RunID] = struct{}{}
			out = append(out, rec)
		}
	}

	slices.SortStableFunc(out, func(a, b types.RunRecord) int {
		return b.CompletedAt.Compare(a.CompletedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (f Filter) matches(rec types.RunRecord) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if f.Day != "" && rec.StartedAt.UTC().Format(dayFormat) != f.Day {
		return false
	}
	return true
}

// fromRecord decodes one dataset item. Items of another kind are skipped.
func fromRecord(item any) (types.RunRecord, bool) {
	m, ok := item.(map[string]any)
	if !ok || m["record_kind"] != RecordKindRun {
		return types.RunRecord{}, false
	}
	data, err := json.Marshal(m)
	if err != nil {
		return types.RunRecord{}, false
	}
	var rec types.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.RunRecord{}, false
	}
	return rec, true
}

// snapshotMatches reports whether any file of snap lies in the key=value
// partition. An empty value matches every snapshot. Segments are compared
// exactly so that session_id=s-1 does not match session_id=s-10.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		if slices.Contains(strings.Split(f.Path, "/"), segment) {
			return true
		}
	}
	return false
}

// Today returns the day partition value for t.
func Today(t time.Time) string {
	return t.UTC().Format(dayFormat)
}
