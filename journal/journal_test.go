package journal

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/conduit/types"
)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func newMemoryJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New("", sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return j
}

func record(session string, seq int, outcome types.OutcomeStatus, at time.Time) *types.RunRecord {
	return &types.RunRecord{
		RunID:       fmt.Sprintf("%s-run-%d", session, seq),
		SessionID:   session,
		Seq:         seq,
		Endpoint:    "http://agent.local/api",
		Outcome:     outcome,
		Commands:    1,
		Frames:      4,
		Delivered:   outcome == types.OutcomeSuccess,
		StartedAt:   at,
		CompletedAt: at.Add(time.Second),
		DurationMs:  1000,
		State:       map[string]any{"turn": float64(seq)},
	}
}

func TestJournal_RecordAndQuery(t *testing.T) {
	j := newMemoryJournal(t)
	if j.Dataset() != DefaultDataset {
		t.Errorf("Dataset = %q, want %q", j.Dataset(), DefaultDataset)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	recs := []*types.RunRecord{
		record("s-1", 1, types.OutcomeSuccess, base),
		record("s-1", 2, types.OutcomeError, base.Add(time.Minute)),
		record("s-10", 1, types.OutcomeAborted, base.Add(2*time.Minute)),
	}
	for _, rec := range recs {
		if err := j.Record(t.Context(), rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
	}{
		{name: "all newest first", filter: Filter{}, wantIDs: []string{"s-10-run-1", "s-1-run-2", "s-1-run-1"}},
		{name: "exact session partition", filter: Filter{SessionID: "s-1"}, wantIDs: []string{"s-1-run-2", "s-1-run-1"}},
		{name: "outcome", filter: Filter{Outcome: types.OutcomeError}, wantIDs: []string{"s-1-run-2"}},
		{name: "limit", filter: Filter{Limit: 1}, wantIDs: []string{"s-10-run-1"}},
		{name: "day", filter: Filter{Day: "2026-03-01"}, wantIDs: []string{"s-10-run-1", "s-1-run-2", "s-1-run-1"}},
		{name: "other day", filter: Filter{Day: "2026-03-02"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.Query(t.Context(), tt.filter)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].RunID != id {
					t.Errorf("record[%d] = %s, want %s", i, got[i].RunID, id)
				}
			}
		})
	}
}

func TestJournal_RecordRoundTrip(t *testing.T) {
	j := newMemoryJournal(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := record("s-1", 3, types.OutcomeError, at)
	want.ErrorType = "transport"
	want.Message = "Status 500: boom"

	if err := j.Record(t.Context(), want); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, err := j.Query(t.Context(), Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records", len(got))
	}
	rec := got[0]
	if rec.ErrorType != "transport" || rec.Message != want.Message || rec.Seq != 3 {
		t.Errorf("unexpected record %+v", rec)
	}
	if !rec.StartedAt.Equal(at) {
		t.Errorf("StartedAt = %v, want %v", rec.StartedAt, at)
	}
	if state, ok := rec.State.(map[string]any); !ok || state["turn"] != float64(3) {
		t.Errorf("State = %v", rec.State)
	}
}

func TestNewFS(t *testing.T) {
	j, err := NewFS("runs", t.TempDir())
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	if j.Dataset() != "runs" {
		t.Errorf("Dataset = %q", j.Dataset())
	}
	if err := j.Record(t.Context(), record("s", 1, types.OutcomeSuccess, time.Now())); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, err := j.Query(t.Context(), Filter{SessionID: "s"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d records, want 1", len(got))
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		path, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.path)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.path, b, p)
		}
	}
	cfg := S3Config{}
	if cfg.Validate() == nil {
		t.Error("expected error for missing bucket")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{os.ErrPermission, ErrPermissionDenied},
		{errors.New("open x: no such file or directory"), ErrNotFound},
		{errors.New("AccessDenied: 403"), ErrAccessDenied},
		{errors.New("SlowDown"), ErrThrottled},
		{errors.New("NoCredentialProviders"), ErrAuth},
		{errors.New("dial tcp 127.0.0.1:9000: connection refused"), ErrNetwork},
		{errors.New("write: no space left on device"), ErrDiskFull},
		{errors.New("context deadline exceeded"), ErrTimeout},
		{errors.New("something odd"), ErrUnclassified},
	}
	for _, tt := range tests {
		err := wrap("write", "p", tt.err)
		if !errors.Is(err, tt.want) {
			t.Errorf("classify(%q) = %v, want %v", tt.err, err, tt.want)
		}
		if !errors.Is(err, tt.err) {
			t.Errorf("wrapped error lost cause %q", tt.err)
		}
	}
	if wrap("write", "p", nil) != nil {
		t.Error("wrap(nil) must be nil")
	}
}
