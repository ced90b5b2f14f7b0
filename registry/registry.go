// Package registry tracks live sessions for inspection tooling.
//
// A Registry is created by the process that owns sessions and passed to
// each session explicitly. Sessions register on creation and unregister on
// Close. Handler exposes the current entries as JSON.
package registry

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/conduit/metrics"
	"github.com/pithecene-io/conduit/types"
)

// Entry is a point-in-time view of one registered source.
type Entry struct {
	ID              string           `json:"id"`
	Endpoint        string           `json:"endpoint"`
	CreatedAt       time.Time        `json:"created_at"`
	Running         bool             `json:"running"`
	PendingCommands int              `json:"pending_commands"`
	Messages        int              `json:"messages"`
	State           types.State      `json:"state,omitempty"`
	Metrics         metrics.Snapshot `json:"metrics"`
}

// Source is anything that can describe itself as an Entry.
type Source interface {
	Inspect() Entry
}

// Registry holds registered sources. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds src under id, replacing any previous source with that id.
// A nil registry ignores the call.
func (r *Registry) Register(id string, src Source) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.sources[id] = src
	r.mu.Unlock()
}

// Unregister removes id. A nil registry ignores the call.
func (r *Registry) Unregister(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.sources, id)
	r.mu.Unlock()
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Snapshot inspects every source and returns the entries ordered by
// creation time, then ID.
func (r *Registry) Snapshot() []Entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	sources := make([]Source, 0, len(r.sources))
	for _, src := range r.sources {
		sources = append(sources, src)
	}
	r.mu.RUnlock()

	// Inspect outside the lock: sources take their own locks.
	entries := make([]Entry, 0, len(sources))
	for _, src := range sources {
		entries = append(entries, src.Inspect())
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return entries
}

// Handler serves the registry as JSON. GET / lists all entries and
// GET /{id} returns a single entry.
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, r.Snapshot())
	})
	mux.HandleFunc("GET /{id}", func(w http.ResponseWriter, req *http.Request) {
		r.mu.RLock()
		src, ok := r.sources[req.PathValue("id")]
		r.mu.RUnlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		writeJSON(w, http.StatusOK, src.Inspect())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
