package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-statemachine"
)

// Snapshot is the logical export shape: both ledgers plus the aggregate
// metrics computed at export time. The wire encoding is JSON but the
// contract only fixes this shape.
type Snapshot struct {
	Transitions []statemachine.TransitionRecord `json:"transitions"`
	Events      []statemachine.EventRecord      `json:"events"`
	Metrics     PerformanceReport               `json:"metrics"`
	ExportedAt  time.Time                       `json:"exported_at"`
}

// Export produces a snapshot of the current ledgers and metrics.
func (r *Recorder) Export() Snapshot {
	return Snapshot{
		Transitions: r.Transitions(),
		Events:      r.Events(),
		Metrics:     r.AnalyzePerformance(),
		ExportedAt:  time.Now().UTC(),
	}
}

// ExportJSON renders the snapshot as JSON.
func (r *Recorder) ExportJSON() ([]byte, error) {
	return json.Marshal(r.Export())
}

// Import replaces the recorder's ledgers with the snapshot contents,
// applying the recorder's bound (oldest entries dropped first).
func (r *Recorder) Import(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = boundTail(snap.Transitions, r.bound)
	r.events = boundTail(snap.Events, r.bound)
}

// ImportJSON parses and imports a JSON snapshot.
func (r *Recorder) ImportJSON(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse history snapshot: %w", err)
	}
	r.Import(snap)
	return nil
}

func boundTail[E any](in []E, bound int) []E {
	if len(in) > bound {
		in = in[len(in)-bound:]
	}
	out := make([]E, len(in))
	copy(out, in)
	return out
}

// SnapshotStore persists recorder snapshots keyed by machine id.
type SnapshotStore interface {
	Save(ctx context.Context, id string, snap Snapshot) error
	Load(ctx context.Context, id string) (Snapshot, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// ErrSnapshotNotFound reports a missing snapshot id.
var ErrSnapshotNotFound = fmt.Errorf("snapshot not found")

// MemoryStore is a thread-safe in-memory snapshot store.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

func (s *MemoryStore) Save(_ context.Context, id string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[id] = snap
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return snap, nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, id)
	return nil
}
