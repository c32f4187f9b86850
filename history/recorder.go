// Package history keeps the bounded transition and event ledgers for one
// machine instance and computes aggregate performance statistics on demand.
// Ledgers are ring buffers: the oldest entries are evicted first so memory
// stays bounded under long-running operation.
package history

import (
	"sync"
	"time"

	"github.com/goliatone/go-statemachine"
)

const defaultBound = 1000

// Filter selects transition records. Zero fields match everything; Limit
// caps the result count after newest-first ordering.
type Filter struct {
	From  string
	To    string
	Event string
	Since time.Time
	Until time.Time
	Limit int
}

func (f Filter) matches(rec statemachine.TransitionRecord) bool {
	if f.From != "" && statemachine.NormalizeState(f.From) != rec.From {
		return false
	}
	if f.To != "" && statemachine.NormalizeState(f.To) != rec.To {
		return false
	}
	if f.Event != "" && statemachine.NormalizeEvent(f.Event) != rec.Event {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithBound caps each ledger's length.
func WithBound(bound int) Option {
	return func(r *Recorder) {
		if bound > 0 {
			r.bound = bound
		}
	}
}

// WithTopN sets how many slowest/fastest records Analyze reports.
func WithTopN(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.topN = n
		}
	}
}

// WithLogger sets the recorder logger.
func WithLogger(logger statemachine.Logger) Option {
	return func(r *Recorder) {
		r.logger = statemachine.NormalizeLogger(logger)
	}
}

// Recorder is the append-only, size-bounded transition/event ledger.
type Recorder struct {
	mu          sync.Mutex
	transitions []statemachine.TransitionRecord
	events      []statemachine.EventRecord
	bound       int
	topN        int
	logger      statemachine.Logger
}

// New constructs a recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		bound:  defaultBound,
		topN:   5,
		logger: statemachine.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RecordTransition appends a transition record, evicting the oldest entry
// when the ledger is full. Records are immutable once written.
func (r *Recorder) RecordTransition(rec statemachine.TransitionRecord) {
	rec.From = statemachine.NormalizeState(rec.From)
	rec.To = statemachine.NormalizeState(rec.To)
	rec.Event = statemachine.NormalizeEvent(rec.Event)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, rec)
	if len(r.transitions) > r.bound {
		r.transitions = r.transitions[len(r.transitions)-r.bound:]
	}
}

// RecordEvent appends an event record.
func (r *Recorder) RecordEvent(event, state string, duration time.Duration, success bool, err error) {
	rec := statemachine.EventRecord{
		Event:     statemachine.NormalizeEvent(event),
		State:     statemachine.NormalizeState(state),
		Timestamp: time.Now().UTC(),
		Duration:  duration,
		Success:   success,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, rec)
	if len(r.events) > r.bound {
		r.events = r.events[len(r.events)-r.bound:]
	}
}

// Query returns matching transition records, newest first.
func (r *Recorder) Query(f Filter) []statemachine.TransitionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]statemachine.TransitionRecord, 0, len(r.transitions))
	for i := len(r.transitions) - 1; i >= 0; i-- {
		rec := r.transitions[i]
		if !f.matches(rec) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Transitions returns a copy of the transition ledger, oldest first.
func (r *Recorder) Transitions() []statemachine.TransitionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]statemachine.TransitionRecord, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// Events returns a copy of the event ledger, oldest first.
func (r *Recorder) Events() []statemachine.EventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]statemachine.EventRecord, len(r.events))
	copy(out, r.events)
	return out
}

// Len reports current ledger sizes.
func (r *Recorder) Len() (transitions, events int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions), len(r.events)
}
