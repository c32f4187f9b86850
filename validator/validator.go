// Package validator implements the pure transition decision layer: static
// transition-table checks, ordered guard evaluation with complete failure
// collection, and a bounded validation history for diagnostics.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-statemachine"
)

const defaultHistoryBound = 256

// GuardFailure names one guard that denied a transition.
type GuardFailure struct {
	Guard   string
	Message string
}

// GuardReport is the outcome of evaluating every guard on a transition.
// Failures holds all denials, not just the first; a rejection reason set is
// always complete.
type GuardReport struct {
	Valid    bool
	Failures []GuardFailure
}

// FailedGuards returns the failing guard names in evaluation order.
func (r GuardReport) FailedGuards() []string {
	if len(r.Failures) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		names = append(names, f.Guard)
	}
	return names
}

// Evaluation is one bounded-history entry.
type Evaluation struct {
	From         string
	To           string
	Event        string
	Valid        bool
	FailedGuards []string
	Reason       string
	Timestamp    time.Time
}

// FailureCount pairs a failure reason with its occurrence count.
type FailureCount struct {
	Reason string
	Count  int
}

// Stats aggregates validator activity since construction.
type Stats struct {
	Evaluations int
	Passed      int
	Failed      int
	SuccessRate float64
	TopFailures []FailureCount
}

// Option customizes a Validator.
type Option[T any] func(*Validator[T])

// WithHistoryBound caps the validation history length.
func WithHistoryBound[T any](bound int) Option[T] {
	return func(v *Validator[T]) {
		if bound > 0 {
			v.bound = bound
		}
	}
}

// WithLogger sets the validator logger.
func WithLogger[T any](logger statemachine.Logger) Option[T] {
	return func(v *Validator[T]) {
		v.logger = statemachine.NormalizeLogger(logger)
	}
}

// Validator answers transition legality questions against one definition
// set. It never mutates machine context; guard predicates are evaluated on a
// value copy.
type Validator[T any] struct {
	def    statemachine.DefinitionSet[T]
	table  map[string]statemachine.TransitionDefinition[T]
	logger statemachine.Logger

	mu          sync.Mutex
	history     []Evaluation
	bound       int
	evaluations int
	failed      int
	reasons     map[string]int
}

// New builds a validator from a validated definition set.
func New[T any](def statemachine.DefinitionSet[T], opts ...Option[T]) (*Validator[T], error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	table := make(map[string]statemachine.TransitionDefinition[T], len(def.Transitions))
	for _, tr := range def.Transitions {
		key := statemachine.TransitionKey(statemachine.NormalizeState(tr.From), statemachine.NormalizeEvent(tr.Event))
		table[key] = tr
	}
	v := &Validator[T]{
		def:     def,
		table:   table,
		logger:  statemachine.NormalizeLogger(nil),
		bound:   defaultHistoryBound,
		reasons: make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Lookup returns the transition for (from, event), if the table declares one.
func (v *Validator[T]) Lookup(from, event string) (statemachine.TransitionDefinition[T], bool) {
	tr, ok := v.table[statemachine.TransitionKey(statemachine.NormalizeState(from), statemachine.NormalizeEvent(event))]
	return tr, ok
}

// IsValidTransition checks (from, to, event) purely against the static
// table. Context and guards play no part.
func (v *Validator[T]) IsValidTransition(from, to, event string) bool {
	tr, ok := v.Lookup(from, event)
	valid := ok && statemachine.NormalizeState(tr.To) == statemachine.NormalizeState(to)
	v.record(Evaluation{
		From:      statemachine.NormalizeState(from),
		To:        statemachine.NormalizeState(to),
		Event:     statemachine.NormalizeEvent(event),
		Valid:     valid,
		Reason:    tableReason(valid),
		Timestamp: time.Now().UTC(),
	})
	return valid
}

// ValidateEvent answers whether event is legal in the current state at all,
// independent of guard outcomes. Used as a fast synchronous pre-check before
// enqueueing.
func (v *Validator[T]) ValidateEvent(current, event string) bool {
	_, ok := v.Lookup(current, event)
	v.record(Evaluation{
		From:      statemachine.NormalizeState(current),
		Event:     statemachine.NormalizeEvent(event),
		Valid:     ok,
		Reason:    tableReason(ok),
		Timestamp: time.Now().UTC(),
	})
	return ok
}

// EvaluateGuards runs every guard in declared order against a context copy
// and collects all failures without short-circuiting.
func (v *Validator[T]) EvaluateGuards(guards []statemachine.Guard[T], mctx statemachine.MachineContext[T]) GuardReport {
	report := GuardReport{Valid: true}
	for idx, guard := range guards {
		if guard.Check == nil {
			continue
		}
		if guard.Check(mctx) {
			continue
		}
		report.Valid = false
		name := guard.Name
		if name == "" {
			name = fmt.Sprintf("guard[%d]", idx)
		}
		message := guard.Message
		if message == "" {
			message = "guard denied transition"
		}
		report.Failures = append(report.Failures, GuardFailure{Guard: name, Message: message})
	}
	evt := Evaluation{
		From:         mctx.CurrentState,
		Valid:        report.Valid,
		FailedGuards: report.FailedGuards(),
		Timestamp:    time.Now().UTC(),
	}
	if !report.Valid {
		evt.Reason = guardReason(report.Failures)
	}
	v.record(evt)
	return report
}

// History returns a copy of the bounded validation history, oldest first.
func (v *Validator[T]) History() []Evaluation {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Evaluation, len(v.history))
	copy(out, v.history)
	return out
}

// Stats reports the running success/failure rate and the most common
// failure reasons, ranked descending.
func (v *Validator[T]) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := Stats{
		Evaluations: v.evaluations,
		Failed:      v.failed,
		Passed:      v.evaluations - v.failed,
	}
	if v.evaluations > 0 {
		s.SuccessRate = float64(s.Passed) / float64(v.evaluations)
	}
	for reason, count := range v.reasons {
		s.TopFailures = append(s.TopFailures, FailureCount{Reason: reason, Count: count})
	}
	sort.Slice(s.TopFailures, func(i, j int) bool {
		if s.TopFailures[i].Count == s.TopFailures[j].Count {
			return s.TopFailures[i].Reason < s.TopFailures[j].Reason
		}
		return s.TopFailures[i].Count > s.TopFailures[j].Count
	})
	return s
}

func (v *Validator[T]) record(evt Evaluation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.evaluations++
	if !evt.Valid {
		v.failed++
		if evt.Reason != "" {
			v.reasons[evt.Reason]++
		}
	}
	v.history = append(v.history, evt)
	if len(v.history) > v.bound {
		v.history = v.history[len(v.history)-v.bound:]
	}
}

func tableReason(valid bool) string {
	if valid {
		return ""
	}
	return "transition not in table"
}

func guardReason(failures []GuardFailure) string {
	if len(failures) == 0 {
		return ""
	}
	names := make([]string, 0, len(failures))
	for _, f := range failures {
		names = append(names, f.Guard)
	}
	return "guards failed: " + strings.Join(names, ", ")
}
