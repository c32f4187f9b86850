package statemachine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Guard is a pure predicate gating whether a legal transition may fire.
// Check must be deterministic and side-effect free: evaluating the same
// context twice must yield the same result.
type Guard[T any] struct {
	Name    string
	Check   func(MachineContext[T]) bool
	Message string
}

// Invariant is a pure predicate checked against the destination state's
// context before a transition commits.
type Invariant[T any] struct {
	Name    string
	Check   func(MachineContext[T]) bool
	Message string
}

// Hook is a side-effecting entry/exit function run during a transition.
// Hooks must be fast and non-blocking; long-running work belongs in an
// invoked service.
type Hook[T any] func(ctx context.Context, mctx *MachineContext[T]) error

// Action is a named transition action, run in declared order between the
// exit and entry hooks.
type Action[T any] struct {
	Name string
	Run  func(ctx context.Context, mctx *MachineContext[T]) error
}

// InvokedService is an asynchronous unit of external work started on state
// entry. It receives a snapshot of the context at entry time and reports a
// result or error; the runtime routes either back through the dispatcher as
// an ordinary event.
type InvokedService[T any] func(ctx context.Context, snapshot MachineContext[T]) (any, error)

// ServiceBinding attaches an invoked service to a state. DoneEvent and
// ErrorEvent name the events posted on completion; TimeoutEvent (defaulting
// to ErrorEvent) is posted when Timeout elapses first, after the service
// context has been cancelled.
type ServiceBinding[T any] struct {
	Name         string
	Run          InvokedService[T]
	DoneEvent    string
	ErrorEvent   string
	Timeout      time.Duration
	TimeoutEvent string
}

// StateDefinition declares one state of a machine definition.
type StateDefinition[T any] struct {
	Name       string
	Initial    bool
	Terminal   bool
	Failure    bool
	OnEntry    Hook[T]
	OnExit     Hook[T]
	Invariants []Invariant[T]
	Service    *ServiceBinding[T]
}

// TransitionDefinition declares one row of the static transition table.
type TransitionDefinition[T any] struct {
	Event   string
	From    string
	To      string
	Guards  []Guard[T]
	Actions []Action[T]
}

// DefinitionSet is the static definition a machine instance is built from.
type DefinitionSet[T any] struct {
	ID          string
	Version     string
	States      []StateDefinition[T]
	Transitions []TransitionDefinition[T]
}

// Validate ensures the definition set is well formed: non-empty id and
// states, unique state names, at most one initial state, unique
// (from, event) pairs, and transitions referencing known states only.
func (d DefinitionSet[T]) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("definition id required")
	}
	if len(d.States) == 0 {
		return fmt.Errorf("definition %s requires at least one state", d.ID)
	}
	stateSet := make(map[string]struct{}, len(d.States))
	initialCount := 0
	for _, st := range d.States {
		name := NormalizeState(st.Name)
		if name == "" {
			return fmt.Errorf("definition %s has empty state name", d.ID)
		}
		if _, exists := stateSet[name]; exists {
			return fmt.Errorf("definition %s duplicate state %s", d.ID, st.Name)
		}
		stateSet[name] = struct{}{}
		if st.Initial {
			initialCount++
		}
		if st.Service != nil {
			if st.Service.Run == nil {
				return fmt.Errorf("definition %s state %s declares a service without a runner", d.ID, st.Name)
			}
			if NormalizeEvent(st.Service.DoneEvent) == "" || NormalizeEvent(st.Service.ErrorEvent) == "" {
				return fmt.Errorf("definition %s state %s service requires done and error events", d.ID, st.Name)
			}
		}
	}
	if initialCount > 1 {
		return fmt.Errorf("definition %s has multiple initial states", d.ID)
	}
	transitionSet := make(map[string]struct{}, len(d.Transitions))
	for _, tr := range d.Transitions {
		event := NormalizeEvent(tr.Event)
		if event == "" {
			return fmt.Errorf("definition %s transition missing event", d.ID)
		}
		from := NormalizeState(tr.From)
		to := NormalizeState(tr.To)
		if from == "" || to == "" {
			return fmt.Errorf("definition %s transition %s missing from/to", d.ID, tr.Event)
		}
		key := TransitionKey(from, event)
		if _, exists := transitionSet[key]; exists {
			return fmt.Errorf("definition %s duplicate transition for from=%s event=%s", d.ID, tr.From, tr.Event)
		}
		transitionSet[key] = struct{}{}
		if _, ok := stateSet[from]; !ok {
			return fmt.Errorf("definition %s transition %s references unknown from state %s", d.ID, tr.Event, tr.From)
		}
		if _, ok := stateSet[to]; !ok {
			return fmt.Errorf("definition %s transition %s references unknown to state %s", d.ID, tr.Event, tr.To)
		}
	}
	return nil
}

// InitialState resolves the declared initial state, falling back to the
// first declared state.
func (d DefinitionSet[T]) InitialState() string {
	for _, st := range d.States {
		if st.Initial {
			return NormalizeState(st.Name)
		}
	}
	if len(d.States) == 0 {
		return ""
	}
	return NormalizeState(d.States[0].Name)
}

// State looks up a state definition by normalized name.
func (d DefinitionSet[T]) State(name string) (StateDefinition[T], bool) {
	name = NormalizeState(name)
	for _, st := range d.States {
		if NormalizeState(st.Name) == name {
			return st, true
		}
	}
	return StateDefinition[T]{}, false
}

// IsTerminal reports whether the named state is terminal.
func (d DefinitionSet[T]) IsTerminal(name string) bool {
	st, ok := d.State(name)
	return ok && st.Terminal
}

// StateNames returns the normalized state set in declaration order.
func (d DefinitionSet[T]) StateNames() []string {
	if len(d.States) == 0 {
		return nil
	}
	names := make([]string, 0, len(d.States))
	for _, st := range d.States {
		names = append(names, NormalizeState(st.Name))
	}
	return names
}

// TransitionKey builds the lookup key for a (state, event) pair.
func TransitionKey(state, event string) string {
	return state + "::" + event
}

// NormalizeState canonicalizes state identifiers for comparisons.
func NormalizeState(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEvent canonicalizes event identifiers for comparisons.
func NormalizeEvent(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
