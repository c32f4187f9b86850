// Package machine binds one static definition set to one live context and
// composes the validator, executor, dispatcher, and history recorder into a
// running machine instance. The dispatcher's processing loop is the single
// writer of the instance's context; distinct instances run fully
// concurrently.
package machine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-statemachine"
	"github.com/goliatone/go-statemachine/dispatcher"
	"github.com/goliatone/go-statemachine/executor"
	"github.com/goliatone/go-statemachine/history"
	"github.com/goliatone/go-statemachine/validator"
)

// Option customizes a Machine.
type Option[T any] func(*Machine[T])

// WithLogger sets the machine logger, shared with its components.
func WithLogger[T any](logger statemachine.Logger) Option[T] {
	return func(m *Machine[T]) {
		m.logger = statemachine.NormalizeLogger(logger)
	}
}

// WithHistoryBound caps the transition/event ledgers.
func WithHistoryBound[T any](bound int) Option[T] {
	return func(m *Machine[T]) {
		m.historyBound = bound
	}
}

// WithRecorder injects a pre-built recorder, e.g. one restored from a
// snapshot store.
func WithRecorder[T any](rec *history.Recorder) Option[T] {
	return func(m *Machine[T]) {
		m.recorder = rec
	}
}

// Machine is one running instance of a definition set bound to a context.
type Machine[T any] struct {
	id           string
	def          statemachine.DefinitionSet[T]
	check        *validator.Validator[T]
	exec         *executor.Executor[T]
	events       *dispatcher.Dispatcher
	recorder     *history.Recorder
	logger       statemachine.Logger
	historyBound int

	mu   sync.RWMutex
	mctx statemachine.MachineContext[T]

	svcMu     sync.Mutex
	svcGen    uint64
	svcCancel context.CancelFunc
	svcTimer  *time.Timer

	down atomic.Bool
}

// New builds a machine instance at the definition's initial state with an
// empty history.
func New[T any](id string, def statemachine.DefinitionSet[T], initial T, opts ...Option[T]) (*Machine[T], error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = def.ID
	}
	m := &Machine[T]{
		id:     id,
		def:    def,
		logger: statemachine.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = statemachine.WithLoggerFields(m.logger, map[string]any{
		"machine_id":      id,
		"machine_version": def.Version,
	})

	var vopts []validator.Option[T]
	if m.historyBound > 0 {
		vopts = append(vopts, validator.WithHistoryBound[T](m.historyBound))
	}
	vopts = append(vopts, validator.WithLogger[T](m.logger))
	check, err := validator.New(def, vopts...)
	if err != nil {
		return nil, err
	}
	m.check = check

	exec, err := executor.New(def, check, executor.WithLogger[T](m.logger))
	if err != nil {
		return nil, err
	}
	m.exec = exec

	dopts := []dispatcher.Option{dispatcher.WithLogger(m.logger)}
	if m.historyBound > 0 {
		dopts = append(dopts, dispatcher.WithHistoryBound(m.historyBound))
	}
	m.events = dispatcher.New(dopts...)

	if m.recorder == nil {
		ropts := []history.Option{history.WithLogger(m.logger)}
		if m.historyBound > 0 {
			ropts = append(ropts, history.WithBound(m.historyBound))
		}
		m.recorder = history.New(ropts...)
	}

	m.mctx = statemachine.MachineContext[T]{
		CurrentState: def.InitialState(),
		Data:         initial,
		Timestamp:    time.Now().UTC(),
		Metadata: statemachine.ContextMetadata{
			MachineID:      id,
			MachineVersion: def.Version,
		},
	}

	if err := m.subscribeTableEvents(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Machine[T]) subscribeTableEvents() error {
	seen := make(map[string]struct{}, len(m.def.Transitions))
	names := make([]string, 0, len(m.def.Transitions))
	for _, tr := range m.def.Transitions {
		name := statemachine.NormalizeEvent(tr.Event)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	_, err := m.events.Subscribe(names, m.handleEvent)
	return err
}

// Start launches the dispatcher loop and the initial state's invoked
// service, if declared.
func (m *Machine[T]) Start(ctx context.Context) error {
	if m.down.Load() {
		return statemachine.WrapError(statemachine.ErrPreconditionFailed, "machine is shut down", nil, m.fields())
	}
	if err := m.events.Start(ctx); err != nil {
		return err
	}
	if st, ok := m.def.State(m.CurrentState()); ok && st.Service != nil {
		m.startService(ctx, st, m.Context())
	}
	m.logger.WithContext(ctx).Info("machine started state=%s", m.CurrentState())
	return nil
}

// ID returns the instance id.
func (m *Machine[T]) ID() string { return m.id }

// Definition returns the static definition set.
func (m *Machine[T]) Definition() statemachine.DefinitionSet[T] { return m.def }

// CurrentState returns the current state name.
func (m *Machine[T]) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mctx.CurrentState
}

// Context returns a consistent snapshot of the live context.
func (m *Machine[T]) Context() statemachine.MachineContext[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mctx.Clone()
}

// IsHealthy reports whether the instance is outside its designated failure
// states.
func (m *Machine[T]) IsHealthy() bool {
	st, ok := m.def.State(m.CurrentState())
	if !ok {
		return false
	}
	return !st.Failure
}

// PendingEvents returns the dispatcher queue depth.
func (m *Machine[T]) PendingEvents() int { return m.events.Pending() }

// ActiveTransitions reports in-flight executions (0 or 1).
func (m *Machine[T]) ActiveTransitions() int {
	if m.exec.InFlight() {
		return 1
	}
	return 0
}

// Recorder exposes the instance's history recorder.
func (m *Machine[T]) Recorder() *history.Recorder { return m.recorder }

// Validator exposes the instance's validator.
func (m *Machine[T]) Validator() *validator.Validator[T] { return m.check }

// EventStats exposes dispatcher statistics.
func (m *Machine[T]) EventStats() dispatcher.Stats { return m.events.Stats() }

// Subscribe lets external observers watch events without joining the
// transition path.
func (m *Machine[T]) Subscribe(events []string, handler dispatcher.Handler, opts ...dispatcher.SubscribeOption) (string, error) {
	return m.events.Subscribe(events, handler, opts...)
}

// Unsubscribe removes an observer subscription.
func (m *Machine[T]) Unsubscribe(id string) bool {
	return m.events.Unsubscribe(id)
}

// SendEvent posts an event at the default priority.
func (m *Machine[T]) SendEvent(ctx context.Context, event string, payload any) error {
	return m.Send(ctx, statemachine.Event{Name: event, Payload: payload, Priority: statemachine.PriorityDefault})
}

// Send posts an event envelope. It fails fast, before enqueueing, when the
// machine is shut down, the current state is terminal, or the event is not
// legal in the current state.
func (m *Machine[T]) Send(ctx context.Context, evt statemachine.Event) error {
	if err := m.precheck(ctx, evt.Name); err != nil {
		return err
	}
	m.events.DispatchPriority(evt.Name, evt.Payload, evt.Priority)
	return nil
}

// SendImmediate bypasses the queue and processes the event synchronously.
// Reserved for supervisory and emergency signals.
func (m *Machine[T]) SendImmediate(ctx context.Context, event string, payload any) error {
	if err := m.precheck(ctx, event); err != nil {
		return err
	}
	return m.events.DispatchImmediate(ctx, event, payload)
}

// Drain processes queued events synchronously until the queue is empty.
func (m *Machine[T]) Drain(ctx context.Context) { m.events.Drain(ctx) }

func (m *Machine[T]) precheck(ctx context.Context, event string) error {
	fields := m.fields()
	fields["event"] = statemachine.NormalizeEvent(event)
	if m.down.Load() {
		return statemachine.WrapError(statemachine.ErrPreconditionFailed, "machine is shut down", nil, fields)
	}
	current := m.CurrentState()
	fields["state"] = current
	if m.def.IsTerminal(current) {
		m.recorder.RecordEvent(event, current, 0, false, statemachine.ErrTerminalState)
		return statemachine.WrapError(
			statemachine.ErrTerminalState,
			fmt.Sprintf("state %s is terminal and accepts no events", current),
			nil,
			fields,
		)
	}
	if !m.check.ValidateEvent(current, event) {
		err := statemachine.WrapError(
			statemachine.ErrInvalidEvent,
			fmt.Sprintf("event %s is not legal in state %s", event, current),
			nil,
			fields,
		)
		m.recorder.RecordEvent(event, current, 0, false, err)
		m.logger.WithContext(ctx).Warn("event rejected: %v", err)
		return err
	}
	return nil
}

// handleEvent is the dispatcher delivery path: it resolves the transition
// for (currentState, event) and runs it through the executor.
func (m *Machine[T]) handleEvent(ctx context.Context, evt statemachine.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.mctx.CurrentState
	fields := m.fields()
	fields["event"] = evt.Name
	fields["state"] = current
	logger := statemachine.WithLoggerFields(m.logger.WithContext(ctx), fields)

	if m.def.IsTerminal(current) {
		err := statemachine.WrapError(statemachine.ErrTerminalState, "terminal state accepts no events", nil, fields)
		m.recorder.RecordEvent(evt.Name, current, 0, false, err)
		return err
	}

	tr, ok := m.check.Lookup(current, evt.Name)
	if !ok {
		err := statemachine.WrapError(
			statemachine.ErrInvalidEvent,
			fmt.Sprintf("no transition for state=%s event=%s", current, evt.Name),
			nil,
			fields,
		)
		m.recorder.RecordEvent(evt.Name, current, 0, false, err)
		logger.Warn("event dropped: %v", err)
		return err
	}

	res := m.exec.Execute(ctx, tr, &m.mctx)
	record := statemachine.TransitionRecord{
		From:      current,
		To:        statemachine.NormalizeState(tr.To),
		Event:     evt.Name,
		Timestamp: time.Now().UTC(),
		Duration:  res.Duration,
		Success:   res.Success,
	}
	if res.Err != nil {
		record.Error = res.Err.Error()
	}
	if res.Success {
		record.Snapshot = m.mctx.DataSnapshot()
	}
	m.recorder.RecordTransition(record)
	m.recorder.RecordEvent(evt.Name, m.mctx.CurrentState, res.Duration, res.Success, res.Err)

	if !res.Success {
		logger.Warn("transition failed: %v", res.Err)
		return res.Err
	}

	logger.Info("transition committed from=%s to=%s", record.From, record.To)
	m.cancelService()
	if dest, ok := m.def.State(m.mctx.CurrentState); ok && dest.Service != nil {
		m.startService(ctx, dest, m.mctx.Clone())
	}
	return nil
}

// Shutdown stops the dispatcher loop, cancels any running invoked service,
// and releases the instance. A shut-down machine rejects all further events.
func (m *Machine[T]) Shutdown(ctx context.Context) error {
	if !m.down.CompareAndSwap(false, true) {
		return nil
	}
	m.cancelService()
	m.events.Stop()
	m.logger.WithContext(ctx).Info("machine shut down state=%s", m.CurrentState())
	return nil
}

func (m *Machine[T]) fields() map[string]any {
	return map[string]any{
		"machine_id":      m.id,
		"machine_version": m.def.Version,
	}
}
