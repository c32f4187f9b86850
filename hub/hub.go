package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-statemachine"
	"github.com/goliatone/go-statemachine/machine"
)

// RegisteredInstance tracks a machine under hub supervision.
type RegisteredInstance struct {
	ID           string
	Category     string
	DisplayName  string
	Handle       statemachine.Instance
	Factory      statemachine.InstanceFactory
	RegisteredAt time.Time
	Restarts     int
}

// CategoryHealth summarizes the machines of one category.
type CategoryHealth struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
}

// InstanceStatus is the per-machine slice of a hub status report.
type InstanceStatus struct {
	ID                string `json:"id"`
	Category          string `json:"category"`
	DisplayName       string `json:"display_name"`
	State             string `json:"state"`
	Healthy           bool   `json:"healthy"`
	PendingEvents     int    `json:"pending_events"`
	ActiveTransitions int    `json:"active_transitions"`
	Restarts          int    `json:"restarts"`
}

// Status is an aggregate point-in-time view of the hub.
type Status struct {
	SupervisorState   string                    `json:"supervisor_state"`
	Healthy           bool                      `json:"healthy"`
	RegisteredCount   int                       `json:"registered_count"`
	PendingEvents     int                       `json:"pending_events"`
	ActiveTransitions int                       `json:"active_transitions"`
	Categories        map[string]CategoryHealth `json:"categories"`
	Instances         []InstanceStatus          `json:"instances"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger statemachine.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithInitService replaces the supervisor bootstrap service.
func WithInitService(svc statemachine.InvokedService[SupervisorData]) Option {
	return func(h *Hub) {
		h.initService = svc
	}
}

// WithMaxRecoveryAttempts bounds supervisor self-recovery.
func WithMaxRecoveryAttempts(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxRecovery = n
		}
	}
}

// Hub supervises a set of machine instances plus one supervisory machine of
// its own. Multiple hubs can coexist; none of the state is process global.
type Hub struct {
	mu        sync.RWMutex
	instances map[string]*RegisteredInstance

	supervisor  *machine.Machine[SupervisorData]
	initService statemachine.InvokedService[SupervisorData]
	maxRecovery int

	logger  statemachine.Logger
	sweeper *sweeper
}

// New builds a hub with an idle supervisory machine. Call Start to bring the
// supervisor to active.
func New(opts ...Option) (*Hub, error) {
	h := &Hub{
		instances:   make(map[string]*RegisteredInstance),
		logger:      statemachine.NewFmtLogger(nil),
		maxRecovery: DefaultMaxRecoveryAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	sup, err := machine.New("hub-supervisor", SupervisorDefinition(h.initService),
		SupervisorData{MaxRecoveryAttempts: h.maxRecovery},
		machine.WithLogger[SupervisorData](h.logger),
	)
	if err != nil {
		return nil, err
	}
	h.supervisor = sup
	return h, nil
}

// Supervisor exposes the supervisory machine.
func (h *Hub) Supervisor() *machine.Machine[SupervisorData] {
	return h.supervisor
}

// Start runs the supervisory machine and drives it out of idle.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.supervisor.Start(ctx); err != nil {
		return err
	}
	return h.supervisor.Send(ctx, statemachine.Event{
		Name:     EventInitialize,
		Priority: statemachine.PriorityHigh,
	})
}

// Stop halts the sweeper, shuts down every registered instance and the
// supervisor. Instance shutdown errors are logged, not returned.
func (h *Hub) Stop(ctx context.Context) error {
	h.StopSweeper()

	h.mu.Lock()
	handles := make([]*RegisteredInstance, 0, len(h.instances))
	for _, ri := range h.instances {
		handles = append(handles, ri)
	}
	h.mu.Unlock()

	for _, ri := range handles {
		if err := ri.Handle.Shutdown(ctx); err != nil {
			h.logger.Warn("instance %s shutdown failed: %v", ri.ID, err)
		}
	}

	if !h.supervisor.Definition().IsTerminal(h.supervisor.CurrentState()) {
		if err := h.supervisor.SendImmediate(ctx, EventStop, nil); err != nil &&
			statemachine.ErrorCode(err) != statemachine.ErrCodeInvalidEvent {
			h.logger.Warn("supervisor stop rejected: %v", err)
		}
	}
	return h.supervisor.Shutdown(ctx)
}

// Register adds an instance under supervision. The factory is optional; it
// enables Restart. Duplicate ids are rejected.
func (h *Hub) Register(id, category, displayName string, handle statemachine.Instance, factory statemachine.InstanceFactory) error {
	if id == "" {
		return statemachine.WrapError(statemachine.ErrPreconditionFailed,
			"instance id cannot be empty", nil, nil)
	}
	if handle == nil {
		return statemachine.WrapError(statemachine.ErrPreconditionFailed,
			"instance handle cannot be nil", nil, map[string]any{"instance": id})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.instances[id]; ok {
		return statemachine.WrapError(statemachine.ErrPreconditionFailed,
			"instance already registered", nil, map[string]any{"instance": id})
	}
	h.instances[id] = &RegisteredInstance{
		ID:           id,
		Category:     category,
		DisplayName:  displayName,
		Handle:       handle,
		Factory:      factory,
		RegisteredAt: time.Now(),
	}
	h.logger.Info("instance %s registered category=%s", id, category)
	return nil
}

// Unregister removes an instance without shutting it down. Returns false when
// the id is unknown.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.instances[id]; !ok {
		return false
	}
	delete(h.instances, id)
	h.logger.Info("instance %s unregistered", id)
	return true
}

// Get returns the live handle for an instance id.
func (h *Hub) Get(id string) (statemachine.Instance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ri, ok := h.instances[id]
	if !ok {
		return nil, false
	}
	return ri.Handle, true
}

// Send routes an event to a registered instance.
func (h *Hub) Send(ctx context.Context, id string, evt statemachine.Event) error {
	handle, ok := h.Get(id)
	if !ok {
		return statemachine.WrapError(statemachine.ErrInstanceNotFound,
			"no instance registered under id", nil, map[string]any{"instance": id})
	}
	return handle.Send(ctx, evt)
}

// IsHealthy reports the supervisor plus every registered instance. The
// conjunction short-circuits on the first unhealthy member.
func (h *Hub) IsHealthy() bool {
	if !h.supervisor.IsHealthy() || h.supervisor.CurrentState() != StateActive {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ri := range h.instances {
		if !ri.Handle.IsHealthy() {
			return false
		}
	}
	return true
}

// Status aggregates supervisor state, per-category health, and queue depths
// across all registered instances.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Status{
		SupervisorState: h.supervisor.CurrentState(),
		RegisteredCount: len(h.instances),
		Categories:      make(map[string]CategoryHealth),
		Instances:       make([]InstanceStatus, 0, len(h.instances)),
	}

	healthy := h.supervisor.IsHealthy() && st.SupervisorState == StateActive
	for _, ri := range h.instances {
		ok := ri.Handle.IsHealthy()
		pending := ri.Handle.PendingEvents()
		active := ri.Handle.ActiveTransitions()

		cat := st.Categories[ri.Category]
		cat.Total++
		if ok {
			cat.Healthy++
		} else {
			healthy = false
		}
		st.Categories[ri.Category] = cat

		st.PendingEvents += pending
		st.ActiveTransitions += active
		st.Instances = append(st.Instances, InstanceStatus{
			ID:                ri.ID,
			Category:          ri.Category,
			DisplayName:       ri.DisplayName,
			State:             ri.Handle.CurrentState(),
			Healthy:           ok,
			PendingEvents:     pending,
			ActiveTransitions: active,
			Restarts:          ri.Restarts,
		})
	}
	sort.Slice(st.Instances, func(i, j int) bool {
		return st.Instances[i].ID < st.Instances[j].ID
	})
	st.Healthy = healthy
	return st
}

// Restart shuts the instance down and replaces its handle with a fresh one
// from the registered factory. The new machine starts from its initial state
// with empty history.
func (h *Hub) Restart(ctx context.Context, id string) error {
	h.mu.RLock()
	ri, ok := h.instances[id]
	h.mu.RUnlock()
	if !ok {
		return statemachine.WrapError(statemachine.ErrInstanceNotFound,
			"no instance registered under id", nil, map[string]any{"instance": id})
	}
	if ri.Factory == nil {
		return statemachine.WrapError(statemachine.ErrPreconditionFailed,
			"instance has no factory, cannot restart", nil, map[string]any{"instance": id})
	}

	if err := ri.Handle.Shutdown(ctx); err != nil {
		h.logger.Warn("instance %s shutdown during restart failed: %v", id, err)
	}

	fresh, err := ri.Factory(ctx)
	if err != nil {
		return statemachine.WrapError(statemachine.ErrPreconditionFailed,
			"instance factory failed", err, map[string]any{"instance": id})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current, ok := h.instances[id]
	if !ok {
		// unregistered while restarting, shut the replacement down
		_ = fresh.Shutdown(ctx)
		return statemachine.WrapError(statemachine.ErrInstanceNotFound,
			"instance unregistered during restart", nil, map[string]any{"instance": id})
	}
	current.Handle = fresh
	current.Restarts++
	h.logger.Info("instance %s restarted restarts=%d", id, current.Restarts)
	return nil
}
