package hub

import (
	"context"

	"github.com/goliatone/go-statemachine"
)

// Supervisory machine states.
const (
	StateIdle         = "idle"
	StateInitializing = "initializing"
	StateActive       = "active"
	StateSuspended    = "suspended"
	StateError        = "error"
	StateRecovering   = "recovering"
	StateShutdown     = "shutdown"
)

// Supervisory machine events.
const (
	EventInitialize         = "initialize"
	EventTransitionComplete = "transition_complete"
	EventPause              = "pause"
	EventResume             = "resume"
	EventStop               = "stop"
	EventErrorOccurred      = "error_occurred"
	EventRecoveryComplete   = "recovery_complete"
	EventForceShutdown      = "force_shutdown"
)

// DefaultMaxRecoveryAttempts bounds supervisor self-recovery.
const DefaultMaxRecoveryAttempts = 3

// SupervisorData is the typed context data of the supervisory machine.
type SupervisorData struct {
	RecoveryAttempts    int    `json:"recovery_attempts"`
	MaxRecoveryAttempts int    `json:"max_recovery_attempts"`
	LastError           string `json:"last_error,omitempty"`
}

// SupervisorDefinition builds the top-level supervisory machine:
// IDLE -> INITIALIZING -> ACTIVE <-> SUSPENDED, ACTIVE/SUSPENDED/ERROR ->
// SHUTDOWN (terminal), ERROR -> RECOVERING -> ACTIVE. The initializing and
// recovering states run initService, whose completion posts
// transition_complete and whose failure posts error_occurred.
func SupervisorDefinition(initService statemachine.InvokedService[SupervisorData]) statemachine.DefinitionSet[SupervisorData] {
	if initService == nil {
		initService = func(context.Context, statemachine.MachineContext[SupervisorData]) (any, error) {
			return nil, nil
		}
	}
	bootstrap := &statemachine.ServiceBinding[SupervisorData]{
		Name:       "bootstrap",
		Run:        initService,
		DoneEvent:  EventTransitionComplete,
		ErrorEvent: EventErrorOccurred,
	}

	canRecover := statemachine.Guard[SupervisorData]{
		Name: "canRecover",
		Check: func(mctx statemachine.MachineContext[SupervisorData]) bool {
			max := mctx.Data.MaxRecoveryAttempts
			if max <= 0 {
				max = DefaultMaxRecoveryAttempts
			}
			return mctx.Data.RecoveryAttempts < max
		},
		Message: "recovery attempts exhausted",
	}
	countRecovery := statemachine.Action[SupervisorData]{
		Name: "count_recovery_attempt",
		Run: func(_ context.Context, mctx *statemachine.MachineContext[SupervisorData]) error {
			mctx.Data.RecoveryAttempts++
			return nil
		},
	}
	recordError := statemachine.Action[SupervisorData]{
		Name: "record_error",
		Run: func(_ context.Context, mctx *statemachine.MachineContext[SupervisorData]) error {
			mctx.Data.LastError = "supervisor error signal"
			return nil
		},
	}
	clearError := statemachine.Action[SupervisorData]{
		Name: "clear_error",
		Run: func(_ context.Context, mctx *statemachine.MachineContext[SupervisorData]) error {
			mctx.Data.LastError = ""
			return nil
		},
	}

	return statemachine.DefinitionSet[SupervisorData]{
		ID:      "supervisor",
		Version: "v1",
		States: []statemachine.StateDefinition[SupervisorData]{
			{Name: StateIdle, Initial: true},
			{Name: StateInitializing, Service: bootstrap},
			{Name: StateActive},
			{Name: StateSuspended},
			{Name: StateError, Failure: true},
			{Name: StateRecovering, Service: bootstrap},
			{Name: StateShutdown, Terminal: true},
		},
		Transitions: []statemachine.TransitionDefinition[SupervisorData]{
			{Event: EventInitialize, From: StateIdle, To: StateInitializing},
			{Event: EventTransitionComplete, From: StateInitializing, To: StateActive},
			{Event: EventErrorOccurred, From: StateInitializing, To: StateError, Actions: []statemachine.Action[SupervisorData]{recordError}},
			{Event: EventPause, From: StateActive, To: StateSuspended},
			{Event: EventResume, From: StateSuspended, To: StateActive},
			{Event: EventStop, From: StateActive, To: StateShutdown},
			{Event: EventStop, From: StateSuspended, To: StateShutdown},
			{Event: EventStop, From: StateError, To: StateShutdown},
			{Event: EventErrorOccurred, From: StateActive, To: StateError, Actions: []statemachine.Action[SupervisorData]{recordError}},
			{
				Event:   EventRecoveryComplete,
				From:    StateError,
				To:      StateRecovering,
				Guards:  []statemachine.Guard[SupervisorData]{canRecover},
				Actions: []statemachine.Action[SupervisorData]{countRecovery},
			},
			{Event: EventTransitionComplete, From: StateRecovering, To: StateActive, Actions: []statemachine.Action[SupervisorData]{clearError}},
			{Event: EventErrorOccurred, From: StateRecovering, To: StateError, Actions: []statemachine.Action[SupervisorData]{recordError}},
			{Event: EventForceShutdown, From: StateError, To: StateShutdown},
		},
	}
}
