package statemachine

import "context"

// Instance is the non-generic surface a live machine instance exposes to the
// hub and to operational tooling. The concrete machine type is generic over
// its context data; the hub only needs identity, health, and event posting.
type Instance interface {
	ID() string
	CurrentState() string
	IsHealthy() bool
	Send(ctx context.Context, evt Event) error
	PendingEvents() int
	ActiveTransitions() int
	Shutdown(ctx context.Context) error
}

// InstanceFactory builds a fresh instance of a registered machine at its
// definition's initial state with empty history. The hub calls it on restart.
type InstanceFactory func(ctx context.Context) (Instance, error)
