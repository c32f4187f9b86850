package statemachine

import "time"

// Event priorities. Lower values are served first; ties are broken by
// enqueue order.
const (
	PriorityCritical = 0
	PriorityHigh     = 10
	PriorityDefault  = 50
	PriorityLow      = 90
)

// Event is the envelope posted to a machine instance. Payload carries the
// domain value for the event; runtime-synthesized events use the tagged
// payload types below so receivers can switch on the concrete type instead
// of probing an untyped bag.
type Event struct {
	Name       string
	Payload    any
	Priority   int
	EnqueuedAt time.Time
}

// ServiceResult is the payload of the completion event posted when an
// invoked service finishes successfully.
type ServiceResult struct {
	Service string
	State   string
	Value   any
	Elapsed time.Duration
}

// ServiceFailure is the payload of the error event posted when an invoked
// service returns an error.
type ServiceFailure struct {
	Service string
	State   string
	Err     error
	Elapsed time.Duration
}

// TimeoutNotice is the payload of the fallback event posted when an invoked
// service does not complete within the state's timeout. The service context
// is cancelled before the notice is posted.
type TimeoutNotice struct {
	Service string
	State   string
	After   time.Duration
}
