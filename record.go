package statemachine

import "time"

// TransitionRecord is the immutable ledger entry written for every
// transition attempt, successful or not.
type TransitionRecord struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Snapshot  map[string]any `json:"snapshot,omitempty"`
}

// EventRecord is the ledger entry written for every dispatched event.
type EventRecord struct {
	Event     string        `json:"event"`
	State     string        `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}
