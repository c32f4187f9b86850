package statemachine

import (
	"encoding/json"
	"time"
)

// ContextMetadata carries the static identity of the owning machine.
type ContextMetadata struct {
	MachineID      string
	MachineVersion string
	Config         map[string]any
}

// MachineContext is the live context of one machine instance. Data holds the
// machine's typed domain values. The context is mutated only by the transition
// executor under the instance's single-writer discipline; everything handed to
// guards, invariants, and external callers is a copy.
type MachineContext[T any] struct {
	CurrentState  string
	PreviousState string
	Data          T
	Timestamp     time.Time
	Metadata      ContextMetadata
}

// Clone returns a shallow copy of the context. Data is copied by value; if T
// contains reference types the caller shares them with the original.
func (c MachineContext[T]) Clone() MachineContext[T] {
	cp := c
	cp.Metadata.Config = copyMap(c.Metadata.Config)
	return cp
}

// DataSnapshot renders Data as a plain string-keyed map for recording
// purposes. Values that do not marshal cleanly are wrapped under "value".
func (c MachineContext[T]) DataSnapshot() map[string]any {
	raw, err := json.Marshal(c.Data)
	if err != nil {
		return map[string]any{"value": c.Data}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"value": c.Data}
	}
	return out
}

func copyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
