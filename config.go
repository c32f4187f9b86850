package statemachine

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MachineConfig is the declarative authoring form of a definition set.
// Guards, actions, and services are referenced by name and resolved against
// registries at bind time; entry/exit hooks and invariants are code-only.
type MachineConfig struct {
	ID          string             `json:"id" yaml:"id"`
	Version     string             `json:"version,omitempty" yaml:"version,omitempty"`
	States      []StateConfig      `json:"states" yaml:"states"`
	Transitions []TransitionConfig `json:"transitions" yaml:"transitions"`
}

// StateConfig declares one state.
type StateConfig struct {
	Name     string         `json:"name" yaml:"name"`
	Initial  bool           `json:"initial,omitempty" yaml:"initial,omitempty"`
	Terminal bool           `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	Failure  bool           `json:"failure,omitempty" yaml:"failure,omitempty"`
	Service  *ServiceConfig `json:"service,omitempty" yaml:"service,omitempty"`
}

// ServiceConfig declares an invoked-service binding.
type ServiceConfig struct {
	Name         string `json:"name" yaml:"name"`
	Done         string `json:"done" yaml:"done"`
	Error        string `json:"error" yaml:"error"`
	Timeout      string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	TimeoutEvent string `json:"timeout_event,omitempty" yaml:"timeout_event,omitempty"`
}

// TransitionConfig declares one transition.
type TransitionConfig struct {
	Event   string   `json:"event" yaml:"event"`
	From    string   `json:"from" yaml:"from"`
	To      string   `json:"to" yaml:"to"`
	Guards  []string `json:"guards,omitempty" yaml:"guards,omitempty"`
	Actions []string `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ParseMachineConfig parses JSON or YAML into a MachineConfig.
func ParseMachineConfig(data []byte) (MachineConfig, error) {
	var cfg MachineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// yaml handles JSON too, so a single attempt is fine
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the structural shape before binding.
func (c MachineConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("machine config id required")
	}
	if len(c.States) == 0 {
		return fmt.Errorf("machine config %s requires states", c.ID)
	}
	for _, st := range c.States {
		if strings.TrimSpace(st.Name) == "" {
			return fmt.Errorf("machine config %s has empty state name", c.ID)
		}
		if st.Service != nil {
			if strings.TrimSpace(st.Service.Name) == "" {
				return fmt.Errorf("machine config %s state %s service requires a name", c.ID, st.Name)
			}
			if strings.TrimSpace(st.Service.Done) == "" || strings.TrimSpace(st.Service.Error) == "" {
				return fmt.Errorf("machine config %s state %s service requires done and error events", c.ID, st.Name)
			}
			if st.Service.Timeout != "" {
				if _, err := time.ParseDuration(st.Service.Timeout); err != nil {
					return fmt.Errorf("machine config %s state %s invalid timeout: %w", c.ID, st.Name, err)
				}
			}
		}
	}
	for _, tr := range c.Transitions {
		if strings.TrimSpace(tr.Event) == "" {
			return fmt.Errorf("machine config %s transition missing event", c.ID)
		}
		if strings.TrimSpace(tr.From) == "" || strings.TrimSpace(tr.To) == "" {
			return fmt.Errorf("machine config %s transition %s missing from/to", c.ID, tr.Event)
		}
	}
	return nil
}

// BindConfig resolves a MachineConfig into an executable DefinitionSet using
// the provided registries. Unknown guard, action, or service references fail
// the bind.
func BindConfig[T any](
	cfg MachineConfig,
	guards *GuardRegistry[T],
	actions *ActionRegistry[T],
	services *ServiceRegistry[T],
) (DefinitionSet[T], error) {
	if err := cfg.Validate(); err != nil {
		return DefinitionSet[T]{}, err
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "v1"
	}
	def := DefinitionSet[T]{
		ID:      strings.TrimSpace(cfg.ID),
		Version: version,
	}
	for _, st := range cfg.States {
		sd := StateDefinition[T]{
			Name:     st.Name,
			Initial:  st.Initial,
			Terminal: st.Terminal,
			Failure:  st.Failure,
		}
		if st.Service != nil {
			svc, ok := services.Lookup(st.Service.Name)
			if !ok {
				return DefinitionSet[T]{}, fmt.Errorf("machine config %s state %s references unknown service %s", cfg.ID, st.Name, st.Service.Name)
			}
			timeout := time.Duration(0)
			if st.Service.Timeout != "" {
				timeout, _ = time.ParseDuration(st.Service.Timeout)
			}
			sd.Service = &ServiceBinding[T]{
				Name:         st.Service.Name,
				Run:          svc,
				DoneEvent:    st.Service.Done,
				ErrorEvent:   st.Service.Error,
				Timeout:      timeout,
				TimeoutEvent: st.Service.TimeoutEvent,
			}
		}
		def.States = append(def.States, sd)
	}
	for _, tr := range cfg.Transitions {
		td := TransitionDefinition[T]{
			Event: tr.Event,
			From:  tr.From,
			To:    tr.To,
		}
		for _, ref := range tr.Guards {
			guard, ok := guards.Lookup(ref)
			if !ok {
				return DefinitionSet[T]{}, fmt.Errorf("machine config %s transition %s references unknown guard %s", cfg.ID, tr.Event, ref)
			}
			td.Guards = append(td.Guards, guard)
		}
		for _, ref := range tr.Actions {
			action, ok := actions.Lookup(ref)
			if !ok {
				return DefinitionSet[T]{}, fmt.Errorf("machine config %s transition %s references unknown action %s", cfg.ID, tr.Event, ref)
			}
			td.Actions = append(td.Actions, action)
		}
		def.Transitions = append(def.Transitions, td)
	}
	if err := def.Validate(); err != nil {
		return DefinitionSet[T]{}, err
	}
	return def, nil
}
