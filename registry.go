package statemachine

import "fmt"

// GuardRegistry stores named guards for definition sets authored in config.
type GuardRegistry[T any] struct {
	guards map[string]Guard[T]
}

// NewGuardRegistry creates an empty registry.
func NewGuardRegistry[T any]() *GuardRegistry[T] {
	return &GuardRegistry[T]{guards: make(map[string]Guard[T])}
}

// Register stores a guard under its name.
func (g *GuardRegistry[T]) Register(guard Guard[T]) error {
	if guard.Name == "" || guard.Check == nil {
		return nil
	}
	if g.guards == nil {
		g.guards = make(map[string]Guard[T])
	}
	if _, exists := g.guards[guard.Name]; exists {
		return fmt.Errorf("guard %s already registered", guard.Name)
	}
	g.guards[guard.Name] = guard
	return nil
}

// Lookup retrieves a guard by name.
func (g *GuardRegistry[T]) Lookup(name string) (Guard[T], bool) {
	if g == nil {
		return Guard[T]{}, false
	}
	guard, ok := g.guards[name]
	return guard, ok
}

// ActionRegistry stores named transition actions.
type ActionRegistry[T any] struct {
	actions map[string]Action[T]
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry[T any]() *ActionRegistry[T] {
	return &ActionRegistry[T]{actions: make(map[string]Action[T])}
}

// Register stores an action under its name.
func (r *ActionRegistry[T]) Register(action Action[T]) error {
	if action.Name == "" || action.Run == nil {
		return nil
	}
	if r.actions == nil {
		r.actions = make(map[string]Action[T])
	}
	if _, exists := r.actions[action.Name]; exists {
		return fmt.Errorf("action %s already registered", action.Name)
	}
	r.actions[action.Name] = action
	return nil
}

// Lookup retrieves an action by name.
func (r *ActionRegistry[T]) Lookup(name string) (Action[T], bool) {
	if r == nil {
		return Action[T]{}, false
	}
	act, ok := r.actions[name]
	return act, ok
}

// ServiceRegistry stores named invoked services.
type ServiceRegistry[T any] struct {
	services map[string]InvokedService[T]
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry[T any]() *ServiceRegistry[T] {
	return &ServiceRegistry[T]{services: make(map[string]InvokedService[T])}
}

// Register stores a service under name.
func (r *ServiceRegistry[T]) Register(name string, svc InvokedService[T]) error {
	if name == "" || svc == nil {
		return nil
	}
	if r.services == nil {
		r.services = make(map[string]InvokedService[T])
	}
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("service %s already registered", name)
	}
	r.services[name] = svc
	return nil
}

// Lookup retrieves a service by name.
func (r *ServiceRegistry[T]) Lookup(name string) (InvokedService[T], bool) {
	if r == nil {
		return nil, false
	}
	svc, ok := r.services[name]
	return svc, ok
}
