// Package statemachine provides the shared contracts for a hierarchical
// finite-state-machine runtime: typed machine contexts, state and transition
// definitions, guard and action registries, the event envelope consumed by the
// priority dispatcher, and the error and logging conventions used by every
// component package.
//
// The runtime itself is assembled from the component subpackages:
//
//   - validator: static transition-table checks and guard evaluation
//   - executor: single-flight transition execution with atomic commit
//   - dispatcher: priority event queue, subscriptions, and processing loop
//   - history: bounded transition/event ledgers and performance analysis
//   - machine: one live machine instance binding definitions to a context
//   - hub: registry, health aggregation, and the supervisory machine
package statemachine
