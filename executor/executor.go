// Package executor applies validated transitions to a machine context. One
// execution runs the full hook/action/invariant sequence and commits the
// context atomically: a failure at any step, including a destination
// invariant violation, leaves the live context untouched.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-statemachine"
	"github.com/goliatone/go-statemachine/validator"
)

// Result captures one transition execution outcome. Duration is measured
// end-to-end across guard evaluation, hooks, actions, commit, and invariant
// checks.
type Result struct {
	Success      bool
	Duration     time.Duration
	ActionsRun   []string
	FailedGuards []string
	Err          error
}

// Option customizes an Executor.
type Option[T any] func(*Executor[T])

// WithLogger sets the executor logger.
func WithLogger[T any](logger statemachine.Logger) Option[T] {
	return func(e *Executor[T]) {
		e.logger = statemachine.NormalizeLogger(logger)
	}
}

// Executor runs transitions for one machine instance. At most one execution
// may be in flight at a time; a concurrent second call is rejected
// immediately rather than queued.
type Executor[T any] struct {
	def      statemachine.DefinitionSet[T]
	check    *validator.Validator[T]
	logger   statemachine.Logger
	inFlight atomic.Bool
}

// New builds an executor over a definition set and its validator.
func New[T any](def statemachine.DefinitionSet[T], check *validator.Validator[T], opts ...Option[T]) (*Executor[T], error) {
	if check == nil {
		return nil, fmt.Errorf("executor requires a validator")
	}
	e := &Executor[T]{
		def:    def,
		check:  check,
		logger: statemachine.NormalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// InFlight reports whether a transition is currently executing.
func (e *Executor[T]) InFlight() bool {
	return e.inFlight.Load()
}

// Execute runs one transition against mctx. Steps, strictly ordered and
// abortable at each: guard evaluation, current state's exit hook, transition
// actions in declared order, staged state commit, destination entry hook,
// destination invariants. The live context is only replaced after every step
// has passed.
func (e *Executor[T]) Execute(ctx context.Context, tr statemachine.TransitionDefinition[T], mctx *statemachine.MachineContext[T]) Result {
	fields := map[string]any{
		"machine_id": mctx.Metadata.MachineID,
		"from":       statemachine.NormalizeState(tr.From),
		"to":         statemachine.NormalizeState(tr.To),
		"event":      statemachine.NormalizeEvent(tr.Event),
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{Err: statemachine.WrapError(
			statemachine.ErrExecutorBusy,
			"transition already executing for this instance",
			nil,
			fields,
		)}
	}
	defer e.inFlight.Store(false)

	logger := statemachine.WithLoggerFields(e.logger.WithContext(ctx), fields)
	start := time.Now()
	done := func(res Result) Result {
		res.Duration = time.Since(start)
		return res
	}

	report := e.check.EvaluateGuards(tr.Guards, *mctx)
	if !report.Valid {
		logger.Warn("transition rejected by guards: %s", strings.Join(report.FailedGuards(), ", "))
		return done(Result{
			FailedGuards: report.FailedGuards(),
			Err: statemachine.WrapError(
				statemachine.ErrGuardRejected,
				guardFailureMessage(report),
				nil,
				fields,
			),
		})
	}

	staged := mctx.Clone()

	if current, ok := e.def.State(staged.CurrentState); ok && current.OnExit != nil {
		if err := current.OnExit(ctx, &staged); err != nil {
			logger.Error("exit hook failed: %v", err)
			return done(Result{Err: statemachine.WrapError(
				statemachine.ErrPreconditionFailed,
				fmt.Sprintf("exit hook of state %s failed", staged.CurrentState),
				err,
				fields,
			)})
		}
	}

	var actionsRun []string
	for _, action := range tr.Actions {
		if action.Run == nil {
			continue
		}
		if err := action.Run(ctx, &staged); err != nil {
			logger.Error("action %s failed: %v", action.Name, err)
			return done(Result{
				ActionsRun: actionsRun,
				Err: statemachine.WrapError(
					statemachine.ErrPreconditionFailed,
					fmt.Sprintf("action %s failed", action.Name),
					err,
					fields,
				),
			})
		}
		actionsRun = append(actionsRun, action.Name)
	}

	staged.PreviousState = staged.CurrentState
	staged.CurrentState = statemachine.NormalizeState(tr.To)
	staged.Timestamp = time.Now().UTC()

	dest, ok := e.def.State(staged.CurrentState)
	if !ok {
		return done(Result{
			ActionsRun: actionsRun,
			Err: statemachine.WrapError(
				statemachine.ErrPreconditionFailed,
				fmt.Sprintf("destination state %s not defined", tr.To),
				nil,
				fields,
			),
		})
	}
	if dest.OnEntry != nil {
		if err := dest.OnEntry(ctx, &staged); err != nil {
			logger.Error("entry hook failed: %v", err)
			return done(Result{
				ActionsRun: actionsRun,
				Err: statemachine.WrapError(
					statemachine.ErrPreconditionFailed,
					fmt.Sprintf("entry hook of state %s failed", staged.CurrentState),
					err,
					fields,
				),
			})
		}
	}

	for _, inv := range dest.Invariants {
		if inv.Check == nil {
			continue
		}
		if inv.Check(staged) {
			continue
		}
		logger.Error("invariant %s violated entering state %s", inv.Name, staged.CurrentState)
		return done(Result{
			ActionsRun: actionsRun,
			Err: statemachine.WrapError(
				statemachine.ErrInvariantViolated,
				invariantMessage(inv.Name, inv.Message, staged.CurrentState),
				nil,
				fields,
			),
		})
	}

	*mctx = staged
	logger.Debug("transition committed state=%s", mctx.CurrentState)
	return done(Result{Success: true, ActionsRun: actionsRun})
}

func guardFailureMessage(report validator.GuardReport) string {
	parts := make([]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Guard, f.Message))
	}
	return "guards rejected transition: " + strings.Join(parts, "; ")
}

func invariantMessage(name, message, state string) string {
	if message == "" {
		message = "invariant check failed"
	}
	if name == "" {
		return fmt.Sprintf("state %s: %s", state, message)
	}
	return fmt.Sprintf("state %s invariant %s: %s", state, name, message)
}
