package machine

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-statemachine"
)

// startService launches the state's invoked service under a cancellable
// context. Completion or failure is routed back through the dispatcher as an
// ordinary event; a timeout cancels the service context and posts the
// state's fallback event instead. A completion arriving after the machine
// has moved on, or after a timeout already fired, is dropped.
func (m *Machine[T]) startService(ctx context.Context, st statemachine.StateDefinition[T], snap statemachine.MachineContext[T]) {
	binding := st.Service
	state := statemachine.NormalizeState(st.Name)
	logger := statemachine.WithLoggerFields(m.logger.WithContext(ctx), map[string]any{
		"service": binding.Name,
		"state":   state,
	})

	m.svcMu.Lock()
	m.svcGen++
	gen := m.svcGen
	svcCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.svcCancel = cancel
	if binding.Timeout > 0 {
		timeoutEvent := binding.TimeoutEvent
		if timeoutEvent == "" {
			timeoutEvent = binding.ErrorEvent
		}
		m.svcTimer = time.AfterFunc(binding.Timeout, func() {
			if !m.invalidateService(gen) {
				return
			}
			logger.Warn("service timed out after %s", binding.Timeout)
			m.events.DispatchPriority(timeoutEvent, statemachine.TimeoutNotice{
				Service: binding.Name,
				State:   state,
				After:   binding.Timeout,
			}, statemachine.PriorityHigh)
		})
	}
	m.svcMu.Unlock()

	logger.Debug("service started timeout=%s", binding.Timeout)
	go func() {
		start := time.Now()
		value, err := binding.Run(svcCtx, snap)
		elapsed := time.Since(start)

		if !m.invalidateService(gen) {
			logger.Debug("late service completion dropped after %s", elapsed)
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Debug("service cancelled after %s", elapsed)
				return
			}
			logger.Warn("service failed after %s: %v", elapsed, err)
			m.events.DispatchPriority(binding.ErrorEvent, statemachine.ServiceFailure{
				Service: binding.Name,
				State:   state,
				Err:     err,
				Elapsed: elapsed,
			}, statemachine.PriorityHigh)
			return
		}
		logger.Debug("service completed after %s", elapsed)
		m.events.DispatchPriority(binding.DoneEvent, statemachine.ServiceResult{
			Service: binding.Name,
			State:   state,
			Value:   value,
			Elapsed: elapsed,
		}, statemachine.PriorityHigh)
	}()
}

// invalidateService claims completion for the given generation. It returns
// false when another outcome (timeout, cancellation, newer service) already
// claimed it.
func (m *Machine[T]) invalidateService(gen uint64) bool {
	m.svcMu.Lock()
	defer m.svcMu.Unlock()
	if m.svcGen != gen {
		return false
	}
	m.svcGen++
	if m.svcTimer != nil {
		m.svcTimer.Stop()
		m.svcTimer = nil
	}
	if m.svcCancel != nil {
		m.svcCancel()
		m.svcCancel = nil
	}
	return true
}

// cancelService aborts the running invoked service, if any. Called when the
// machine leaves the service's state or shuts down.
func (m *Machine[T]) cancelService() {
	m.svcMu.Lock()
	defer m.svcMu.Unlock()
	m.svcGen++
	if m.svcTimer != nil {
		m.svcTimer.Stop()
		m.svcTimer = nil
	}
	if m.svcCancel != nil {
		m.svcCancel()
		m.svcCancel = nil
	}
}
