package statemachine

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInvalidEvent       = "FSM_INVALID_EVENT"
	ErrCodeGuardRejected      = "FSM_GUARD_REJECTED"
	ErrCodeInvariantViolated  = "FSM_INVARIANT_VIOLATED"
	ErrCodeExecutorBusy       = "FSM_EXECUTOR_BUSY"
	ErrCodeTerminalState      = "FSM_TERMINAL_STATE"
	ErrCodeServiceTimeout     = "FSM_SERVICE_TIMEOUT"
	ErrCodeInstanceNotFound   = "FSM_INSTANCE_NOT_FOUND"
	ErrCodePreconditionFailed = "FSM_PRECONDITION_FAILED"
)

var (
	ErrInvalidEvent = apperrors.New("event not legal in current state", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeInvalidEvent)
	ErrGuardRejected = apperrors.New("guard rejected", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeGuardRejected)
	ErrInvariantViolated = apperrors.New("state invariant violated", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvariantViolated)
	ErrExecutorBusy = apperrors.New("transition already executing", apperrors.CategoryConflict).
			WithTextCode(ErrCodeExecutorBusy)
	ErrTerminalState = apperrors.New("terminal state accepts no events", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeTerminalState)
	ErrServiceTimeout = apperrors.New("invoked service timed out", apperrors.CategoryExternal).
				WithTextCode(ErrCodeServiceTimeout)
	ErrInstanceNotFound = apperrors.New("machine instance not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInstanceNotFound)
	ErrPreconditionFailed = apperrors.New("precondition failed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodePreconditionFailed)
)

// WrapError clones one of the sentinel runtime errors with an occurrence
// message, source, and metadata, keeping the category and text code stable.
func WrapError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrPreconditionFailed
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode extracts the runtime text code from err, or "" when err is not a
// runtime error.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsGuardRejected reports whether err is a guard rejection.
func IsGuardRejected(err error) bool {
	return ErrorCode(err) == ErrCodeGuardRejected
}

// IsInvalidEvent reports whether err is an invalid-event rejection.
func IsInvalidEvent(err error) bool {
	return ErrorCode(err) == ErrCodeInvalidEvent
}

// IsTerminalState reports whether err is a terminal-state rejection.
func IsTerminalState(err error) bool {
	return ErrorCode(err) == ErrCodeTerminalState
}
