package statemachine

import (
	"fmt"
	"testing"

	apperrors "github.com/goliatone/go-errors"
)

func TestWrapErrorKeepsCodeAndCategory(t *testing.T) {
	cause := fmt.Errorf("queue closed")
	err := WrapError(ErrInvalidEvent, "pay not legal in state shipped", cause, map[string]any{
		"machine_id": "order-1",
		"event":      "pay",
	})

	if ErrorCode(err) != ErrCodeInvalidEvent {
		t.Fatalf("expected code carried, got %s", ErrorCode(err))
	}
	if err.Category != apperrors.CategoryBadInput {
		t.Fatalf("expected bad input category, got %v", err.Category)
	}
	if err.Message != "pay not legal in state shipped" {
		t.Fatalf("unexpected message %s", err.Message)
	}
	if err.Source != cause {
		t.Fatal("expected source preserved")
	}
	if err.Metadata["event"] != "pay" {
		t.Fatalf("expected metadata, got %+v", err.Metadata)
	}
}

func TestWrapErrorDoesNotMutateSentinel(t *testing.T) {
	before := ErrGuardRejected.Message
	_ = WrapError(ErrGuardRejected, "inventory guard failed", nil, nil)
	if ErrGuardRejected.Message != before {
		t.Fatal("sentinel mutated by wrap")
	}
}

func TestErrorPredicatesMatchWrappedErrors(t *testing.T) {
	if !IsGuardRejected(WrapError(ErrGuardRejected, "", nil, nil)) {
		t.Fatal("expected guard rejection predicate")
	}
	if !IsInvalidEvent(WrapError(ErrInvalidEvent, "", nil, nil)) {
		t.Fatal("expected invalid event predicate")
	}
	if !IsTerminalState(WrapError(ErrTerminalState, "", nil, nil)) {
		t.Fatal("expected terminal state predicate")
	}
	if IsGuardRejected(fmt.Errorf("plain")) {
		t.Fatal("plain errors should not match")
	}
	if ErrorCode(fmt.Errorf("plain")) != "" {
		t.Fatal("plain errors carry no code")
	}
}
