package validator

import (
	"testing"

	"github.com/goliatone/go-statemachine"
)

type release struct {
	Approved bool
	Budget   int
}

func releaseDefinition() statemachine.DefinitionSet[release] {
	return statemachine.DefinitionSet[release]{
		ID: "release",
		States: []statemachine.StateDefinition[release]{
			{Name: "draft", Initial: true},
			{Name: "review"},
			{Name: "shipped", Terminal: true},
		},
		Transitions: []statemachine.TransitionDefinition[release]{
			{Event: "submit", From: "draft", To: "review"},
			{Event: "ship", From: "review", To: "shipped"},
			{Event: "reject", From: "review", To: "draft"},
		},
	}
}

func TestNewRejectsInvalidDefinition(t *testing.T) {
	def := releaseDefinition()
	def.States = nil
	if _, err := New(def); err == nil {
		t.Fatal("expected definition validation error")
	}
}

func TestIsValidTransitionConsultsStaticTable(t *testing.T) {
	v, err := New(releaseDefinition())
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	if !v.IsValidTransition("draft", "review", "submit") {
		t.Fatal("expected declared transition to be valid")
	}
	if v.IsValidTransition("draft", "shipped", "submit") {
		t.Fatal("expected destination mismatch to be invalid")
	}
	if v.IsValidTransition("shipped", "draft", "reject") {
		t.Fatal("expected undeclared row to be invalid")
	}
	if !v.IsValidTransition(" DRAFT ", "Review", "SUBMIT") {
		t.Fatal("expected normalized lookup")
	}
}

func TestValidateEventChecksLegalityWithoutGuards(t *testing.T) {
	v, err := New(releaseDefinition())
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	if !v.ValidateEvent("review", "ship") {
		t.Fatal("expected ship legal from review")
	}
	if v.ValidateEvent("draft", "ship") {
		t.Fatal("expected ship illegal from draft")
	}
}

func TestEvaluateGuardsCollectsEveryFailure(t *testing.T) {
	v, err := New(releaseDefinition())
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	evaluated := []string{}
	guards := []statemachine.Guard[release]{
		{
			Name: "approved",
			Check: func(m statemachine.MachineContext[release]) bool {
				evaluated = append(evaluated, "approved")
				return m.Data.Approved
			},
			Message: "release requires approval",
		},
		{
			Name: "in_budget",
			Check: func(m statemachine.MachineContext[release]) bool {
				evaluated = append(evaluated, "in_budget")
				return m.Data.Budget <= 100
			},
		},
	}

	report := v.EvaluateGuards(guards, statemachine.MachineContext[release]{
		CurrentState: "review",
		Data:         release{Approved: false, Budget: 500},
	})
	if report.Valid {
		t.Fatal("expected rejection")
	}
	if len(report.Failures) != 2 {
		t.Fatalf("expected both failures collected, got %+v", report.Failures)
	}
	if len(evaluated) != 2 || evaluated[0] != "approved" || evaluated[1] != "in_budget" {
		t.Fatalf("expected declared evaluation order without short-circuit, got %v", evaluated)
	}
	if report.Failures[0].Message != "release requires approval" {
		t.Fatalf("expected guard message carried, got %+v", report.Failures[0])
	}
	if report.Failures[1].Message == "" {
		t.Fatal("expected default message for unnamed reason")
	}

	pass := v.EvaluateGuards(guards, statemachine.MachineContext[release]{
		CurrentState: "review",
		Data:         release{Approved: true, Budget: 50},
	})
	if !pass.Valid || pass.Failures != nil {
		t.Fatalf("expected clean pass, got %+v", pass)
	}
}

func TestHistoryIsBoundedAndEvictsOldest(t *testing.T) {
	v, err := New(releaseDefinition(), WithHistoryBound[release](3))
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	events := []string{"submit", "ship", "reject", "submit", "ship"}
	for _, evt := range events {
		v.ValidateEvent("draft", evt)
	}
	hist := v.History()
	if len(hist) != 3 {
		t.Fatalf("expected bounded history of 3, got %d", len(hist))
	}
	if hist[0].Event != "reject" || hist[2].Event != "ship" {
		t.Fatalf("expected oldest entries evicted, got %+v", hist)
	}
}

func TestStatsRanksFailureReasons(t *testing.T) {
	v, err := New(releaseDefinition())
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	v.ValidateEvent("draft", "submit")
	v.ValidateEvent("draft", "ship")
	v.ValidateEvent("shipped", "reject")

	denied := []statemachine.Guard[release]{{
		Name:  "approved",
		Check: func(statemachine.MachineContext[release]) bool { return false },
	}}
	v.EvaluateGuards(denied, statemachine.MachineContext[release]{CurrentState: "review"})

	stats := v.Stats()
	if stats.Evaluations != 4 || stats.Passed != 1 || stats.Failed != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SuccessRate != 0.25 {
		t.Fatalf("expected 0.25 success rate, got %f", stats.SuccessRate)
	}
	if len(stats.TopFailures) == 0 || stats.TopFailures[0].Reason != "transition not in table" {
		t.Fatalf("expected table misses ranked first, got %+v", stats.TopFailures)
	}
	if stats.TopFailures[0].Count != 2 {
		t.Fatalf("expected two table misses, got %+v", stats.TopFailures[0])
	}
}
