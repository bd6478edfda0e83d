package pipeline

import (
	"testing"

	"github.com/petestewart/orch-sub001/plan"
)

func TestGetNextStatusHappyPath(t *testing.T) {
	auto := Automation{ReviewMode: ModeAutomatic, QAMode: ModeAutomatic}
	cases := []struct {
		from plan.Status
		want plan.Status
	}{
		{plan.StatusTodo, plan.StatusInProgress},
		{plan.StatusInProgress, plan.StatusReview},
		{plan.StatusReview, plan.StatusQA},
		{plan.StatusQA, plan.StatusDone},
	}
	for _, tc := range cases {
		got, ok := GetNextStatus(tc.from, auto)
		if !ok || got != tc.want {
			t.Errorf("GetNextStatus(%s) = (%s, %v), want (%s, true)", tc.from, got, ok, tc.want)
		}
	}
}

func TestGetNextStatusSkipsReview(t *testing.T) {
	auto := Automation{ReviewMode: ModeSkip, QAMode: ModeAutomatic}
	got, ok := GetNextStatus(plan.StatusInProgress, auto)
	if !ok || got != plan.StatusQA {
		t.Errorf("got (%s, %v), want (QA, true)", got, ok)
	}
}

func TestGetNextStatusSkipsBothReviewAndQA(t *testing.T) {
	auto := Automation{ReviewMode: ModeSkip, QAMode: ModeSkip}
	got, ok := GetNextStatus(plan.StatusInProgress, auto)
	if !ok || got != plan.StatusDone {
		t.Errorf("got (%s, %v), want (Done, true)", got, ok)
	}
}

func TestGetNextStatusSkipsQAOnly(t *testing.T) {
	auto := Automation{ReviewMode: ModeAutomatic, QAMode: ModeSkip}
	got, ok := GetNextStatus(plan.StatusReview, auto)
	if !ok || got != plan.StatusDone {
		t.Errorf("got (%s, %v), want (Done, true)", got, ok)
	}
}

func TestGetNextStatusTerminalHasNoNext(t *testing.T) {
	auto := Automation{ReviewMode: ModeAutomatic, QAMode: ModeAutomatic}
	if _, ok := GetNextStatus(plan.StatusDone, auto); ok {
		t.Error("Done should have no next status")
	}
	if _, ok := GetNextStatus(plan.StatusFailed, auto); ok {
		t.Error("Failed should have no next status via GetNextStatus")
	}
}

func TestAssertValidTransitionAcceptsDefaultEdge(t *testing.T) {
	auto := Automation{ReviewMode: ModeAutomatic, QAMode: ModeAutomatic}
	if err := AssertValidTransition(plan.StatusTodo, plan.StatusInProgress, auto, "T1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAssertValidTransitionAcceptsRejectionEdges(t *testing.T) {
	auto := Automation{ReviewMode: ModeAutomatic, QAMode: ModeAutomatic}
	if err := AssertValidTransition(plan.StatusReview, plan.StatusTodo, auto, "T1"); err != nil {
		t.Errorf("Review -> Todo should be a valid rejection edge: %v", err)
	}
	if err := AssertValidTransition(plan.StatusQA, plan.StatusTodo, auto, "T1"); err != nil {
		t.Errorf("QA -> Todo should be a valid rejection edge: %v", err)
	}
	if err := AssertValidTransition(plan.StatusFailed, plan.StatusTodo, auto, "T1"); err != nil {
		t.Errorf("Failed -> Todo should be a valid retry edge: %v", err)
	}
}

func TestAssertValidTransitionAcceptsFailureEdge(t *testing.T) {
	auto := Automation{ReviewMode: ModeAutomatic, QAMode: ModeAutomatic}
	if err := AssertValidTransition(plan.StatusInProgress, plan.StatusFailed, auto, "T1"); err != nil {
		t.Errorf("InProgress -> Failed should be valid: %v", err)
	}
}

func TestAssertValidTransitionRejectsArbitraryEdge(t *testing.T) {
	auto := Automation{ReviewMode: ModeAutomatic, QAMode: ModeAutomatic}
	err := AssertValidTransition(plan.StatusTodo, plan.StatusDone, auto, "T1")
	if err == nil {
		t.Fatal("expected an error for Todo -> Done")
	}
	if _, ok := err.(interface{ Error() string }); !ok {
		t.Fatalf("expected an error value, got %T", err)
	}
}

func TestCanAdvanceCanRejectCanRetry(t *testing.T) {
	if !CanAdvance(plan.StatusTodo) || !CanAdvance(plan.StatusReview) {
		t.Error("Todo and Review should be advanceable")
	}
	if CanAdvance(plan.StatusDone) || CanAdvance(plan.StatusFailed) {
		t.Error("Done and Failed should not be advanceable")
	}
	if !CanReject(plan.StatusReview) || !CanReject(plan.StatusQA) {
		t.Error("Review and QA should be rejectable")
	}
	if CanReject(plan.StatusInProgress) {
		t.Error("InProgress should not be directly rejectable")
	}
	if !CanRetry(plan.StatusFailed) {
		t.Error("Failed should be retryable")
	}
	if CanRetry(plan.StatusDone) {
		t.Error("Done should not be retryable")
	}
}
