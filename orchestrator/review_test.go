package orchestrator

import (
	"testing"

	"github.com/petestewart/orch-sub001/plan"
)

func TestParseDecisionLineFindsLastRecognizedReviewToken(t *testing.T) {
	output := []string{
		"Using Read tool: main.go",
		"Looks mostly fine, but CHANGES_REQUESTED: add a test",
		"Actually on reflection, APPROVED",
	}
	if got := parseDecisionLine(plan.StatusReview, output); got != "APPROVED" {
		t.Errorf("got %q, want APPROVED (the last decision line wins)", got)
	}
}

func TestParseDecisionLineQAUsesQATokens(t *testing.T) {
	output := []string{"ran the suite", "PASSED"}
	if got := parseDecisionLine(plan.StatusQA, output); got != "PASSED" {
		t.Errorf("got %q, want PASSED", got)
	}
}

func TestParseDecisionLineReturnsEmptyWhenNoTokenPresent(t *testing.T) {
	output := []string{"did some work", "no clear verdict here"}
	if got := parseDecisionLine(plan.StatusReview, output); got != "" {
		t.Errorf("got %q, want empty string for unrecognized output", got)
	}
}

func TestParseDecisionLineIsCaseInsensitive(t *testing.T) {
	output := []string{"changes_requested: fix the typo"}
	if got := parseDecisionLine(plan.StatusReview, output); got != "CHANGES_REQUESTED" {
		t.Errorf("got %q, want CHANGES_REQUESTED", got)
	}
}
