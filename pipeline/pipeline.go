// Package pipeline encodes the ticket status state machine as a pure,
// side-effect-free lookup, so its transition rules can be unit tested
// without a running orchestrator. Loosely grounded in the teacher's
// kanban.Status enum and the ad hoc stage-transition switch in
// agents/spawner.go (GetNextStageAgent), rebuilt here as an explicit table
// rather than logic interleaved with subprocess spawning.
package pipeline

import (
	"github.com/petestewart/orch-sub001/errs"
	"github.com/petestewart/orch-sub001/plan"
)

// Mode is how a review/QA stage is driven.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeApproval  Mode = "approval"
	ModeManual    Mode = "manual"
	ModeSkip      Mode = "skip"
)

// Automation holds the subset of configuration the pipeline needs to
// decide transitions: whether the Review and QA stages are active, and
// how ticket progression through them is driven.
type Automation struct {
	TicketProgression Mode
	ReviewMode        Mode
	QAMode            Mode
}

// GetNextStatus returns the status that following current's default edge
// reaches, given automation's review/qa skip settings. It does not apply
// to the Failed or rejection edges, which are explicit operator/caller
// decisions (see CanReject, CanRetry) rather than a "next" step.
func GetNextStatus(current plan.Status, automation Automation) (plan.Status, bool) {
	switch current {
	case plan.StatusTodo:
		return plan.StatusInProgress, true
	case plan.StatusInProgress:
		if automation.ReviewMode == ModeSkip {
			if automation.QAMode == ModeSkip {
				return plan.StatusDone, true
			}
			return plan.StatusQA, true
		}
		return plan.StatusReview, true
	case plan.StatusReview:
		if automation.QAMode == ModeSkip {
			return plan.StatusDone, true
		}
		return plan.StatusQA, true
	case plan.StatusQA:
		return plan.StatusDone, true
	}
	return "", false
}

// validEdges enumerates every other legal (from, to) pair: the explicit
// rejection and retry edges, which GetNextStatus does not produce.
var validEdges = map[plan.Status]map[plan.Status]bool{
	plan.StatusReview: {plan.StatusTodo: true},
	plan.StatusQA:     {plan.StatusTodo: true},
	plan.StatusFailed: {plan.StatusTodo: true},
}

// AssertValidTransition fails unless to is either the automation-aware
// "next" status for from, or one of the explicit rejection/retry edges.
func AssertValidTransition(from, to plan.Status, automation Automation, ticketID string) error {
	if next, ok := GetNextStatus(from, automation); ok && next == to {
		return nil
	}
	if validEdges[from][to] {
		return nil
	}
	// InProgress/Review/QA can always fail out.
	if to == plan.StatusFailed && from != plan.StatusTodo && from != plan.StatusDone && from != plan.StatusFailed {
		return nil
	}
	return &errs.InvalidTransitionError{TicketID: ticketID, From: string(from), To: string(to)}
}

// CanAdvance reports whether status has a defined "next" edge.
func CanAdvance(status plan.Status) bool {
	switch status {
	case plan.StatusTodo, plan.StatusInProgress, plan.StatusReview, plan.StatusQA:
		return true
	}
	return false
}

// CanReject reports whether status may be rejected back to Todo.
func CanReject(status plan.Status) bool {
	return status == plan.StatusReview || status == plan.StatusQA
}

// CanRetry reports whether a Failed ticket may be retried.
func CanRetry(status plan.Status) bool {
	return status == plan.StatusFailed
}
