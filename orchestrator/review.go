package orchestrator

import (
	"strings"

	"github.com/petestewart/orch-sub001/agent"
	"github.com/petestewart/orch-sub001/eventbus"
	"github.com/petestewart/orch-sub001/pipeline"
	"github.com/petestewart/orch-sub001/plan"
)

// reviewTokens and qaTokens are the decision vocabulary §4.8.1 names:
// APPROVED/CHANGES_REQUESTED for Review, PASSED/FAILED for QA. Grounded
// in orchestrator.go's parseSignoffReport, generalized from the teacher's
// JSON-in-code-block signoff report to the spec's plain decision-line
// convention.
var (
	reviewTokens = []string{"APPROVED", "CHANGES_REQUESTED"}
	qaTokens     = []string{"PASSED", "FAILED"}
)

// spawnReviewStage starts a Review or QA agent for ticketID, unless mode
// is "manual" — in which case no agent runs and the ticket simply waits
// in its current status for an explicit ApproveReviewDecision or
// ManualRejectReview call.
func (o *Orchestrator) spawnReviewStage(ticketID string, stage plan.Status, mode pipeline.Mode) {
	if mode == pipeline.ModeManual {
		o.bus.Publish(eventbus.NewLogEntry(eventbus.LevelInfo,
			"manual "+strings.ToLower(string(stage))+" required for ticket "+ticketID,
			map[string]any{"ticket": ticketID, "stage": string(stage)}))
		return
	}
	if !o.agents.CanSpawn() {
		o.bus.Publish(eventbus.NewLogEntry(eventbus.LevelWarn,
			"cannot spawn "+strings.ToLower(string(stage))+" agent: concurrency limit reached",
			map[string]any{"ticket": ticketID}))
		return
	}

	t, ok := o.planStore.GetTicket(ticketID)
	if !ok {
		return
	}

	o.mu.Lock()
	alloc := o.allocations[ticketID]
	o.mu.Unlock()

	agentType := agent.TypeReview
	if stage == plan.StatusQA {
		agentType = agent.TypeQA
	}

	opts := agent.SpawnOptions{
		TicketID:     ticketID,
		AgentType:    agentType,
		ProjectPath:  o.cfg.RepoRoot,
		Ticket:       toTicketView(t),
		PrevFeedback: t.Feedback,
		Model:        o.cfg.AgentModel,
	}
	if alloc != nil {
		opts.WorkingDir = alloc.workDir
		opts.Branch = alloc.branch
	}

	agentID, err := o.agents.Spawn(o.context(), opts)
	if err != nil {
		o.bus.Publish(eventbus.NewLogEntry(eventbus.LevelError,
			"failed to spawn "+strings.ToLower(string(stage))+" agent: "+err.Error(),
			map[string]any{"ticket": ticketID}))
		return
	}

	o.mu.Lock()
	o.reviewAgents[agentID] = reviewAssignment{ticketID: ticketID, stage: stage}
	o.mu.Unlock()
}

// handleReviewComplete parses a Review/QA agent's decision line and, in
// "automatic" mode, applies it immediately. In "approval" mode it only
// logs the observed decision — an operator must still call
// ApproveReviewDecision or ManualRejectReview to act on it.
func (o *Orchestrator) handleReviewComplete(agentID int, ra reviewAssignment) {
	automation := o.cfg.Automation()
	mode := automation.ReviewMode
	if ra.stage == plan.StatusQA {
		mode = automation.QAMode
	}

	output, _ := o.agents.GetOutput(agentID)
	decision := parseDecisionLine(ra.stage, output)

	if mode == pipeline.ModeApproval {
		o.bus.Publish(eventbus.NewLogEntry(eventbus.LevelInfo,
			"ticket "+ra.ticketID+" awaiting approval, agent reported: "+decision,
			map[string]any{"ticket": ra.ticketID, "stage": string(ra.stage), "decision": decision}))
		return
	}

	o.applyDecision(ra.ticketID, decision)
}

// applyDecision advances or rejects ticketID based on a parsed
// APPROVED/PASSED or CHANGES_REQUESTED/FAILED decision. An unrecognized
// decision is treated conservatively as a rejection, with feedback noting
// that the decision was unrecognized, since silently advancing on ambiguous output would
// mask a reviewer that failed to follow the output convention.
func (o *Orchestrator) applyDecision(ticketID, decision string) {
	switch decision {
	case "APPROVED", "PASSED":
		_ = o.AdvanceTicket(ticketID)
	case "CHANGES_REQUESTED", "FAILED":
		_ = o.RejectTicket(ticketID, "reviewer requested changes")
	default:
		_ = o.RejectTicket(ticketID, "reviewer decision unrecognized, treated as changes requested")
	}
}

// parseDecisionLine scans output from the end for the last line
// containing one of stage's recognized decision tokens.
func parseDecisionLine(stage plan.Status, output []string) string {
	tokens := reviewTokens
	if stage == plan.StatusQA {
		tokens = qaTokens
	}
	for i := len(output) - 1; i >= 0; i-- {
		line := strings.ToUpper(output[i])
		for _, tok := range tokens {
			if strings.Contains(line, tok) {
				return tok
			}
		}
	}
	return ""
}
