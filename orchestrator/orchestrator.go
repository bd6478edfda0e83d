// Package orchestrator binds the plan store, dependency graph, status
// pipeline, worktree manager, agent manager, and validation runner into
// the single control loop that drives tickets from Todo to Done. Grounded
// in orchestrator.go's Run/runCycle ticker shape and its
// processDevStage/runDevAgent/runReviewAgent division of labor, adapted
// from the teacher's PRD/domain-routed pipeline to the spec's
// dependency-graph-driven one.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/petestewart/orch-sub001/agent"
	"github.com/petestewart/orch-sub001/config"
	"github.com/petestewart/orch-sub001/depgraph"
	"github.com/petestewart/orch-sub001/errs"
	"github.com/petestewart/orch-sub001/eventbus"
	"github.com/petestewart/orch-sub001/pipeline"
	"github.com/petestewart/orch-sub001/plan"
	"github.com/petestewart/orch-sub001/validate"
	"github.com/petestewart/orch-sub001/worktree"
)

// ticketAllocation is the worktree the orchestrator handed to a ticket's
// implementation agent. It outlives the agent itself: the Review and QA
// agents spawned later for the same ticket reuse the same working
// directory, since ReleaseWorktree only frees the epic's concurrency slot
// and never deletes the directory.
type ticketAllocation struct {
	reservation int
	workDir     string
	branch      string
}

// reviewAssignment records which ticket and pipeline stage a spawned
// Review/QA agent is judging.
type reviewAssignment struct {
	ticketID string
	stage    plan.Status
}

// Orchestrator is the top-level control loop. Cyclic-reference avoidance
// (spec §9): the Orchestrator holds the Agent Manager, but the Agent
// Manager only ever talks back through the event bus — it holds no
// reference to the Orchestrator.
type Orchestrator struct {
	mu sync.Mutex

	cfg       config.Config
	planStore *plan.Store
	graph     *depgraph.Graph
	agents    *agent.Manager
	worktrees *worktree.Manager
	validator *validate.Runner
	bus       *eventbus.Bus
	audit     *AuditTrail

	devAgents    map[int]string
	reviewAgents map[int]reviewAssignment
	allocations  map[string]*ticketAllocation

	nextReservation int
	running         bool
	runCtx          context.Context
	stopCh          chan struct{}
	unsubs          []eventbus.Unsubscribe
}

// New constructs an Orchestrator. The plan store, agent manager, worktree
// manager, and bus are expected to already be wired to each other by the
// caller (see cmd/orchd); Start performs the one-time setup that needs
// the plan loaded first (graph construction, epic discovery).
func New(cfg config.Config, planStore *plan.Store, agents *agent.Manager, worktrees *worktree.Manager, validator *validate.Runner, bus *eventbus.Bus) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		planStore:    planStore,
		agents:       agents,
		worktrees:    worktrees,
		validator:    validator,
		bus:          bus,
		audit:        NewAuditTrail(500),
		devAgents:    make(map[int]string),
		reviewAgents: make(map[int]reviewAssignment),
		allocations:  make(map[string]*ticketAllocation),
	}
	o.audit.Attach(bus)
	return o
}

// AuditTrail returns the orchestrator's bounded event history.
func (o *Orchestrator) AuditTrail() []AuditEntry {
	return o.audit.Entries()
}

// Start loads the plan, builds the dependency graph, initializes the
// worktree manager, subscribes to agent lifecycle events, and enters the
// ticker-driven cycle loop. It blocks until ctx is cancelled or Stop is
// called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: already running")
	}
	o.running = true
	o.runCtx = ctx
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	if err := o.planStore.Load(); err != nil {
		return fmt.Errorf("orchestrator: load plan: %w", err)
	}
	o.rebuildGraph()

	epics := worktree.DiscoverEpics(o.planStore.Snapshot().Tickets)
	for _, warning := range o.worktrees.Initialize(epics) {
		o.bus.Publish(eventbus.NewLogEntry(eventbus.LevelWarn, warning, nil))
	}

	o.mu.Lock()
	o.unsubs = []eventbus.Unsubscribe{
		o.bus.Subscribe(eventbus.TagAgentCompleted, o.onAgentCompleted),
		o.bus.Subscribe(eventbus.TagAgentFailed, o.onAgentFailed),
		o.bus.Subscribe(eventbus.TagAgentBlocked, o.onAgentBlocked),
	}
	o.mu.Unlock()

	if ready := o.graph.GetReadyTickets(); len(ready) > 0 {
		o.bus.Publish(eventbus.NewTicketsReady(ready))
	}

	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.Stop()
			return ctx.Err()
		case <-o.stopCh:
			return nil
		case <-ticker.C:
			o.Tick()
		}
	}
}

// Stop halts the cycle loop, stops every running agent, and clears
// per-run bookkeeping. Idempotent: a second call is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	unsubs := o.unsubs
	o.unsubs = nil
	stopCh := o.stopCh
	o.mu.Unlock()

	o.agents.StopAll()
	for _, unsub := range unsubs {
		unsub()
	}

	o.mu.Lock()
	o.devAgents = make(map[int]string)
	o.reviewAgents = make(map[int]reviewAssignment)
	o.mu.Unlock()

	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
}

func (o *Orchestrator) rebuildGraph() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.graph = depgraph.Build(o.planStore.Snapshot().Tickets)
}

func (o *Orchestrator) context() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runCtx != nil {
		return o.runCtx
	}
	return context.Background()
}

// Tick assigns ready tickets to agents, in automatic mode, until the
// concurrency cap is reached. Per-ticket assignment errors are logged and
// do not abort the loop.
func (o *Orchestrator) Tick() {
	if o.cfg.Automation().TicketProgression != pipeline.ModeAutomatic {
		return
	}
	o.mu.Lock()
	ready := o.graph.GetReadyTickets()
	o.mu.Unlock()

	for _, id := range ready {
		if !o.agents.CanSpawn() {
			break
		}
		if _, err := o.AssignTicket(id); err != nil {
			o.bus.Publish(eventbus.NewLogEntry(eventbus.LevelWarn, "assign ticket failed: "+err.Error(), map[string]any{"ticket": id}))
		}
	}
}

// AssignTicket moves ticketID from Todo to InProgress: it allocates a
// worktree, spawns an Implementation agent in it, and records the
// agent -> ticket mapping.
func (o *Orchestrator) AssignTicket(ticketID string) (int, error) {
	t, ok := o.planStore.GetTicket(ticketID)
	if !ok {
		return 0, &errs.DependencyError{TicketID: ticketID, Reason: "ticket not found"}
	}

	automation := o.cfg.Automation()
	if err := pipeline.AssertValidTransition(t.Status, plan.StatusInProgress, automation, ticketID); err != nil {
		return 0, err
	}

	o.mu.Lock()
	blocking := o.graph.GetBlockedBy(ticketID)
	o.mu.Unlock()
	if len(blocking) > 0 {
		return 0, &errs.DependencyError{TicketID: ticketID, Reason: "blocked by " + strings.Join(blocking, ", ")}
	}

	if !o.agents.CanSpawn() {
		return 0, &errs.ConcurrencyLimitError{MaxAgents: o.cfg.MaxAgents}
	}

	o.mu.Lock()
	o.nextReservation++
	reservation := o.nextReservation
	o.mu.Unlock()

	workDir, branch, _, err := o.worktrees.AllocateWorktree(t, reservation)
	if err != nil {
		return 0, err
	}

	opts := agent.SpawnOptions{
		TicketID:    t.ID,
		AgentType:   agent.TypeImplementation,
		ProjectPath: o.cfg.RepoRoot,
		WorkingDir:  workDir,
		Branch:      branch,
		Ticket:      toTicketView(t),
		Model:       o.cfg.AgentModel,
	}
	agentID, err := o.agents.Spawn(o.context(), opts)
	if err != nil {
		o.worktrees.ReleaseWorktree(reservation)
		return 0, err
	}

	o.mu.Lock()
	o.devAgents[agentID] = t.ID
	o.allocations[t.ID] = &ticketAllocation{reservation: reservation, workDir: workDir, branch: branch}
	o.mu.Unlock()

	if err := o.planStore.UpdateTicketStatus(t.ID, plan.StatusInProgress, "assigned to agent", "orchestrator"); err != nil {
		return agentID, err
	}
	_ = o.planStore.UpdateTicketOwner(t.ID, fmt.Sprintf("agent-%d", agentID))

	o.mu.Lock()
	o.graph.UpdateTicketStatus(t.ID, plan.StatusInProgress)
	o.mu.Unlock()

	o.bus.Publish(eventbus.NewTicketAssigned(t.ID, agentID))
	return agentID, nil
}

func (o *Orchestrator) onAgentCompleted(ev eventbus.OrchEvent) {
	e := ev.(eventbus.AgentCompleted)
	o.HandleAgentComplete(e.AgentID)
}

func (o *Orchestrator) onAgentFailed(ev eventbus.OrchEvent) {
	e := ev.(eventbus.AgentFailed)
	o.HandleAgentFailed(e.AgentID, e.Err)
}

func (o *Orchestrator) onAgentBlocked(ev eventbus.OrchEvent) {
	e := ev.(eventbus.AgentBlocked)
	o.HandleAgentBlocked(e.AgentID, e.Reason)
}

// HandleAgentComplete reacts to an agent's clean exit (see
// eventbus.AgentCompleted for when that needs the completion marker).
// A Review/QA agent's completion is delegated to handleReviewComplete; an
// Implementation agent's completion runs validation in its worktree, then
// advances or fails the ticket. The worktree's epic slot is always
// released, win or lose.
func (o *Orchestrator) HandleAgentComplete(agentID int) {
	o.mu.Lock()
	if ra, ok := o.reviewAgents[agentID]; ok {
		delete(o.reviewAgents, agentID)
		o.mu.Unlock()
		o.handleReviewComplete(agentID, ra)
		return
	}
	ticketID, ok := o.devAgents[agentID]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.devAgents, agentID)
	alloc := o.allocations[ticketID]
	o.mu.Unlock()

	if alloc == nil {
		return
	}
	defer o.worktrees.ReleaseWorktree(alloc.reservation)

	t, ok := o.planStore.GetTicket(ticketID)
	if !ok {
		return
	}

	result := o.validator.Run(o.context(), alloc.workDir, t.Validation)
	if result.Passed {
		_ = o.AdvanceTicket(ticketID)
	} else {
		_ = o.planStore.AddTicketFeedback(ticketID, validationFailureSummary(result))
		_ = o.planStore.UpdateTicketStatus(ticketID, plan.StatusFailed, "validation failed", "orchestrator")
		o.mu.Lock()
		o.graph.UpdateTicketStatus(ticketID, plan.StatusFailed)
		o.mu.Unlock()
	}

	if o.cfg.Automation().TicketProgression == pipeline.ModeAutomatic {
		o.Tick()
	}
}

// HandleAgentFailed transitions ticketID to Failed on a crashed or
// non-zero-exit agent and releases its worktree slot.
func (o *Orchestrator) HandleAgentFailed(agentID int, reason string) {
	o.mu.Lock()
	ticketID, ok := o.devAgents[agentID]
	if ok {
		delete(o.devAgents, agentID)
	} else if ra, rok := o.reviewAgents[agentID]; rok {
		ticketID = ra.ticketID
		delete(o.reviewAgents, agentID)
	}
	alloc := o.allocations[ticketID]
	o.mu.Unlock()

	if ticketID == "" {
		return
	}
	if alloc != nil {
		o.worktrees.ReleaseWorktree(alloc.reservation)
	}

	_ = o.planStore.AddTicketFeedback(ticketID, "agent failed: "+reason)
	_ = o.planStore.UpdateTicketStatus(ticketID, plan.StatusFailed, reason, "orchestrator")
	o.mu.Lock()
	o.graph.UpdateTicketStatus(ticketID, plan.StatusFailed)
	o.mu.Unlock()
}

// HandleAgentBlocked keeps a blocked ticket in InProgress, appends the
// agent's stated reason as feedback, and logs a warning. The operator
// decides whether to stop and retry.
func (o *Orchestrator) HandleAgentBlocked(agentID int, reason string) {
	o.mu.Lock()
	ticketID, ok := o.devAgents[agentID]
	if !ok {
		if ra, rok := o.reviewAgents[agentID]; rok {
			ticketID, ok = ra.ticketID, true
		}
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	_ = o.planStore.AddTicketFeedback(ticketID, "agent blocked: "+reason)
	o.bus.Publish(eventbus.NewLogEntry(eventbus.LevelWarn, "agent blocked on ticket "+ticketID+": "+reason, map[string]any{"ticket": ticketID}))
}

// AdvanceTicket moves ticketID to the next status along its default edge,
// spawning a Review/QA agent or logging a manual-review requirement as
// appropriate, and re-publishes tickets:ready once a ticket reaches Done
// and new tickets may have become unblocked.
func (o *Orchestrator) AdvanceTicket(ticketID string) error {
	t, ok := o.planStore.GetTicket(ticketID)
	if !ok {
		return &errs.DependencyError{TicketID: ticketID, Reason: "ticket not found"}
	}

	automation := o.cfg.Automation()
	next, ok := pipeline.GetNextStatus(t.Status, automation)
	if !ok {
		return &errs.InvalidTransitionError{TicketID: ticketID, From: string(t.Status), To: "<none>"}
	}
	if err := pipeline.AssertValidTransition(t.Status, next, automation, ticketID); err != nil {
		return err
	}

	if err := o.planStore.UpdateTicketStatus(ticketID, next, "advanced", "orchestrator"); err != nil {
		return err
	}
	o.mu.Lock()
	o.graph.UpdateTicketStatus(ticketID, next)
	o.mu.Unlock()

	switch next {
	case plan.StatusReview:
		o.spawnReviewStage(ticketID, plan.StatusReview, automation.ReviewMode)
	case plan.StatusQA:
		o.spawnReviewStage(ticketID, plan.StatusQA, automation.QAMode)
	case plan.StatusDone:
		o.mu.Lock()
		alloc := o.allocations[ticketID]
		delete(o.allocations, ticketID)
		ready := o.graph.GetReadyTickets()
		o.mu.Unlock()
		if alloc != nil {
			_ = o.worktrees.CleanupWorktree(alloc.workDir)
		}
		if len(ready) > 0 {
			o.bus.Publish(eventbus.NewTicketsReady(ready))
		}
	}
	return nil
}

// RejectTicket sends ticketID from Review or QA back to Todo, recording
// feedback for the next implementation attempt.
func (o *Orchestrator) RejectTicket(ticketID, feedback string) error {
	t, ok := o.planStore.GetTicket(ticketID)
	if !ok {
		return &errs.DependencyError{TicketID: ticketID, Reason: "ticket not found"}
	}
	if !pipeline.CanReject(t.Status) {
		return &errs.InvalidTransitionError{TicketID: ticketID, From: string(t.Status), To: string(plan.StatusTodo)}
	}

	if feedback != "" {
		_ = o.planStore.AddTicketFeedback(ticketID, feedback)
	}
	if err := o.planStore.UpdateTicketStatus(ticketID, plan.StatusTodo, "rejected: "+feedback, "orchestrator"); err != nil {
		return err
	}
	o.mu.Lock()
	o.graph.UpdateTicketStatus(ticketID, plan.StatusTodo)
	delete(o.allocations, ticketID)
	o.mu.Unlock()
	return nil
}

// RetryTicket sends a Failed ticket back to Todo, gated by the Agent
// Manager's per-ticket retry cap.
func (o *Orchestrator) RetryTicket(ticketID string) error {
	t, ok := o.planStore.GetTicket(ticketID)
	if !ok {
		return &errs.DependencyError{TicketID: ticketID, Reason: "ticket not found"}
	}
	if !pipeline.CanRetry(t.Status) {
		return &errs.InvalidTransitionError{TicketID: ticketID, From: string(t.Status), To: string(plan.StatusTodo)}
	}
	if !o.agents.CanRetry(ticketID) {
		return fmt.Errorf("orchestrator: ticket %s exceeded its retry limit", ticketID)
	}

	if err := o.planStore.UpdateTicketStatus(ticketID, plan.StatusTodo, "retry requested", "orchestrator"); err != nil {
		return err
	}
	o.mu.Lock()
	o.graph.UpdateTicketStatus(ticketID, plan.StatusTodo)
	delete(o.allocations, ticketID)
	o.mu.Unlock()
	return nil
}

// ApproveReviewDecision is the explicit operator action that advances a
// ticket sitting in Review/QA under "approval" or "manual" automation.
func (o *Orchestrator) ApproveReviewDecision(ticketID string) error {
	return o.AdvanceTicket(ticketID)
}

// ManualRejectReview is the explicit operator action that rejects a
// ticket sitting in Review/QA under "approval" or "manual" automation.
func (o *Orchestrator) ManualRejectReview(ticketID, feedback string) error {
	return o.RejectTicket(ticketID, feedback)
}

func validationFailureSummary(result validate.Result) string {
	var lines []string
	for _, step := range result.Steps {
		if step.ExitCode != 0 || step.TimedOut {
			status := fmt.Sprintf("exit %d", step.ExitCode)
			if step.TimedOut {
				status = "timed out"
			}
			lines = append(lines, fmt.Sprintf("- `%s` (%s)", step.Command, status))
		}
	}
	return "Validation failed:\n" + strings.Join(lines, "\n")
}

func toTicketView(t *plan.Ticket) agent.TicketView {
	return agent.TicketView{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		Priority:     string(t.Priority),
		Epic:         t.Epic,
		Dependencies: t.Dependencies,
		Acceptance:   t.Acceptance,
		Validation:   t.Validation,
		Notes:        t.Notes,
	}
}
