// Package agent manages concurrent, long-running "claude" CLI subprocesses:
// spawning them with a constructed prompt, streaming and parsing their
// output for markers/tool-calls/token usage, and terminating them
// gracefully. Grounded primarily on agents/spawner.go (spawn + prompt
// construction) and secondarily on zulandar-railyard's
// internal/engine/subprocess.go (graceful stop, streaming readers).
package agent

import "time"

// Type tags which of the four prompt/decision variants an agent runs.
// Modeled as a plain string tag rather than an interface hierarchy:
// BuildPrompt picks the prompt body by tag from promptBodies in prompt.go,
// and the orchestrator's parseDecisionLine picks the decision vocabulary
// by pipeline stage, matching the spec's explicit design note against
// interface/inheritance polymorphism here.
type Type string

const (
	TypeImplementation Type = "implementation"
	TypeReview         Type = "review"
	TypeQA             Type = "qa"
	TypeRefine         Type = "refine"
)

// State is an agent's lifecycle state.
type State string

const (
	StateStarting State = "Starting"
	StateWorking  State = "Working"
	StateComplete State = "Complete"
	StateFailed   State = "Failed"
	StateBlocked  State = "Blocked"
	StateStopped  State = "Stopped"
)

// SpawnOptions configures one agent spawn.
type SpawnOptions struct {
	TicketID     string
	AgentType    Type
	ProjectPath  string
	WorkingDir   string
	Branch       string
	Ticket       TicketView
	PrevFeedback string
	Model        string
}

// TicketView is the subset of plan.Ticket the prompt builder needs,
// decoupling this package from the plan package's concrete type.
type TicketView struct {
	ID           string
	Title        string
	Description  string
	Priority     string
	Epic         string
	Dependencies []string
	Acceptance   []string
	Validation   []string
	Notes        string
}

// CostRates gives the per-million-token pricing used to derive cost from
// token counts. Defaults match the spec's documented rates.
type CostRates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultCostRates are the spec's documented default rates.
var DefaultCostRates = CostRates{InputPerMillion: 3.00, OutputPerMillion: 15.00}

// Cost computes the dollar cost of inputTokens/outputTokens at r's rates.
func (r CostRates) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*r.InputPerMillion +
		float64(outputTokens)/1_000_000*r.OutputPerMillion
}

// agentRecord is the manager's internal per-agent bookkeeping.
type agentRecord struct {
	id         int
	ticketID   string
	agentType  Type
	state      State
	pid        int
	stop       func()
	kill       func()
	done       chan struct{}
	buffer     *StreamingOutputBuffer
	output     []string
	blockedMsg string
	exitCode   int
	startedAt  time.Time

	lastCost   float64 // last cost seen for this agent, to compute session deltas
	costWarned bool    // whether a per-ticket cost warning has already fired
}
