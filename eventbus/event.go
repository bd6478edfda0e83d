// Package eventbus implements the orchestrator's synchronous publish/subscribe
// bus. Events are a closed set of tagged variants rather than a duck-typed
// payload, so subscribers can type-switch exhaustively.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Tag identifies the kind of event carried by an OrchEvent.
type Tag string

const (
	TagPlanLoaded         Tag = "plan:loaded"
	TagTicketStatusChange Tag = "ticket:status-changed"
	TagTicketAssigned     Tag = "ticket:assigned"
	TagTicketsReady       Tag = "tickets:ready"
	TagAgentSpawned       Tag = "agent:spawned"
	TagAgentProgress      Tag = "agent:progress"
	TagAgentCompleted     Tag = "agent:completed"
	TagAgentFailed        Tag = "agent:failed"
	TagAgentBlocked       Tag = "agent:blocked"
	TagAgentStopped       Tag = "agent:stopped"
	TagWorktreeCreated    Tag = "epic:worktree-created"
	TagWorktreeMerged     Tag = "epic:worktree-merged"
	TagEpicConflict       Tag = "epic:conflict"
	TagLogEntry           Tag = "log:entry"
)

// OrchEvent is the closed set of event variants the bus delivers. The
// unexported marker method keeps the set closed to this package's types.
type OrchEvent interface {
	orchEvent()
	Tag() Tag
	CorrelationID() uuid.UUID
	OccurredAt() time.Time
}

type base struct {
	id uuid.UUID
	at time.Time
}

func newBase() base {
	return base{id: uuid.New(), at: time.Now()}
}

func (b base) orchEvent()                 {}
func (b base) CorrelationID() uuid.UUID   { return b.id }
func (b base) OccurredAt() time.Time      { return b.at }

// PlanLoaded is published when the plan store finishes a successful load.
type PlanLoaded struct {
	base
	TicketCount int
	EpicCount   int
}

func (PlanLoaded) Tag() Tag { return TagPlanLoaded }

// NewPlanLoaded constructs a PlanLoaded event.
func NewPlanLoaded(ticketCount, epicCount int) PlanLoaded {
	return PlanLoaded{base: newBase(), TicketCount: ticketCount, EpicCount: epicCount}
}

// TicketStatusChanged is published whenever a ticket's status mutates.
type TicketStatusChanged struct {
	base
	TicketID  string
	From      string
	To        string
	Reason    string
	ChangedBy string
}

func (TicketStatusChanged) Tag() Tag { return TagTicketStatusChange }

func NewTicketStatusChanged(ticketID, from, to, reason, changedBy string) TicketStatusChanged {
	return TicketStatusChanged{base: newBase(), TicketID: ticketID, From: from, To: to, Reason: reason, ChangedBy: changedBy}
}

// TicketAssigned is published when a ticket is bound to a newly spawned agent.
type TicketAssigned struct {
	base
	TicketID string
	AgentID  int
}

func (TicketAssigned) Tag() Tag { return TagTicketAssigned }

func NewTicketAssigned(ticketID string, agentID int) TicketAssigned {
	return TicketAssigned{base: newBase(), TicketID: ticketID, AgentID: agentID}
}

// TicketsReady is published whenever the ready set becomes non-empty.
type TicketsReady struct {
	base
	TicketIDs []string
}

func (TicketsReady) Tag() Tag { return TagTicketsReady }

func NewTicketsReady(ids []string) TicketsReady {
	return TicketsReady{base: newBase(), TicketIDs: ids}
}

// AgentSpawned is published immediately after a subprocess starts.
type AgentSpawned struct {
	base
	AgentID      int
	TicketID     string
	AgentType    string
	WorkingDir   string
	ProcessID    int
}

func (AgentSpawned) Tag() Tag { return TagAgentSpawned }

func NewAgentSpawned(agentID int, ticketID, agentType, workingDir string, pid int) AgentSpawned {
	return AgentSpawned{base: newBase(), AgentID: agentID, TicketID: ticketID, AgentType: agentType, WorkingDir: workingDir, ProcessID: pid}
}

// AgentProgress is published after every stream chunk is parsed.
type AgentProgress struct {
	base
	AgentID      int
	TicketID     string
	Progress     int
	LastChunk    string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

func (AgentProgress) Tag() Tag { return TagAgentProgress }

func NewAgentProgress(agentID int, ticketID string, progress int, lastChunk string, in, out int, cost float64) AgentProgress {
	return AgentProgress{base: newBase(), AgentID: agentID, TicketID: ticketID, Progress: progress, LastChunk: lastChunk, InputTokens: in, OutputTokens: out, Cost: cost}
}

// AgentCompleted is published on a clean exit that printed the completion
// marker, or on any clean exit when strict completion-marker checking is off.
type AgentCompleted struct {
	base
	AgentID  int
	TicketID string
	Output   string
}

func (AgentCompleted) Tag() Tag { return TagAgentCompleted }

func NewAgentCompleted(agentID int, ticketID, output string) AgentCompleted {
	return AgentCompleted{base: newBase(), AgentID: agentID, TicketID: ticketID, Output: output}
}

// AgentFailed is published on a non-zero exit or a crash, and, when strict
// completion-marker checking is on, on a clean exit without the marker.
type AgentFailed struct {
	base
	AgentID  int
	TicketID string
	ExitCode int
	Err      string
}

func (AgentFailed) Tag() Tag { return TagAgentFailed }

func NewAgentFailed(agentID int, ticketID string, exitCode int, err string) AgentFailed {
	return AgentFailed{base: newBase(), AgentID: agentID, TicketID: ticketID, ExitCode: exitCode, Err: err}
}

// AgentBlocked is published when the blocked marker is observed.
type AgentBlocked struct {
	base
	AgentID  int
	TicketID string
	Reason   string
}

func (AgentBlocked) Tag() Tag { return TagAgentBlocked }

func NewAgentBlocked(agentID int, ticketID, reason string) AgentBlocked {
	return AgentBlocked{base: newBase(), AgentID: agentID, TicketID: ticketID, Reason: reason}
}

// AgentStopped is published once Stop has forced an agent to a terminal state.
type AgentStopped struct {
	base
	AgentID int
	Forced  bool
}

func (AgentStopped) Tag() Tag { return TagAgentStopped }

func NewAgentStopped(agentID int, forced bool) AgentStopped {
	return AgentStopped{base: newBase(), AgentID: agentID, Forced: forced}
}

// WorktreeCreated is published when a new worktree is allocated on disk.
type WorktreeCreated struct {
	base
	EpicName string
	Path     string
	Branch   string
	AgentID  int
}

func (WorktreeCreated) Tag() Tag { return TagWorktreeCreated }

func NewWorktreeCreated(epicName, path, branch string, agentID int) WorktreeCreated {
	return WorktreeCreated{base: newBase(), EpicName: epicName, Path: path, Branch: branch, AgentID: agentID}
}

// WorktreeMerged is published when a merge completes cleanly.
type WorktreeMerged struct {
	base
	EpicName string
	Path     string
	CommitID string
}

func (WorktreeMerged) Tag() Tag { return TagWorktreeMerged }

func NewWorktreeMerged(epicName, path, commitID string) WorktreeMerged {
	return WorktreeMerged{base: newBase(), EpicName: epicName, Path: path, CommitID: commitID}
}

// EpicConflict is published when a merge leaves unresolved paths.
type EpicConflict struct {
	base
	EpicName      string
	Path          string
	ConflictFiles []string
}

func (EpicConflict) Tag() Tag { return TagEpicConflict }

func NewEpicConflict(epicName, path string, conflictFiles []string) EpicConflict {
	return EpicConflict{base: newBase(), EpicName: epicName, Path: path, ConflictFiles: conflictFiles}
}

// LogLevel mirrors the four levels recognized by Config.LogLevel.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is the bus-native bridge to structured logging: handlers that want
// a uniform log stream subscribe to this tag instead of threading a logger
// through every component.
type LogEntry struct {
	base
	Level   LogLevel
	Message string
	Fields  map[string]any
}

func (LogEntry) Tag() Tag { return TagLogEntry }

func NewLogEntry(level LogLevel, message string, fields map[string]any) LogEntry {
	return LogEntry{base: newBase(), Level: level, Message: message, Fields: fields}
}
