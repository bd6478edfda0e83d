// Package errs defines the orchestrator's error kinds as distinct types
// rather than opaque strings, so callers can type-switch or errors.As
// instead of matching on message text.
package errs

import "fmt"

// PlanParseError reports a malformed plan document, naming the offending line.
type PlanParseError struct {
	Line    int
	Message string
}

func (e *PlanParseError) Error() string {
	return fmt.Sprintf("plan parse error at line %d: %s", e.Line, e.Message)
}

// InvalidTransitionError reports an illegal status transition attempt.
type InvalidTransitionError struct {
	TicketID string
	From     string
	To       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("ticket %s: invalid transition %s -> %s", e.TicketID, e.From, e.To)
}

// DependencyError reports an unknown or cyclic dependency reference.
type DependencyError struct {
	TicketID string
	Reason   string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("ticket %s: dependency error: %s", e.TicketID, e.Reason)
}

// ConcurrencyLimitError reports that the agent concurrency cap was reached.
type ConcurrencyLimitError struct {
	MaxAgents int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit reached: maxAgents=%d", e.MaxAgents)
}

// CostLimitError reports that spawning was refused because the session's
// accumulated cost has crossed its configured cap under a "pause" or "stop"
// action.
type CostLimitError struct {
	SessionCost float64
	Limit       float64
}

func (e *CostLimitError) Error() string {
	return fmt.Sprintf("session cost limit reached: $%.2f >= $%.2f", e.SessionCost, e.Limit)
}

// EpicCapacityError reports that an epic's worktree cap was reached.
type EpicCapacityError struct {
	EpicName string
	Max      int
}

func (e *EpicCapacityError) Error() string {
	return fmt.Sprintf("epic %q: worktree capacity reached (max %d)", e.EpicName, e.Max)
}

// EpicNotFoundError reports a reference to an epic not derived from the plan.
type EpicNotFoundError struct {
	EpicName string
}

func (e *EpicNotFoundError) Error() string {
	return fmt.Sprintf("epic %q: not found", e.EpicName)
}

// WorktreeError wraps a failed version-control subprocess invocation.
type WorktreeError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *WorktreeError) Error() string {
	return fmt.Sprintf("worktree op %q failed: %v: %s", e.Op, e.Err, e.Stderr)
}

func (e *WorktreeError) Unwrap() error { return e.Err }

// MergeConflictError is not treated as exceptional by the orchestrator — it
// is reported via an epic:conflict event — but is still a distinct type so
// callers that do want to branch on it in code (tests, CLI) can.
type MergeConflictError struct {
	Path          string
	ConflictFiles []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict at %s: %v", e.Path, e.ConflictFiles)
}

// NoMergeInProgressError reports that RetryMerge was called with nothing to commit.
type NoMergeInProgressError struct {
	Path string
}

func (e *NoMergeInProgressError) Error() string {
	return fmt.Sprintf("no merge in progress at %s", e.Path)
}

// AgentCrashError captures the context of a non-zero subprocess exit.
type AgentCrashError struct {
	AgentID  int
	TicketID string
	ExitCode int
}

func (e *AgentCrashError) Error() string {
	return fmt.Sprintf("agent %d (ticket %s) crashed: exit code %d", e.AgentID, e.TicketID, e.ExitCode)
}

// ValidationTimeout reports that a validation command exceeded its timeout.
type ValidationTimeout struct {
	Command string
	Timeout string
}

func (e *ValidationTimeout) Error() string {
	return fmt.Sprintf("validation command %q exceeded timeout %s", e.Command, e.Timeout)
}

// ConfigError reports a fatal configuration problem at startup.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error (%s): %s", e.Key, e.Message)
}
