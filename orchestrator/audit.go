package orchestrator

import (
	"sync"

	"github.com/petestewart/orch-sub001/eventbus"
)

// AuditEntry is one bus event captured for later inspection. Grounded on
// agents/audit.go's AuditLogger/StoreAuditLogger pair, adapted from a
// database-backed writer keyed by runID/ticketID to an event-bus
// subscriber keyed by the event's own tag and correlation id — the spec
// carries no database (see Non-goals), so the trail is bounded in-memory
// rather than persisted.
type AuditEntry struct {
	CorrelationID string
	Tag           eventbus.Tag
	Summary       string
}

// AuditTrail records the last maxEntries bus events for post-hoc
// inspection via Orchestrator.AuditTrail(). It is a passive subscriber: it
// never blocks a handler and never mutates orchestrator state.
type AuditTrail struct {
	mu         sync.Mutex
	maxEntries int
	entries    []AuditEntry
}

// NewAuditTrail constructs a trail retaining at most maxEntries records,
// discarding the oldest first once full.
func NewAuditTrail(maxEntries int) *AuditTrail {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &AuditTrail{maxEntries: maxEntries}
}

// Attach subscribes the trail to every event the bus carries.
func (a *AuditTrail) Attach(bus *eventbus.Bus) eventbus.Unsubscribe {
	return bus.SubscribeAll(a.record)
}

func (a *AuditTrail) record(ev eventbus.OrchEvent) {
	entry := AuditEntry{
		CorrelationID: ev.CorrelationID().String(),
		Tag:           ev.Tag(),
		Summary:       summarize(ev),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	if len(a.entries) > a.maxEntries {
		a.entries = a.entries[len(a.entries)-a.maxEntries:]
	}
}

// Entries returns a snapshot of the recorded entries, oldest first.
func (a *AuditTrail) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEntry(nil), a.entries...)
}

// summarize renders a short, human-readable line for ev. Kept as a
// type-switch rather than a Stringer on eventbus.OrchEvent itself, since
// the event package's job is to carry data, not format it.
func summarize(ev eventbus.OrchEvent) string {
	switch e := ev.(type) {
	case eventbus.TicketStatusChanged:
		return e.TicketID + ": " + e.From + " -> " + e.To + " (" + e.Reason + ")"
	case eventbus.TicketAssigned:
		return e.TicketID + ": assigned to agent"
	case eventbus.AgentSpawned:
		return e.TicketID + ": agent spawned (" + e.AgentType + ")"
	case eventbus.AgentCompleted:
		return e.TicketID + ": agent completed"
	case eventbus.AgentFailed:
		return e.TicketID + ": agent failed: " + e.Err
	case eventbus.AgentBlocked:
		return e.TicketID + ": agent blocked: " + e.Reason
	case eventbus.EpicConflict:
		return e.EpicName + ": merge conflict at " + e.Path
	case eventbus.WorktreeMerged:
		return e.EpicName + ": merged at " + e.Path
	case eventbus.LogEntry:
		return string(e.Level) + ": " + e.Message
	default:
		return string(ev.Tag())
	}
}
