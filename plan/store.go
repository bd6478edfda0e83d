package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/petestewart/orch-sub001/errs"
	"github.com/petestewart/orch-sub001/eventbus"
)

// Store is the mutex-guarded, file-backed handle onto the plan. It is the
// single writer of the plan file: every mutation goes through Store so that
// reads never observe a half-written document, and every status change is
// published on the bus for the orchestrator and audit trail to observe
// (owner and feedback changes are persisted but not published).
type Store struct {
	mu       sync.RWMutex
	filePath string
	bus      *eventbus.Bus
	snapshot *Snapshot
}

// NewStore constructs a Store bound to filePath. Load must be called before
// any other method is used.
func NewStore(filePath string, bus *eventbus.Bus) *Store {
	return &Store{filePath: filePath, bus: bus, snapshot: &Snapshot{}}
}

// Load reads and parses the plan file, replacing the in-memory snapshot.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("read plan file: %w", err)
	}
	snap, err := ParseMarkdown(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.NewPlanLoaded(len(snap.Tickets), len(snap.Epics)))
	}
	return nil
}

// save re-serializes the current snapshot's tickets and writes them
// atomically: a temp file in the same directory, synced, then renamed over
// the target. Grounded on the teacher's kanban state writer, adapted from
// JSON to the plan's Markdown grammar.
func (s *Store) save() error {
	body := Serialize(s.snapshot.Tickets)

	dir := filepath.Dir(s.filePath)
	tmp, err := os.CreateTemp(dir, ".plan-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp plan file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp plan file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp plan file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp plan file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("rename plan file: %w", err)
	}
	return nil
}

// Snapshot returns the current in-memory snapshot. Callers must not mutate
// the returned tickets; use the mutation methods below instead.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// GetTicket returns the ticket with the given id (case-insensitive).
func (s *Store) GetTicket(id string) (*Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(id)
}

func (s *Store) findLocked(id string) (*Ticket, bool) {
	norm := NormalizedID(id)
	for _, t := range s.snapshot.Tickets {
		if t.ID == norm {
			return t, true
		}
	}
	return nil, false
}

// UpdateTicketStatus transitions ticket id to newStatus, persists the plan,
// and publishes ticket:status-changed.
func (s *Store) UpdateTicketStatus(id string, newStatus Status, reason, changedBy string) error {
	s.mu.Lock()
	t, ok := s.findLocked(id)
	if !ok {
		s.mu.Unlock()
		return &errs.DependencyError{TicketID: id, Reason: "ticket not found"}
	}
	from := t.Status
	t.Status = newStatus
	err := s.save()
	if err != nil {
		t.Status = from
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.NewTicketStatusChanged(t.ID, string(from), string(newStatus), reason, changedBy))
	}
	return nil
}

// UpdateTicketOwner reassigns a ticket's owner field and persists the plan.
func (s *Store) UpdateTicketOwner(id, owner string) error {
	s.mu.Lock()
	t, ok := s.findLocked(id)
	if !ok {
		s.mu.Unlock()
		return &errs.DependencyError{TicketID: id, Reason: "ticket not found"}
	}
	from := t.Owner
	t.Owner = owner
	err := s.save()
	if err != nil {
		t.Owner = from
	}
	s.mu.Unlock()
	return err
}

// AddTicketFeedback records reviewer/QA feedback on a ticket and persists
// the plan. Existing feedback is replaced with the latest round, mirroring
// how the plan file only ever shows the most recent feedback block.
func (s *Store) AddTicketFeedback(id, feedback string) error {
	s.mu.Lock()
	t, ok := s.findLocked(id)
	if !ok {
		s.mu.Unlock()
		return &errs.DependencyError{TicketID: id, Reason: "ticket not found"}
	}
	from := t.Feedback
	t.Feedback = feedback
	err := s.save()
	if err != nil {
		t.Feedback = from
	}
	s.mu.Unlock()
	return err
}
