package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/petestewart/orch-sub001/errs"
	"github.com/petestewart/orch-sub001/eventbus"
	"github.com/petestewart/orch-sub001/plan"
)

// entry tracks one allocated worktree.
type entry struct {
	epicName  string
	path      string
	branch    string
	agentID   int
	createdAt time.Time
}

// Manager maps ticket work onto isolated working directories, capped per
// epic. Grounded in worktree_manager.go's pool-tracking/merge-retry
// pattern, re-scoped from the teacher's single global counter to a
// per-epic-keyed map guarded by the same mutex discipline.
type Manager struct {
	mu   sync.Mutex
	git  *gitRunner
	bus  *eventbus.Bus

	repoRoot            string
	maxPerEpic          int
	autoCreateWorktrees bool

	epics   map[string]*plan.Epic
	active  map[string]int    // epic name -> active count
	byAgent map[int]*entry    // agentID -> allocation
}

// Config holds the Manager's static settings.
type Config struct {
	RepoRoot            string
	MainBranch          string
	MaxWorktreesPerEpic int
	AutoCreateWorktrees bool
}

// New constructs a Manager. Initialize must be called with the plan's
// epics before allocating any worktree.
func New(cfg Config, bus *eventbus.Bus) *Manager {
	return &Manager{
		git:                 newGitRunner(cfg.RepoRoot, cfg.MainBranch),
		bus:                 bus,
		repoRoot:            cfg.RepoRoot,
		maxPerEpic:          cfg.MaxWorktreesPerEpic,
		autoCreateWorktrees: cfg.AutoCreateWorktrees,
		epics:               make(map[string]*plan.Epic),
		active:               make(map[string]int),
		byAgent:             make(map[int]*entry),
	}
}

// DiscoverEpics returns the unique epic names referenced by tickets.
func DiscoverEpics(tickets []*plan.Ticket) []*plan.Epic {
	seen := make(map[string]bool)
	var epics []*plan.Epic
	for _, t := range tickets {
		if t.Epic == "" || seen[t.Epic] {
			continue
		}
		seen[t.Epic] = true
		epics = append(epics, &plan.Epic{Name: t.Epic, Path: t.Epic})
	}
	return epics
}

// Initialize validates each epic's directory exists (logging a warning,
// not failing, if not yet created) and reconciles active counts against
// worktrees already present on disk, matching the <epic>-worktree-<agentId>
// naming pattern.
func (m *Manager) Initialize(epics []*plan.Epic) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var warnings []string
	for _, e := range epics {
		m.epics[e.Name] = e
		dir := filepath.Join(m.repoRoot, e.Path)
		if _, err := os.Stat(dir); err != nil {
			warnings = append(warnings, fmt.Sprintf("epic %q: directory %s does not exist yet", e.Name, dir))
		}
	}

	paths, err := m.git.listWorktrees()
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("list worktrees: %v", err))
		return warnings
	}
	for _, p := range paths {
		base := filepath.Base(p)
		for name := range m.epics {
			prefix := name + "-worktree-"
			if len(base) > len(prefix) && base[:len(prefix)] == prefix {
				m.active[name]++
			}
		}
	}
	return warnings
}

// AllocateWorktree assigns a working directory for ticket, owned by
// agentID. See §4.5 for the three cases this implements.
func (m *Manager) AllocateWorktree(t *plan.Ticket, agentID int) (path, branch string, isNew bool, err error) {
	if t.Epic == "" {
		return m.repoRoot, "main", false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	epic, ok := m.epics[t.Epic]
	if !ok {
		return "", "", false, &errs.EpicNotFoundError{EpicName: t.Epic}
	}

	branch = "ticket/" + t.ID
	if m.active[t.Epic] == 0 {
		m.active[t.Epic] = 1
		epicDir := filepath.Join(m.repoRoot, epic.Path)
		m.byAgent[agentID] = &entry{epicName: t.Epic, path: epicDir, branch: branch, agentID: agentID, createdAt: time.Now()}
		return epicDir, branch, false, nil
	}

	if !m.autoCreateWorktrees {
		return "", "", false, &errs.EpicCapacityError{EpicName: t.Epic, Max: m.maxPerEpic}
	}
	if m.active[t.Epic] >= m.maxPerEpic {
		return "", "", false, &errs.EpicCapacityError{EpicName: t.Epic, Max: m.maxPerEpic}
	}

	dirName := sanitizeBranchName(fmt.Sprintf("%s-worktree-%d", t.Epic, agentID))
	wtPath := filepath.Join(m.repoRoot, ".worktrees", dirName)
	if err := m.git.createWorktree(wtPath, branch); err != nil {
		return "", "", false, err
	}
	m.active[t.Epic]++
	m.byAgent[agentID] = &entry{epicName: t.Epic, path: wtPath, branch: branch, agentID: agentID, createdAt: time.Now()}

	if m.bus != nil {
		m.bus.Publish(eventbus.NewWorktreeCreated(t.Epic, wtPath, branch, agentID))
	}
	return wtPath, branch, true, nil
}

// ReleaseWorktree decrements the epic's active count without deleting the
// directory, so a subsequent ticket in the same epic can reuse it.
func (m *Manager) ReleaseWorktree(agentID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byAgent[agentID]
	if !ok {
		return
	}
	delete(m.byAgent, agentID)
	if m.active[e.epicName] > 0 {
		m.active[e.epicName]--
	}
}

// MergeResult is the outcome of MergeWorktree.
type MergeResult struct {
	Conflicted    bool
	ConflictFiles []string
	CommitID      string
}

// MergeWorktree merges path's branch into targetBranch (default "main"),
// surfacing conflicts rather than resolving them.
func (m *Manager) MergeWorktree(path string, targetBranch string, epicName, branch string) (MergeResult, error) {
	if targetBranch == "" {
		targetBranch = "main"
	}
	conflicts, commit, err := m.git.merge(path, targetBranch, branch)
	if err != nil {
		return MergeResult{}, err
	}
	if len(conflicts) > 0 {
		if m.bus != nil {
			m.bus.Publish(eventbus.NewEpicConflict(epicName, path, conflicts))
		}
		return MergeResult{Conflicted: true, ConflictFiles: conflicts}, nil
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.NewWorktreeMerged(epicName, path, commit))
	}
	return MergeResult{CommitID: commit}, nil
}

// RetryMerge commits a merge the operator has resolved and staged.
func (m *Manager) RetryMerge(path, epicName string) (MergeResult, error) {
	commit, err := m.git.commitMerge(path)
	if err != nil {
		return MergeResult{}, err
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.NewWorktreeMerged(epicName, path, commit))
	}
	return MergeResult{CommitID: commit}, nil
}

// AbortMerge discards an in-progress conflicted merge at path.
func (m *Manager) AbortMerge(path string) error {
	return m.git.abortMerge(path)
}

// CleanupWorktree removes the worktree directory at path and stops
// tracking it.
func (m *Manager) CleanupWorktree(path string) error {
	m.mu.Lock()
	for id, e := range m.byAgent {
		if e.path == path {
			delete(m.byAgent, id)
		}
	}
	m.mu.Unlock()
	return m.git.removeWorktree(path)
}

// CleanupStaleWorktrees removes tracked worktrees older than maxAge,
// skipping epic-main directories (those without a generated agent suffix).
func (m *Manager) CleanupStaleWorktrees(maxAge time.Duration) []error {
	m.mu.Lock()
	cutoff := time.Now().Add(-maxAge)
	var stale []*entry
	for _, e := range m.byAgent {
		if e.createdAt.Before(cutoff) && e.path != filepath.Join(m.repoRoot, m.epics[e.epicName].Path) {
			stale = append(stale, e)
		}
	}
	m.mu.Unlock()

	var errsOut []error
	for _, e := range stale {
		if err := m.CleanupWorktree(e.path); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errsOut
}
