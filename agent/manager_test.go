package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petestewart/orch-sub001/eventbus"
)

// fakeClaude writes an executable shell script standing in for the real
// claude CLI: it ignores its arguments entirely and just runs body,
// letting tests control stdout/stderr/exit code directly rather than
// depending on an actual model invocation.
func fakeClaude(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write fake claude script: %v", err)
	}
	return path
}

func waitForTerminal(t *testing.T, m *Manager, agentID int) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := m.State(agentID); ok && s != StateStarting && s != StateWorking {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("agent %d did not reach a terminal state in time", agentID)
	return ""
}

func spawnOpts(workDir string) SpawnOptions {
	return SpawnOptions{
		TicketID:   "T1",
		AgentType:  TypeImplementation,
		WorkingDir: workDir,
		Ticket:     TicketView{ID: "T1", Title: "Add login endpoint"},
	}
}

func TestSpawnCompletesOnCleanExitWithMarker(t *testing.T) {
	claude := fakeClaude(t, `echo '=== TICKET T1 COMPLETE ==='`)
	m := New(Config{MaxAgents: 2, ClaudePath: claude}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := waitForTerminal(t, m, id); got != StateComplete {
		t.Errorf("got state %s, want Complete", got)
	}
}

func TestSpawnFailsOnNonZeroExit(t *testing.T) {
	claude := fakeClaude(t, `echo 'boom' >&2; exit 1`)
	m := New(Config{MaxAgents: 2, ClaudePath: claude, MaxRetries: 3}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := waitForTerminal(t, m, id); got != StateFailed {
		t.Errorf("got state %s, want Failed", got)
	}
	if !m.CanRetry("T1") {
		t.Error("expected a retry to still be allowed after a single failure")
	}
}

func TestSpawnBlocksOnBlockedMarker(t *testing.T) {
	claude := fakeClaude(t, `echo '=== TICKET T1 BLOCKED: waiting on design review ==='`)
	m := New(Config{MaxAgents: 2, ClaudePath: claude}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := waitForTerminal(t, m, id); got != StateBlocked {
		t.Errorf("got state %s, want Blocked", got)
	}
	output, ok := m.GetOutput(id)
	if !ok || len(output) == 0 {
		t.Fatal("expected buffered output lines to be recorded")
	}
}

func TestSpawnStrictCompletionMarkerFailsSilentCleanExit(t *testing.T) {
	claude := fakeClaude(t, `echo 'did some work, forgot the marker'`)
	m := New(Config{MaxAgents: 2, ClaudePath: claude, StrictCompletionMarker: true}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := waitForTerminal(t, m, id); got != StateFailed {
		t.Errorf("got state %s, want Failed under strict completion marker enforcement", got)
	}
}

func TestSpawnLenientModeAcceptsSilentCleanExit(t *testing.T) {
	claude := fakeClaude(t, `echo 'did some work, forgot the marker'`)
	m := New(Config{MaxAgents: 2, ClaudePath: claude, StrictCompletionMarker: false}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := waitForTerminal(t, m, id); got != StateComplete {
		t.Errorf("got state %s, want Complete when the marker is not strictly enforced", got)
	}
}

func TestCanSpawnRespectsConcurrencyCap(t *testing.T) {
	claude := fakeClaude(t, `sleep 1; echo '=== TICKET T1 COMPLETE ==='`)
	m := New(Config{MaxAgents: 1, ClaudePath: claude}, nil)

	if !m.CanSpawn() {
		t.Fatal("expected CanSpawn to be true before any agent runs")
	}
	if _, err := m.Spawn(context.Background(), spawnOpts(t.TempDir())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.CanSpawn() {
		t.Error("expected CanSpawn to be false once the concurrency cap is reached")
	}
}

func TestSpawnOverCapacityReturnsConcurrencyError(t *testing.T) {
	claude := fakeClaude(t, `sleep 1; echo '=== TICKET T1 COMPLETE ==='`)
	m := New(Config{MaxAgents: 1, ClaudePath: claude}, nil)

	if _, err := m.Spawn(context.Background(), spawnOpts(t.TempDir())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Spawn(context.Background(), spawnOpts(t.TempDir())); err == nil {
		t.Fatal("expected a concurrency limit error for the second spawn")
	}
}

func TestResetRetryCountClearsFailureTally(t *testing.T) {
	claude := fakeClaude(t, `exit 1`)
	m := New(Config{MaxAgents: 3, ClaudePath: claude, MaxRetries: 1}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForTerminal(t, m, id)

	if m.CanRetry("T1") {
		t.Fatal("expected the retry cap (1) to already be exhausted after one failure")
	}
	m.ResetRetryCount("T1")
	if !m.CanRetry("T1") {
		t.Error("expected ResetRetryCount to restore retry eligibility")
	}
}

func TestSpawnPublishesLifecycleEvents(t *testing.T) {
	claude := fakeClaude(t, `echo '=== TICKET T1 COMPLETE ==='`)
	bus := eventbus.New()
	var sawSpawned, sawCompleted bool
	bus.Subscribe(eventbus.TagAgentSpawned, func(ev eventbus.OrchEvent) { sawSpawned = true })
	bus.Subscribe(eventbus.TagAgentCompleted, func(ev eventbus.OrchEvent) { sawCompleted = true })

	m := New(Config{MaxAgents: 2, ClaudePath: claude}, bus)
	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForTerminal(t, m, id)
	time.Sleep(20 * time.Millisecond) // let the completed event's publish land

	if !sawSpawned {
		t.Error("expected an agent:spawned event")
	}
	if !sawCompleted {
		t.Error("expected an agent:completed event")
	}
}

func TestStopTransitionsRunningAgentToStopped(t *testing.T) {
	claude := fakeClaude(t, `sleep 5; echo '=== TICKET T1 COMPLETE ==='`)
	m := New(Config{MaxAgents: 2, ClaudePath: claude, StopGrace: 200 * time.Millisecond}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let it reach Working

	if err := m.Stop(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := m.State(id); got != StateStopped {
		t.Errorf("got state %s, want Stopped", got)
	}
}

func TestStopUnknownAgentErrors(t *testing.T) {
	m := New(Config{MaxAgents: 1, ClaudePath: fakeClaude(t, `true`)}, nil)
	if err := m.Stop(999); err == nil {
		t.Fatal("expected an error stopping an unknown agent id")
	}
}

func TestSpawnRefusedOncePerSessionCostLimitReachedUnderPause(t *testing.T) {
	// A single line of output carries enough tokens to blow past a tiny
	// per-session limit at the default cost rates.
	claude := fakeClaude(t, `echo 'input_tokens=1000000 output_tokens=1000000'; sleep 5`)
	m := New(Config{
		MaxAgents:           5,
		ClaudePath:          claude,
		CostLimitPerSession: 0.01,
		CostLimitAction:     "pause",
	}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && m.CanSpawn() {
		time.Sleep(5 * time.Millisecond)
	}
	if m.CanSpawn() {
		t.Fatal("expected CanSpawn to be false once the session cost limit is reached")
	}

	if _, err := m.Spawn(context.Background(), spawnOpts(t.TempDir())); err == nil {
		t.Error("expected Spawn to refuse a new agent once the session cost limit is reached")
	}
	_ = m.Stop(id)
}

func TestSpawnNotGatedByCostLimitUnderWarnAction(t *testing.T) {
	claude := fakeClaude(t, `echo 'input_tokens=1000000 output_tokens=1000000'; echo '=== TICKET T1 COMPLETE ==='`)
	m := New(Config{
		MaxAgents:           5,
		ClaudePath:          claude,
		CostLimitPerSession: 0.01,
		CostLimitAction:     "warn",
	}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForTerminal(t, m, id)

	if !m.CanSpawn() {
		t.Error("expected CanSpawn to stay true under a \"warn\" cost action")
	}
}

func TestAgentStoppedOncePerTicketCostLimitReachedUnderStopAction(t *testing.T) {
	claude := fakeClaude(t, `echo 'input_tokens=1000000 output_tokens=1000000'; sleep 5`)
	m := New(Config{
		MaxAgents:          2,
		ClaudePath:         claude,
		CostLimitPerTicket: 0.01,
		CostLimitAction:    "stop",
		StopGrace:          200 * time.Millisecond,
	}, nil)

	id, err := m.Spawn(context.Background(), spawnOpts(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := waitForTerminal(t, m, id); got != StateStopped && got != StateFailed {
		t.Errorf("got state %s, want the agent to have been terminated once it crossed its per-ticket cost limit", got)
	}
}
