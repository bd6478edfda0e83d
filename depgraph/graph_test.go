package depgraph

import (
	"reflect"
	"testing"

	"github.com/petestewart/orch-sub001/plan"
)

func ticket(id, title string, priority plan.Priority, status plan.Status, deps ...string) *plan.Ticket {
	return &plan.Ticket{
		ID:           id,
		Title:        title,
		Priority:     priority,
		Status:       status,
		Dependencies: deps,
	}
}

func TestGetDependenciesAndDependents(t *testing.T) {
	g := Build([]*plan.Ticket{
		ticket("T1", "base", plan.PriorityP1, plan.StatusDone),
		ticket("T2", "dependent", plan.PriorityP1, plan.StatusTodo, "T1"),
	})

	if got := g.GetDependencies("T2"); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Errorf("GetDependencies(T2) = %v, want [T1]", got)
	}
	if got := g.GetDependents("T1"); !reflect.DeepEqual(got, []string{"T2"}) {
		t.Errorf("GetDependents(T1) = %v, want [T2]", got)
	}
	if got := g.GetDependencies("T1"); len(got) != 0 {
		t.Errorf("GetDependencies(T1) = %v, want empty", got)
	}
}

func TestAreDependenciesMetAndGetBlockedBy(t *testing.T) {
	g := Build([]*plan.Ticket{
		ticket("T1", "base", plan.PriorityP1, plan.StatusInProgress),
		ticket("T2", "dependent", plan.PriorityP1, plan.StatusTodo, "T1"),
	})

	if g.AreDependenciesMet("T2") {
		t.Error("T2's dependency T1 is not Done, should not be met")
	}
	if got := g.GetBlockedBy("T2"); !reflect.DeepEqual(got, []string{"T1"}) {
		t.Errorf("GetBlockedBy(T2) = %v, want [T1]", got)
	}

	g.UpdateTicketStatus("T1", plan.StatusDone)
	if !g.AreDependenciesMet("T2") {
		t.Error("T2's dependency is now Done, should be met")
	}
	if got := g.GetBlockedBy("T2"); len(got) != 0 {
		t.Errorf("GetBlockedBy(T2) after T1 done = %v, want empty", got)
	}
}

func TestGetReadyTicketsOrdersByPriorityThenID(t *testing.T) {
	g := Build([]*plan.Ticket{
		ticket("T3", "low prio", plan.PriorityP2, plan.StatusTodo),
		ticket("T1", "high prio", plan.PriorityP0, plan.StatusTodo),
		ticket("T2", "also high prio", plan.PriorityP0, plan.StatusTodo),
		ticket("T4", "blocked", plan.PriorityP0, plan.StatusTodo, "T5"),
		ticket("T5", "not done", plan.PriorityP0, plan.StatusInProgress),
	})

	got := g.GetReadyTickets()
	want := []string{"T1", "T2", "T3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetReadyTickets() = %v, want %v", got, want)
	}
}

func TestDetectCyclesFindsSimpleCycle(t *testing.T) {
	g := Build([]*plan.Ticket{
		ticket("T1", "a", plan.PriorityP1, plan.StatusTodo, "T2"),
		ticket("T2", "b", plan.PriorityP1, plan.StatusTodo, "T1"),
	})

	cycles := g.DetectCycles()
	if len(cycles) == 0 {
		t.Fatal("expected at least one cycle to be detected")
	}
}

func TestDetectCyclesOnDAGReturnsEmpty(t *testing.T) {
	g := Build([]*plan.Ticket{
		ticket("T1", "a", plan.PriorityP1, plan.StatusTodo),
		ticket("T2", "b", plan.PriorityP1, plan.StatusTodo, "T1"),
		ticket("T3", "c", plan.PriorityP1, plan.StatusTodo, "T2"),
	})

	if cycles := g.DetectCycles(); len(cycles) != 0 {
		t.Errorf("expected no cycles in a DAG, got %v", cycles)
	}
}

func TestGetTopologicalOrderRespectsDependencies(t *testing.T) {
	g := Build([]*plan.Ticket{
		ticket("T3", "c", plan.PriorityP1, plan.StatusTodo, "T2"),
		ticket("T1", "a", plan.PriorityP1, plan.StatusTodo),
		ticket("T2", "b", plan.PriorityP1, plan.StatusTodo, "T1"),
	})

	order, ok := g.GetTopologicalOrder()
	if !ok {
		t.Fatal("expected a valid topological order for a DAG")
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["T1"] > pos["T2"] || pos["T2"] > pos["T3"] {
		t.Errorf("topological order %v violates dependency ordering", order)
	}
}

func TestGetTopologicalOrderFailsOnCycle(t *testing.T) {
	g := Build([]*plan.Ticket{
		ticket("T1", "a", plan.PriorityP1, plan.StatusTodo, "T2"),
		ticket("T2", "b", plan.PriorityP1, plan.StatusTodo, "T1"),
	})

	_, ok := g.GetTopologicalOrder()
	if ok {
		t.Error("expected GetTopologicalOrder to report failure on a cyclic graph")
	}
}
