// Package depgraph computes readiness and ordering over the ticket
// dependency graph parsed from the plan. It has no precedent in the
// teacher repo or the rest of the retrieval pack — the teacher's
// dependenciesMet check (kanban/state.go) is a linear per-ticket scan with
// no cycle detection or topological sort — so the algorithms here (a
// three-colour DFS for cycle detection, Kahn's algorithm for topological
// order) are standard textbook graph algorithms rather than anything
// adapted from the corpus.
package depgraph

import (
	"sort"

	"github.com/petestewart/orch-sub001/plan"
)

// color marks a node's DFS visitation state for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully explored
)

// Graph is the dependency graph derived from a plan snapshot: forward
// edges (a ticket's dependencies) and reverse edges (its dependents).
type Graph struct {
	tickets  map[string]*plan.Ticket
	forward  map[string][]string // ticket -> ids it depends on
	reverse  map[string][]string // ticket -> ids that depend on it
	order    []string            // original ticket order, for stable iteration
}

// Build constructs a Graph from tickets. Tickets must already have passed
// plan.ParseMarkdown's validation (no unknown or duplicate dependency
// references); Build does not re-validate those invariants.
func Build(tickets []*plan.Ticket) *Graph {
	g := &Graph{
		tickets: make(map[string]*plan.Ticket, len(tickets)),
		forward: make(map[string][]string, len(tickets)),
		reverse: make(map[string][]string, len(tickets)),
	}
	for _, t := range tickets {
		g.tickets[t.ID] = t
		g.order = append(g.order, t.ID)
	}
	for _, t := range tickets {
		deps := t.NormalizedDependencies()
		g.forward[t.ID] = deps
		for _, dep := range deps {
			g.reverse[dep] = append(g.reverse[dep], t.ID)
		}
	}
	return g
}

// GetDependencies returns the ids the ticket directly depends on.
func (g *Graph) GetDependencies(id string) []string {
	return append([]string(nil), g.forward[plan.NormalizedID(id)]...)
}

// GetDependents returns the ids that directly depend on the ticket.
func (g *Graph) GetDependents(id string) []string {
	return append([]string(nil), g.reverse[plan.NormalizedID(id)]...)
}

// AreDependenciesMet reports whether every dependency of id is Done.
func (g *Graph) AreDependenciesMet(id string) bool {
	for _, dep := range g.forward[plan.NormalizedID(id)] {
		t, ok := g.tickets[dep]
		if !ok || t.Status != plan.StatusDone {
			return false
		}
	}
	return true
}

// GetBlockedBy returns the subset of id's dependencies that are not Done.
func (g *Graph) GetBlockedBy(id string) []string {
	var blocking []string
	for _, dep := range g.forward[plan.NormalizedID(id)] {
		if t, ok := g.tickets[dep]; !ok || t.Status != plan.StatusDone {
			blocking = append(blocking, dep)
		}
	}
	return blocking
}

// GetReadyTickets returns the ids of every Todo ticket whose dependencies
// are all Done, sorted by priority (P0 first) and then by id for a
// deterministic order among equal priorities.
func (g *Graph) GetReadyTickets() []string {
	var ready []string
	for _, id := range g.order {
		t := g.tickets[id]
		if t.Status != plan.StatusTodo {
			continue
		}
		if g.AreDependenciesMet(id) {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		ti, tj := g.tickets[ready[i]], g.tickets[ready[j]]
		if ti.Priority.Rank() != tj.Priority.Rank() {
			return ti.Priority.Rank() < tj.Priority.Rank()
		}
		return ready[i] < ready[j]
	})
	return ready
}

// UpdateTicketStatus records a status change observed elsewhere (the plan
// Store is the system of record; the graph keeps its own ticket pointers
// in sync so readiness queries reflect the latest status without a full
// rebuild).
func (g *Graph) UpdateTicketStatus(id string, status plan.Status) {
	if t, ok := g.tickets[plan.NormalizedID(id)]; ok {
		t.Status = status
	}
}

// Cycle describes one cycle found by DetectCycles, as the ordered sequence
// of ticket ids that form it (the last id depends on the first, closing
// the loop).
type Cycle struct {
	IDs []string
}

// DetectCycles runs a three-colour DFS over the dependency graph and
// returns every cycle found. An empty result means the graph is a DAG.
func (g *Graph) DetectCycles() []Cycle {
	colors := make(map[string]color, len(g.order))
	var cycles []Cycle
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		colors[id] = gray
		stack = append(stack, id)
		for _, dep := range g.forward[id] {
			switch colors[dep] {
			case white:
				visit(dep)
			case gray:
				cycles = append(cycles, Cycle{IDs: cycleFrom(stack, dep)})
			case black:
				// already fully explored via another path, no new cycle
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
	}

	for _, id := range g.order {
		if colors[id] == white {
			visit(id)
		}
	}
	return cycles
}

// cycleFrom extracts the portion of stack from the first occurrence of
// target to the end, which is the cycle closed by the back-edge into target.
func cycleFrom(stack []string, target string) []string {
	for i, id := range stack {
		if id == target {
			out := append([]string(nil), stack[i:]...)
			return out
		}
	}
	return append([]string(nil), stack...)
}

// GetTopologicalOrder returns a valid build order for the graph using
// Kahn's algorithm. ok is false if the graph contains a cycle, in which
// case the returned order is a partial, unusable prefix.
func (g *Graph) GetTopologicalOrder() (order []string, ok bool) {
	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.forward[id])
	}

	var queue []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var freed []string
		for _, dependent := range g.reverse[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sort.Strings(freed)
		queue = append(queue, freed...)
		sort.Strings(queue)
	}

	return order, len(order) == len(g.order)
}
