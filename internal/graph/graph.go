// Package graph holds the in-memory dependency DAG the planner builds from
// a decomposed task list. Nodes track the prerequisites still unmet;
// completions trim them and surface the tasks that become runnable.
package graph

import (
	"fmt"
	"strings"

	"github.com/devcrewhq/crew/internal/core"
)

// Node is one task in the graph. Dependencies holds the prerequisite ids
// not yet completed; MarkCompleted trims it as prerequisites finish.
type Node struct {
	ID             string
	Title          string
	Specialty      core.Specialty
	Dependencies   []string
	EstimatedHours float64
}

// NewNode builds a graph node from a task, copying its dependency list so
// graph mutations never touch the task itself.
func NewNode(t *core.Task) *Node {
	return &Node{
		ID:             t.ID,
		Title:          t.Title,
		Specialty:      t.Specialty,
		Dependencies:   append([]string(nil), t.Dependencies...),
		EstimatedHours: t.EstimatedHours,
	}
}

// Graph is a directed acyclic graph of task nodes. It is not safe for
// concurrent use; the planner builds and reads it from a single goroutine.
type Graph struct {
	nodes      map[string]*Node
	order      []string            // node ids in insertion order
	dependents map[string][]string // prerequisite id -> dependent ids
	declared   map[string][]string // prerequisites as declared, for edge upkeep
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[string]*Node),
		dependents: make(map[string][]string),
		declared:   make(map[string][]string),
	}
}

// AddNode inserts the node and records a reverse edge from every declared
// prerequisite to it. Re-adding an id replaces the node in place.
func (g *Graph) AddNode(n *Node) {
	if _, ok := g.nodes[n.ID]; ok {
		for _, dep := range g.declared[n.ID] {
			g.dependents[dep] = removeID(g.dependents[dep], n.ID)
		}
	} else {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
	g.declared[n.ID] = append([]string(nil), n.Dependencies...)
	for _, dep := range n.Dependencies {
		g.dependents[dep] = append(g.dependents[dep], n.ID)
	}
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// ReadyTasks returns the nodes with no unmet prerequisites, in insertion
// order.
func (g *Graph) ReadyTasks() []*Node {
	var ready []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; len(n.Dependencies) == 0 {
			ready = append(ready, n)
		}
	}
	return ready
}

// Dependents returns the nodes that directly depend on the given task.
func (g *Graph) Dependents(id string) []*Node {
	var out []*Node
	for _, depID := range g.dependents[id] {
		if n, ok := g.nodes[depID]; ok {
			out = append(out, n)
		}
	}
	return out
}

// MarkCompleted removes the completed id from each dependent's remaining
// prerequisites and returns the nodes that became ready on this call.
// Completing an unknown or already-completed id is a no-op.
func (g *Graph) MarkCompleted(id string) []*Node {
	if _, ok := g.nodes[id]; !ok {
		return nil
	}
	var ready []*Node
	for _, depID := range g.dependents[id] {
		n, ok := g.nodes[depID]
		if !ok || !containsID(n.Dependencies, id) {
			continue
		}
		n.Dependencies = removeID(n.Dependencies, id)
		if len(n.Dependencies) == 0 {
			ready = append(ready, n)
		}
	}
	return ready
}

// ValidateAcyclic walks the graph depth-first with a recursion stack. It
// returns false plus the offending path, ending with the node that closed
// the cycle (e.g. [t1 t2 t1]).
func (g *Graph) ValidateAcyclic() (bool, []string) {
	visited := make(map[string]bool, len(g.nodes))
	inStack := make(map[string]bool, len(g.nodes))

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		visited[id] = true
		inStack[id] = true
		path = append(path, id)
		for _, depID := range g.dependents[id] {
			if _, ok := g.nodes[depID]; !ok {
				continue
			}
			if !visited[depID] {
				branch := append([]string(nil), path...)
				if cycle := visit(depID, branch); cycle != nil {
					return cycle
				}
			} else if inStack[depID] {
				return append(path, depID)
			}
		}
		delete(inStack, id)
		return nil
	}

	for _, id := range g.order {
		if visited[id] {
			continue
		}
		if cycle := visit(id, nil); cycle != nil {
			return false, cycle
		}
	}
	return true, nil
}

// ExecutionOrder layers the graph with Kahn's algorithm: each level holds
// every task whose prerequisites are all in earlier levels. In-degrees are
// computed on a copy, so nodes are not mutated. A cyclic graph yields a
// DAG_CYCLE error.
func (g *Graph) ExecutionOrder() ([][]string, error) {
	if ok, cycle := g.ValidateAcyclic(); !ok {
		return nil, core.ErrValidation(core.CodeDAGCycle,
			fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
	}

	inDegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		count := 0
		for _, dep := range n.Dependencies {
			if _, ok := g.nodes[dep]; ok {
				count++
			}
		}
		inDegree[id] = count
	}

	done := make(map[string]bool, len(g.nodes))
	remaining := len(g.nodes)
	var levels [][]string
	for remaining > 0 {
		var level []string
		for _, id := range g.order {
			if !done[id] && inDegree[id] == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			return nil, core.ErrValidation(core.CodeDAGCycle,
				"no runnable tasks remain but graph is not empty")
		}
		for _, id := range level {
			done[id] = true
			remaining--
			for _, depID := range g.dependents[id] {
				if _, ok := g.nodes[depID]; ok {
					inDegree[depID]--
				}
			}
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// CriticalPath returns the longest prerequisite-ordered chain by estimated
// hours and its total. Earliest-start times are derived from the
// topological layering; when several predecessors finish exactly at a
// node's start, the first in insertion order wins. A cyclic or empty graph
// yields (nil, 0).
func (g *Graph) CriticalPath() ([]string, float64) {
	if len(g.nodes) == 0 {
		return nil, 0
	}
	levels, err := g.ExecutionOrder()
	if err != nil {
		return nil, 0
	}

	earliest := make(map[string]float64, len(g.nodes))
	for _, level := range levels {
		for _, id := range level {
			start := 0.0
			for _, dep := range g.nodes[id].Dependencies {
				d, ok := g.nodes[dep]
				if !ok {
					continue
				}
				if finish := earliest[dep] + d.EstimatedHours; finish > start {
					start = finish
				}
			}
			earliest[id] = start
		}
	}

	end, best := "", -1.0
	for _, id := range g.order {
		if finish := earliest[id] + g.nodes[id].EstimatedHours; finish > best {
			end, best = id, finish
		}
	}

	var path []string
	total := 0.0
	for current := end; current != ""; {
		path = append(path, current)
		total += g.nodes[current].EstimatedHours
		next := ""
		for _, dep := range g.nodes[current].Dependencies {
			d, ok := g.nodes[dep]
			if !ok {
				continue
			}
			if earliest[dep]+d.EstimatedHours == earliest[current] {
				next = dep
				break
			}
		}
		current = next
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, total
}

// TotalEstimatedHours sums every node's estimate: the sequential cost.
func (g *Graph) TotalEstimatedHours() float64 {
	total := 0.0
	for _, n := range g.nodes {
		total += n.EstimatedHours
	}
	return total
}

// ParallelEstimatedHours sums the per-level maximum estimate: the cost with
// unbounded parallelism. A cyclic graph yields 0.
func (g *Graph) ParallelEstimatedHours() float64 {
	levels, err := g.ExecutionOrder()
	if err != nil {
		return 0
	}
	total := 0.0
	for _, level := range levels {
		levelMax := 0.0
		for _, id := range level {
			if h := g.nodes[id].EstimatedHours; h > levelMax {
				levelMax = h
			}
		}
		total += levelMax
	}
	return total
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
