package graph_test

import (
	"testing"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/graph"
	"github.com/devcrewhq/crew/internal/testutil"
)

func node(id string, hours float64, deps ...string) *graph.Node {
	t := core.NewTask(id, "task "+id, core.SpecialtyBackend).
		WithDependencies(deps...).
		WithEstimatedHours(hours)
	return graph.NewNode(t)
}

// diamond: t1 -> {t2, t3} -> t4
func diamond() *graph.Graph {
	g := graph.NewGraph()
	g.AddNode(node("t1", 2))
	g.AddNode(node("t2", 3, "t1"))
	g.AddNode(node("t3", 1, "t1"))
	g.AddNode(node("t4", 2, "t2", "t3"))
	return g
}

func ids(nodes []*graph.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestReadyTasksAndDependents(t *testing.T) {
	g := diamond()

	ready := ids(g.ReadyTasks())
	testutil.AssertLen(t, ready, 1)
	testutil.AssertEqual(t, "t1", ready[0])

	deps := ids(g.Dependents("t1"))
	testutil.AssertLen(t, deps, 2)
	testutil.AssertEqual(t, "t2", deps[0])
	testutil.AssertEqual(t, "t3", deps[1])

	testutil.AssertLen(t, g.Dependents("t4"), 0)
}

func TestMarkCompletedReleasesDependents(t *testing.T) {
	g := diamond()

	ready := ids(g.MarkCompleted("t1"))
	testutil.AssertLen(t, ready, 2)
	testutil.AssertEqual(t, "t2", ready[0])
	testutil.AssertEqual(t, "t3", ready[1])

	// t4 still waits on t3.
	testutil.AssertLen(t, g.MarkCompleted("t2"), 0)

	ready = ids(g.MarkCompleted("t3"))
	testutil.AssertLen(t, ready, 1)
	testutil.AssertEqual(t, "t4", ready[0])
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	g := diamond()

	g.MarkCompleted("t1")
	testutil.AssertLen(t, g.MarkCompleted("t1"), 0)
	testutil.AssertLen(t, g.MarkCompleted("missing"), 0)
}

func TestExecutionOrderLevels(t *testing.T) {
	g := diamond()

	levels, err := g.ExecutionOrder()
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, levels, 3)
	testutil.AssertEqual(t, "t1", levels[0][0])
	testutil.AssertLen(t, levels[1], 2)
	testutil.AssertEqual(t, "t4", levels[2][0])

	// Every node appears in exactly one level, after all its prerequisites.
	levelOf := map[string]int{}
	for i, level := range levels {
		for _, id := range level {
			if _, seen := levelOf[id]; seen {
				t.Fatalf("task %s appears in more than one level", id)
			}
			levelOf[id] = i
		}
	}
	testutil.AssertEqual(t, 4, len(levelOf))
	for _, id := range []string{"t2", "t3"} {
		if levelOf[id] <= levelOf["t1"] {
			t.Fatalf("task %s scheduled before its prerequisite", id)
		}
	}
	if levelOf["t4"] <= levelOf["t2"] || levelOf["t4"] <= levelOf["t3"] {
		t.Fatal("t4 scheduled before its prerequisites")
	}
}

func TestExecutionOrderRejectsCycle(t *testing.T) {
	g := graph.NewGraph()
	g.AddNode(node("t1", 1, "t2"))
	g.AddNode(node("t2", 1, "t1"))

	ok, cycle := g.ValidateAcyclic()
	testutil.AssertFalse(t, ok, "cyclic graph must not validate")
	testutil.AssertLen(t, cycle, 3)
	testutil.AssertEqual(t, "t1", cycle[0])
	testutil.AssertEqual(t, "t2", cycle[1])
	testutil.AssertEqual(t, "t1", cycle[2])

	_, err := g.ExecutionOrder()
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCode(err, core.CodeDAGCycle), "want DAG_CYCLE")
	testutil.AssertContains(t, err.Error(), "t1 -> t2 -> t1")
}

func TestCriticalPath(t *testing.T) {
	g := graph.NewGraph()
	g.AddNode(node("t1", 2))
	g.AddNode(node("t2", 3, "t1"))
	g.AddNode(node("t3", 1, "t1"))

	path, hours := g.CriticalPath()
	testutil.AssertEqual(t, 5.0, hours)
	testutil.AssertLen(t, path, 2)
	testutil.AssertEqual(t, "t1", path[0])
	testutil.AssertEqual(t, "t2", path[1])
}

func TestCriticalPathTieBreaksOnInsertionOrder(t *testing.T) {
	g := graph.NewGraph()
	g.AddNode(node("t1", 2))
	g.AddNode(node("t2", 3, "t1"))
	g.AddNode(node("t3", 3, "t1"))
	g.AddNode(node("t4", 1, "t2", "t3"))

	// t2 and t3 both finish at hour 5; the first declared wins.
	path, hours := g.CriticalPath()
	testutil.AssertEqual(t, 6.0, hours)
	testutil.AssertLen(t, path, 3)
	testutil.AssertEqual(t, "t1", path[0])
	testutil.AssertEqual(t, "t2", path[1])
	testutil.AssertEqual(t, "t4", path[2])
}

func TestHoursEstimates(t *testing.T) {
	g := diamond()

	testutil.AssertEqual(t, 8.0, g.TotalEstimatedHours())
	// Levels cost max(2) + max(3,1) + max(2).
	testutil.AssertEqual(t, 7.0, g.ParallelEstimatedHours())
}

func TestEmptyGraph(t *testing.T) {
	g := graph.NewGraph()

	levels, err := g.ExecutionOrder()
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, levels, 0)

	path, hours := g.CriticalPath()
	testutil.AssertLen(t, path, 0)
	testutil.AssertEqual(t, 0.0, hours)
	testutil.AssertEqual(t, 0.0, g.TotalEstimatedHours())
	testutil.AssertLen(t, g.ReadyTasks(), 0)
}

func TestAddNodeReplacesWithoutDuplicateEdges(t *testing.T) {
	g := graph.NewGraph()
	g.AddNode(node("t1", 1))
	g.AddNode(node("t2", 1, "t1"))
	g.AddNode(node("t2", 2, "t1"))

	testutil.AssertEqual(t, 2, g.Len())
	testutil.AssertLen(t, g.Dependents("t1"), 1)
	testutil.AssertEqual(t, 2.0, g.Node("t2").EstimatedHours)
}
