package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/events"
	"github.com/devcrewhq/crew/internal/logging"
	"github.com/devcrewhq/crew/internal/service/merge"
	"github.com/devcrewhq/crew/internal/store"
	"github.com/devcrewhq/crew/internal/testutil"
)

// fleetEnv extends the worker environment with the durable store and a
// merge orchestrator targeting main.
type fleetEnv struct {
	*workerEnv
	store  *store.Store
	merger *merge.Orchestrator
}

func newFleetEnv(t *testing.T) *fleetEnv {
	t.Helper()

	env := newWorkerEnv(t)

	st, err := store.Open(filepath.Join(testutil.TempDir(t), "crew.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	testutil.AssertNoError(t, st.SaveProject(context.Background(), &store.Project{
		ID:     "p1",
		Name:   "demo",
		Path:   env.repo.Path,
		Status: store.ProjectRunning,
	}))

	merger := merge.New(env.git, env.manager, nil, nil, logging.NewNop(), merge.Options{
		TargetBranch: "main",
		ProjectID:    "p1",
	})

	return &fleetEnv{workerEnv: env, store: st, merger: merger}
}

func (e *fleetEnv) fleetConfig(llm core.LLMClient, totalTasks int) FleetConfig {
	return FleetConfig{
		ProjectID:      "p1",
		Specialties:    []core.Specialty{core.SpecialtyBackend},
		MaxAgents:      1,
		TotalTasks:     totalTasks,
		BaseBranch:     "main",
		TaskTimeout:    5 * time.Second,
		PollInterval:   25 * time.Millisecond,
		DequeueTimeout: 100 * time.Millisecond,
		IdleSleep:      10 * time.Millisecond,
		ErrorBackoff:   10 * time.Millisecond,
		Queue:          e.queue,
		Locks:          e.locks,
		Workspaces:     e.manager,
		LLM:            llm,
		Merger:         e.merger,
		Store:          e.store,
		Logger:         logging.NewNop(),
	}
}

// seed persists the tasks and puts them on the queue, the same order the
// runner does it.
func (e *fleetEnv) seed(t *testing.T, tasks ...*core.Task) {
	t.Helper()
	ctx := context.Background()

	testutil.AssertNoError(t, e.store.SaveTasks(ctx, tasks))
	for _, task := range tasks {
		testutil.AssertNoError(t, e.queue.Enqueue(ctx, task))
	}
}

func TestFleetRunsPlanToCompletion(t *testing.T) {
	env := newFleetEnv(t)
	ctx := context.Background()

	t1 := core.NewTask("t1", "Create module", core.SpecialtyBackend).
		WithFiles([]string{"mod.py"}, nil).
		WithProject("p1")
	t2 := core.NewTask("t2", "Create companion module", core.SpecialtyBackend).
		WithFiles([]string{"mod2.py"}, nil).
		WithDependencies("t1").
		WithProject("p1")
	env.seed(t, t1, t2)

	llm := testutil.NewMockLLM(
		"## File: mod.py\n\n```python\nVALUE = 1\n```\n",
		"## File: mod2.py\n\n```python\nVALUE = 2\n```\n",
	)

	fleet, err := NewFleet(env.fleetConfig(llm, 2))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, fleet.Run(ctx))

	// Both tasks executed in dependency order and merged onto main.
	testutil.AssertContains(t, env.repo.ReadFile("mod.py"), "VALUE = 1")
	testutil.AssertContains(t, env.repo.ReadFile("mod2.py"), "VALUE = 2")

	counts, err := env.store.TaskCounts(ctx, "p1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, counts[core.TaskStatusCompleted], 2)
	testutil.AssertEqual(t, counts[core.TaskStatusFailed], 0)

	for _, id := range []string{"t1", "t2"} {
		status, err := env.queue.Status(ctx, id)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, status, core.TaskStatusCompleted)
	}

	// Fully merged branches do not outlive the run.
	testutil.AssertFalse(t, env.repo.BranchExists("agent-backend-1"),
		"merged branch should be deleted at teardown")
}

func TestFleetStopsWhenRemainderIsBlocked(t *testing.T) {
	env := newFleetEnv(t)
	ctx := context.Background()

	t1 := core.NewTask("t1", "Create module", core.SpecialtyBackend).
		WithFiles([]string{"mod.py"}, nil).
		WithProject("p1")
	t2 := core.NewTask("t2", "Create companion module", core.SpecialtyBackend).
		WithFiles([]string{"mod2.py"}, nil).
		WithDependencies("t1").
		WithProject("p1")
	env.seed(t, t1, t2)

	llm := testutil.NewMockLLM().
		WithError(core.ErrExecution(core.CodeLLMInvocationFailed, "model unavailable"))

	fleet, err := NewFleet(env.fleetConfig(llm, 2))
	testutil.AssertNoError(t, err)

	// The run must end even though t2 can never be promoted.
	testutil.AssertNoError(t, fleet.Run(ctx))

	counts, err := env.store.TaskCounts(ctx, "p1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, counts[core.TaskStatusFailed], 1)

	status, err := env.queue.Status(ctx, "t2")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, status, core.TaskStatusPending)
}

func TestFleetRaisesAgentCapToCoverSpecialties(t *testing.T) {
	env := newFleetEnv(t)

	cfg := env.fleetConfig(testutil.NewMockLLM(), 0)
	cfg.Specialties = []core.Specialty{
		core.SpecialtyBackend,
		core.SpecialtyFrontend,
		core.SpecialtyBackend, // duplicate collapses
		core.SpecialtyTesting,
	}
	cfg.MaxAgents = 1

	fleet, err := NewFleet(cfg)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, fleet.buildWorkers())
	testutil.AssertLen(t, fleet.Workers(), 3)

	ids := map[string]bool{}
	for _, w := range fleet.Workers() {
		ids[w.ID()] = true
	}
	testutil.AssertTrue(t, ids["backend-1"], "backend worker expected")
	testutil.AssertTrue(t, ids["frontend-1"], "frontend worker expected")
	testutil.AssertTrue(t, ids["testing-1"], "testing worker expected")
}

func TestFleetRequiresDependencies(t *testing.T) {
	env := newFleetEnv(t)

	cfg := env.fleetConfig(testutil.NewMockLLM(), 0)
	cfg.Specialties = nil
	_, err := NewFleet(cfg)
	testutil.AssertError(t, err)

	cfg = env.fleetConfig(testutil.NewMockLLM(), 0)
	cfg.Merger = nil
	_, err = NewFleet(cfg)
	testutil.AssertError(t, err)
}

func TestReapFailsTasksOfSilentAgents(t *testing.T) {
	env := newFleetEnv(t)
	ctx := context.Background()

	// An agent from a previous run: registered an hour ago, never
	// heartbeated, still marked busy on t1.
	created := time.Now().UTC().Add(-time.Hour)
	testutil.AssertNoError(t, env.store.SaveAgent(ctx, &store.Agent{
		ID:        "ghost-1",
		ProjectID: "p1",
		Specialty: core.SpecialtyBackend,
		Status:    store.AgentBusy,
		CreatedAt: created,
	}))

	t1 := core.NewTask("t1", "Create module", core.SpecialtyBackend).
		WithFiles([]string{"mod.py"}, nil).
		WithProject("p1")
	env.seed(t, t1)

	_, err := env.queue.Dequeue(ctx, core.SpecialtyBackend, time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, env.store.MarkTaskStarted(ctx, "t1", "ghost-1"))

	bus := events.NewBus(10)
	ch := bus.Subscribe(events.TypeWorkerOffline)

	cfg := env.fleetConfig(testutil.NewMockLLM(), 1)
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.Bus = bus

	fleet, err := NewFleet(cfg)
	testutil.AssertNoError(t, err)
	fleet.reap(ctx)

	agent, err := env.store.GetAgent(ctx, "ghost-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, agent.Status, store.AgentOffline)

	status, err := env.queue.Status(ctx, "t1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, status, core.TaskStatusFailed)

	rec, err := env.store.GetTask(ctx, "t1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, rec.Status, core.TaskStatusFailed)
	testutil.AssertContains(t, rec.ErrorMessage, "ghost-1")

	select {
	case ev := <-ch:
		offline, ok := ev.(events.WorkerOfflineEvent)
		testutil.AssertTrue(t, ok, "expected WorkerOfflineEvent")
		testutil.AssertEqual(t, offline.AgentID, "ghost-1")
		testutil.AssertEqual(t, offline.FailedTasks, 1)
	default:
		t.Fatal("expected worker_offline event")
	}
}

func TestReapIgnoresLiveAgents(t *testing.T) {
	env := newFleetEnv(t)
	ctx := context.Background()

	testutil.AssertNoError(t, env.store.SaveAgent(ctx, &store.Agent{
		ID:        "live-1",
		ProjectID: "p1",
		Specialty: core.SpecialtyBackend,
		Status:    store.AgentBusy,
	}))
	testutil.AssertNoError(t, env.store.Heartbeat(ctx, "live-1"))

	cfg := env.fleetConfig(testutil.NewMockLLM(), 0)
	cfg.HeartbeatInterval = time.Minute

	fleet, err := NewFleet(cfg)
	testutil.AssertNoError(t, err)
	fleet.reap(ctx)

	agent, err := env.store.GetAgent(ctx, "live-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, agent.Status, store.AgentBusy)
}
