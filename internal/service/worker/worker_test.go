package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/gitops"
	"github.com/devcrewhq/crew/internal/lock"
	"github.com/devcrewhq/crew/internal/logging"
	"github.com/devcrewhq/crew/internal/queue"
	"github.com/devcrewhq/crew/internal/service/merge"
	"github.com/devcrewhq/crew/internal/testutil"
)

// workerEnv bundles the infrastructure one worker needs: a git repo with a
// main branch, a task queue and a lock service on the same redis.
type workerEnv struct {
	repo    *testutil.GitRepo
	git     *gitops.Client
	manager *gitops.WorkspaceManager
	queue   *queue.Queue
	locks   *lock.Service
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()

	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# demo\n")
	repo.Commit("initial commit")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)
	manager, err := gitops.NewWorkspaceManager(client, "", logging.NewNop())
	testutil.AssertNoError(t, err)

	_, rdb := testutil.NewRedis(t)
	return &workerEnv{
		repo:    repo,
		git:     client,
		manager: manager,
		queue:   queue.New(rdb, nil),
		locks:   lock.NewService(rdb, nil, lock.WithInitialBackoff(10*time.Millisecond)),
	}
}

// config returns a worker configuration with poll timings tightened for
// tests.
func (e *workerEnv) config(llm core.LLMClient) Config {
	return Config{
		ID:             "b1",
		Specialty:      core.SpecialtyBackend,
		ProjectID:      "proj-1",
		Queue:          e.queue,
		Locks:          e.locks,
		Workspaces:     e.manager,
		LLM:            llm,
		Logger:         logging.NewNop(),
		BaseBranch:     "main",
		TaskTimeout:    5 * time.Second,
		DequeueTimeout: 100 * time.Millisecond,
		IdleSleep:      10 * time.Millisecond,
		ErrorBackoff:   10 * time.Millisecond,
	}
}

func waitStatus(t *testing.T, q *queue.Queue, id string, want core.TaskStatus) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := q.Status(context.Background(), id)
		if err == nil && status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, want)
}

func TestNewValidatesConfig(t *testing.T) {
	env := newWorkerEnv(t)

	cfg := env.config(testutil.NewMockLLM())
	cfg.ID = ""
	_, err := New(cfg)
	testutil.AssertError(t, err)

	cfg = env.config(testutil.NewMockLLM())
	cfg.Specialty = "astrologer"
	_, err = New(cfg)
	testutil.AssertError(t, err)

	cfg = env.config(testutil.NewMockLLM())
	cfg.LLM = nil
	_, err = New(cfg)
	testutil.AssertError(t, err)
}

func TestSpawnProvisionsBranchWorkspace(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	w, err := New(env.config(testutil.NewMockLLM()))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Spawn(ctx))

	testutil.AssertEqual(t, w.Branch(), "agent-b1")
	testutil.AssertTrue(t, env.repo.BranchExists("agent-b1"), "agent branch should exist")

	ws := w.Workspace()
	if _, err := os.Stat(ws.Path); err != nil {
		t.Fatalf("workspace %s should exist: %v", ws.Path, err)
	}

	// Spawning twice is a lifecycle violation.
	testutil.AssertError(t, w.Spawn(ctx))
}

func TestRunRequiresSpawn(t *testing.T) {
	env := newWorkerEnv(t)

	w, err := New(env.config(testutil.NewMockLLM()))
	testutil.AssertNoError(t, err)
	testutil.AssertError(t, w.Run(context.Background()))
}

func TestExecutesTaskToCommit(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	task := core.NewTask("t1", "Add greeting module", core.SpecialtyBackend).
		WithDescription("Create hello.py exposing greet()").
		WithFiles([]string{"hello.py"}, nil).
		WithProject("proj-1")
	testutil.AssertNoError(t, env.queue.Enqueue(ctx, task))

	response := "## File: hello.py\n\n```python\ndef greet(name):\n    return 'Hello, ' + name\n```\n"
	llm := testutil.NewMockLLM(response)

	cfg := env.config(llm)
	var submitted []merge.Submission
	cfg.Submit = func(_ context.Context, sub merge.Submission) core.MergeResult {
		submitted = append(submitted, sub)
		return core.MergeResult{Success: true}
	}

	w, err := New(cfg)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Spawn(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitStatus(t, env.queue, "t1", core.TaskStatusCompleted)
	w.Stop()
	testutil.AssertNoError(t, <-done)

	// The file was committed on the agent branch with the agent author.
	content, err := env.repo.Run("show", "agent-b1:hello.py")
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, content, "def greet")

	author, err := env.repo.Run("log", "-1", "--format=%an <%ae>", "agent-b1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, author, "Agent-backend <agent-b1@orchestrator.local>")

	subject, err := env.repo.Run("log", "-1", "--format=%s", "agent-b1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, subject, "Add greeting module")

	// File locks are gone once execution ends.
	locked, err := env.locks.IsLocked(ctx, "file:hello.py")
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, locked, "file lock should be released")

	// The branch went through integration and came back merged.
	testutil.AssertLen(t, submitted, 1)
	testutil.AssertEqual(t, submitted[0].TaskID, "t1")
	testutil.AssertEqual(t, submitted[0].SourceBranch, "agent-b1")
	testutil.AssertFalse(t, w.HasUnmergedWork(), "merged work should clear the flag")

	completed, failed := w.Stats()
	testutil.AssertEqual(t, completed, 1)
	testutil.AssertEqual(t, failed, 0)
}

func TestModelFailureMarksTaskFailed(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	task := core.NewTask("t1", "Add greeting module", core.SpecialtyBackend).
		WithFiles([]string{"hello.py"}, nil)
	testutil.AssertNoError(t, env.queue.Enqueue(ctx, task))

	llm := testutil.NewMockLLM().
		WithError(core.ErrExecution(core.CodeLLMInvocationFailed, "model unavailable"))

	cfg := env.config(llm)
	submitCalls := 0
	cfg.Submit = func(context.Context, merge.Submission) core.MergeResult {
		submitCalls++
		return core.MergeResult{Success: true}
	}

	w, err := New(cfg)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Spawn(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitStatus(t, env.queue, "t1", core.TaskStatusFailed)
	w.Stop()
	testutil.AssertNoError(t, <-done)

	// Non-retryable failures are not retried.
	testutil.AssertEqual(t, llm.CallCount(), 1)
	testutil.AssertEqual(t, submitCalls, 0)

	locked, err := env.locks.IsLocked(ctx, "file:hello.py")
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, locked, "locks must be released on failure")

	completed, failed := w.Stats()
	testutil.AssertEqual(t, completed, 0)
	testutil.AssertEqual(t, failed, 1)
}

func TestRetriesTransientModelFailures(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	task := core.NewTask("t1", "Add greeting module", core.SpecialtyBackend).
		WithFiles([]string{"hello.py"}, nil)
	testutil.AssertNoError(t, env.queue.Enqueue(ctx, task))

	response := "## File: hello.py\n\n```python\nprint('hi')\n```\n"
	attempts := 0
	llm := testutil.NewMockLLM().WithInvokeFunc(
		func(context.Context, core.LLMRequest) (*core.LLMResponse, error) {
			attempts++
			if attempts < 3 {
				return nil, core.ErrNetwork(core.CodeLLMInvocationFailed, "throttled")
			}
			return &core.LLMResponse{Content: response, StopReason: "end_turn"}, nil
		})

	w, err := New(env.config(llm))
	testutil.AssertNoError(t, err)
	w.retryDelay = time.Millisecond
	testutil.AssertNoError(t, w.Spawn(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitStatus(t, env.queue, "t1", core.TaskStatusCompleted)
	w.Stop()
	testutil.AssertNoError(t, <-done)

	testutil.AssertEqual(t, attempts, 3)
}

func TestLockContentionFailsTask(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	// Another holder owns the file for longer than the task timeout.
	foreign, err := env.locks.Acquire(ctx, "file:hello.py", time.Minute)
	testutil.AssertNoError(t, err)

	task := core.NewTask("t1", "Add greeting module", core.SpecialtyBackend).
		WithFiles([]string{"hello.py"}, nil)
	testutil.AssertNoError(t, env.queue.Enqueue(ctx, task))

	cfg := env.config(testutil.NewMockLLM("irrelevant"))
	cfg.TaskTimeout = 300 * time.Millisecond

	w, err := New(cfg)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Spawn(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitStatus(t, env.queue, "t1", core.TaskStatusFailed)
	w.Stop()
	testutil.AssertNoError(t, <-done)

	// The foreign lock was never touched.
	locked, err := env.locks.IsLocked(ctx, "file:hello.py")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, locked, "foreign lock must survive")

	_, err = env.locks.Release(ctx, foreign)
	testutil.AssertNoError(t, err)
}

func TestRejectsPathEscapingWorkspace(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	task := core.NewTask("t1", "Add notes", core.SpecialtyBackend).
		WithFiles([]string{"notes.txt"}, nil)
	testutil.AssertNoError(t, env.queue.Enqueue(ctx, task))

	response := "## File: ../escape.txt\n\n```\nowned\n```\n"
	w, err := New(env.config(testutil.NewMockLLM(response)))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Spawn(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitStatus(t, env.queue, "t1", core.TaskStatusFailed)
	w.Stop()
	testutil.AssertNoError(t, <-done)

	// Nothing escaped the workspace.
	escaped := filepath.Join(env.manager.BaseDir(), "escape.txt")
	if _, err := os.Stat(escaped); !os.IsNotExist(err) {
		t.Fatalf("file must not be written outside the workspace: %s", escaped)
	}
}

func TestKeepsUnmergedFlagWhenIntegrationFails(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	task := core.NewTask("t1", "Add greeting module", core.SpecialtyBackend).
		WithFiles([]string{"hello.py"}, nil)
	testutil.AssertNoError(t, env.queue.Enqueue(ctx, task))

	response := "## File: hello.py\n\n```python\nprint('hi')\n```\n"
	cfg := env.config(testutil.NewMockLLM(response))
	cfg.Submit = func(context.Context, merge.Submission) core.MergeResult {
		return core.MergeResult{Success: false, Error: "conflicts on main"}
	}

	w, err := New(cfg)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Spawn(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// A rejected merge does not fail the task.
	waitStatus(t, env.queue, "t1", core.TaskStatusCompleted)
	w.Stop()
	testutil.AssertNoError(t, <-done)

	testutil.AssertTrue(t, w.HasUnmergedWork(), "rejected merge leaves work on the branch")
	testutil.AssertTrue(t, env.repo.BranchExists("agent-b1"), "branch must survive for inspection")
}

func TestStopEndsRunLoop(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	w, err := New(env.config(testutil.NewMockLLM()))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Spawn(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	w.Stop()

	select {
	case err := <-done:
		testutil.AssertNoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestCleanupRemovesWorkspace(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	w, err := New(env.config(testutil.NewMockLLM()))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, w.Spawn(ctx))

	ws := w.Workspace()
	testutil.AssertNoError(t, w.Cleanup(ctx))

	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Fatalf("workspace %s should be removed", ws.Path)
	}

	// Idempotent, and the lifecycle is closed for good.
	testutil.AssertNoError(t, w.Cleanup(ctx))
	testutil.AssertError(t, w.Run(ctx))
}
