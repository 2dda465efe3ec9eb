// Package worker runs specialist agents. Each worker owns one branch
// workspace, polls its specialty queue, locks the task's file set, asks
// the model for file contents, writes and commits them, then hands the
// branch to the merge loop.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/events"
	"github.com/devcrewhq/crew/internal/gitops"
	"github.com/devcrewhq/crew/internal/lock"
	"github.com/devcrewhq/crew/internal/logging"
	"github.com/devcrewhq/crew/internal/queue"
	"github.com/devcrewhq/crew/internal/service/merge"
	"github.com/devcrewhq/crew/internal/store"
)

// Lifecycle states. Transitions are one-way: created -> spawned ->
// running -> stopped -> cleaned.
const (
	stateCreated int32 = iota
	stateSpawned
	stateRunning
	stateStopped
	stateCleaned
)

const (
	defaultDequeueTimeout = 10 * time.Second
	defaultIdleSleep      = time.Second
	defaultErrorBackoff   = 5 * time.Second
	defaultTaskTimeout    = 5 * time.Minute

	// llmAttempts bounds retries of transient model failures within one
	// task execution.
	llmAttempts = 3
)

// Config assembles a worker's identity and collaborators.
type Config struct {
	ID        string
	Specialty core.Specialty
	ProjectID string

	Queue      *queue.Queue
	Locks      *lock.Service
	Workspaces *gitops.WorkspaceManager
	LLM        core.LLMClient
	Store      *store.Store
	Bus        *events.Bus
	Logger     *logging.Logger

	// Submit hands a committed branch to the merge loop and blocks until
	// integration finishes. Nil skips integration; the branch then keeps
	// accumulating commits.
	Submit func(ctx context.Context, sub merge.Submission) core.MergeResult

	// BaseBranch is where the worker branch forks from.
	BaseBranch string

	// TaskTimeout bounds one task execution.
	TaskTimeout time.Duration

	// LockTTL is how long the worker's file locks live without renewal.
	// Zero falls back to TaskTimeout, so locks a dead worker held expire
	// on their own.
	LockTTL time.Duration

	// HeartbeatInterval spaces liveness beats while Run is active. Zero
	// disables heartbeats.
	HeartbeatInterval time.Duration

	// Poll loop tuning; zero values select the defaults.
	DequeueTimeout time.Duration
	IdleSleep      time.Duration
	ErrorBackoff   time.Duration
}

// Worker executes tasks of one specialty, one at a time.
type Worker struct {
	id        string
	specialty core.Specialty
	projectID string

	queue      *queue.Queue
	locks      *lock.Service
	workspaces *gitops.WorkspaceManager
	llm        core.LLMClient
	store      *store.Store
	bus        *events.Bus
	logger     *logging.Logger
	submit     func(ctx context.Context, sub merge.Submission) core.MergeResult

	baseBranch     string
	taskTimeout    time.Duration
	lockTTL        time.Duration
	dequeueTimeout time.Duration
	idleSleep      time.Duration
	errorBackoff   time.Duration
	heartbeatEvery time.Duration
	retryDelay     time.Duration

	parser    Parser
	workspace *gitops.Workspace

	state   atomic.Int32
	stopped atomic.Bool

	tasksCompleted int
	tasksFailed    int
	unmerged       bool
}

// New validates the configuration and creates a worker in the created
// state. Spawn must be called before Run.
func New(cfg Config) (*Worker, error) {
	if cfg.ID == "" {
		return nil, core.ErrValidation("WORKER_ID_REQUIRED", "worker id cannot be empty")
	}
	if !cfg.Specialty.Valid() {
		return nil, core.ErrValidation("INVALID_SPECIALTY",
			fmt.Sprintf("unknown specialty %q", cfg.Specialty))
	}
	if cfg.Queue == nil || cfg.Locks == nil || cfg.Workspaces == nil || cfg.LLM == nil {
		return nil, core.ErrValidation("WORKER_DEPS_REQUIRED",
			"queue, locks, workspaces and llm are required")
	}

	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.TaskTimeout
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = defaultDequeueTimeout
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaultIdleSleep
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}

	return &Worker{
		id:             cfg.ID,
		specialty:      cfg.Specialty,
		projectID:      cfg.ProjectID,
		queue:          cfg.Queue,
		locks:          cfg.Locks,
		workspaces:     cfg.Workspaces,
		llm:            cfg.LLM,
		store:          cfg.Store,
		bus:            cfg.Bus,
		logger:         cfg.Logger.WithAgent(cfg.ID).WithSpecialty(string(cfg.Specialty)),
		submit:         cfg.Submit,
		baseBranch:     cfg.BaseBranch,
		taskTimeout:    cfg.TaskTimeout,
		lockTTL:        cfg.LockTTL,
		dequeueTimeout: cfg.DequeueTimeout,
		idleSleep:      cfg.IdleSleep,
		errorBackoff:   cfg.ErrorBackoff,
		heartbeatEvery: cfg.HeartbeatInterval,
		retryDelay:     time.Second,
		parser:         ParserFor(cfg.Specialty),
	}, nil
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Specialty returns the worker's specialty.
func (w *Worker) Specialty() core.Specialty { return w.specialty }

// Branch returns the worker's branch name.
func (w *Worker) Branch() string { return "agent-" + w.id }

// Workspace returns the workspace, nil before Spawn.
func (w *Worker) Workspace() *gitops.Workspace { return w.workspace }

// Stats returns how many tasks this worker completed and failed.
func (w *Worker) Stats() (completed, failed int) {
	return w.tasksCompleted, w.tasksFailed
}

// HasUnmergedWork reports whether commits on the worker branch never
// landed on the target. Only meaningful once Run has returned. A later
// successful merge carries all earlier commits with it, so the flag
// tracks the most recent submission.
func (w *Worker) HasUnmergedWork() bool { return w.unmerged }

// Spawn provisions the worker's branch workspace off the base branch.
func (w *Worker) Spawn(ctx context.Context) error {
	if !w.state.CompareAndSwap(stateCreated, stateSpawned) {
		return core.ErrState("WORKER_ALREADY_SPAWNED",
			fmt.Sprintf("worker %s was already spawned", w.id))
	}

	ws, err := w.workspaces.Create(ctx, w.Branch(), w.baseBranch)
	if err != nil {
		w.state.Store(stateCreated)
		return err
	}
	w.workspace = ws

	if w.store != nil {
		err := w.store.SaveAgent(ctx, &store.Agent{
			ID:            w.id,
			ProjectID:     w.projectID,
			Specialty:     w.specialty,
			Status:        store.AgentIdle,
			WorkspacePath: ws.Path,
			BranchName:    ws.Branch,
		})
		if err != nil {
			w.logger.Warn("agent record not saved", "error", err)
		}
	}

	w.publish(events.NewWorkerSpawnedEvent(w.projectID, w.id, string(w.specialty), ws.Branch, ws.Path))
	w.logger.Info("worker spawned", "branch", ws.Branch, "workspace", ws.Path)
	return nil
}

// Run polls the specialty queue until Stop is called or the context
// ends. One task executes at a time; a task already executing finishes
// before a stop is honored.
func (w *Worker) Run(ctx context.Context) error {
	if !w.state.CompareAndSwap(stateSpawned, stateRunning) {
		return core.ErrState("WORKER_NOT_SPAWNED",
			fmt.Sprintf("worker %s must be spawned before running", w.id))
	}
	defer w.state.Store(stateStopped)

	w.logger.Info("worker running")

	// Heartbeats continue through long task executions, so a busy
	// worker is never mistaken for a dead one.
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	if w.store != nil && w.heartbeatEvery > 0 {
		go w.heartbeatLoop(hbCtx)
	}

	for !w.stopped.Load() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		task, err := w.queue.Dequeue(ctx, w.specialty, w.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("dequeue failed", "error", err)
			if !w.sleep(ctx, w.errorBackoff) {
				return nil
			}
			continue
		}
		if task == nil {
			if !w.sleep(ctx, w.idleSleep) {
				return nil
			}
			continue
		}

		w.runTask(ctx, task)
	}

	w.logger.Info("worker stopped", "completed", w.tasksCompleted, "failed", w.tasksFailed)
	return nil
}

// runTask executes one dequeued task and reports the outcome to the
// queue, the store and the bus. Reporting failures never crash the
// loop; the lock TTL and the heartbeat reaper cover a worker that dies
// mid-task.
func (w *Worker) runTask(ctx context.Context, task *core.Task) {
	log := w.logger.WithTask(task.ID)
	log.Info("task started", "title", task.Title, "files", len(task.AllFiles()))

	if w.store != nil {
		if err := w.store.MarkTaskStarted(ctx, task.ID, w.id); err != nil {
			log.Warn("task start not recorded", "error", err)
		}
		if err := w.store.SetAgentStatus(ctx, w.id, store.AgentBusy, task.ID); err != nil {
			log.Warn("agent status not updated", "error", err)
		}
	}
	w.publish(events.NewTaskStartedEvent(w.projectID, task.ID, w.id, w.workspace.Branch))

	result, err := w.executeTask(ctx, task)
	if err != nil {
		w.tasksFailed++
		log.Error("task failed", "error", err)

		if mfErr := w.queue.MarkFailed(ctx, task.ID, err.Error()); mfErr != nil {
			log.Error("failure not recorded in queue", "error", mfErr)
		}
		w.recordOutcome(ctx, task.ID, nil, err)
		w.publish(events.NewTaskFailedEvent(w.projectID, task.ID, w.id, err, core.IsRetryable(err)))
		return
	}

	w.tasksCompleted++
	log.Info("task completed",
		"commit", result.CommitID,
		"files", len(result.FilesModified),
		"duration", result.Duration)

	if mcErr := w.queue.MarkCompleted(ctx, task.ID, result); mcErr != nil {
		log.Error("completion not recorded in queue", "error", mcErr)
	}
	w.recordOutcome(ctx, task.ID, result, nil)
	w.publish(events.NewTaskCompletedEvent(w.projectID, task.ID, w.id, result.CommitID, result.FilesModified, result.Duration))

	// Integration happens after the task is terminal: a rejected merge
	// leaves the branch in place for inspection without failing the task.
	w.unmerged = true
	if w.submit != nil {
		merged := w.submit(ctx, merge.Submission{
			TaskID:       task.ID,
			AgentID:      w.id,
			SourceBranch: w.workspace.Branch,
			Workspace:    w.workspace.Path,
		})
		if merged.Success {
			w.unmerged = false
		} else {
			log.Warn("work not integrated, branch kept for inspection",
				"error", merged.Error)
		}
	}
}

// executeTask performs one task under the file locks it needs. Locks are
// released on every exit path and expire on their own TTL otherwise.
func (w *Worker) executeTask(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	resources := make([]string, 0, len(task.AllFiles()))
	for _, f := range task.AllFiles() {
		resources = append(resources, "file:"+f)
	}

	locks, err := w.locks.AcquireMultiple(tctx, resources, w.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		rctx, rcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rcancel()
		w.locks.ReleaseMultiple(rctx, locks)
	}()

	response, err := w.invokeModel(tctx, task)
	if err != nil {
		return nil, err
	}

	changes, err := w.parser.Parse(response.Content, task)
	if err != nil {
		return nil, err
	}

	if err := w.applyChanges(changes); err != nil {
		return nil, err
	}

	commitID, err := w.workspaces.CommitAll(tctx, w.workspace.Path, task.CommitMessage(), &gitops.Author{
		Name:  "Agent-" + string(w.specialty),
		Email: fmt.Sprintf("agent-%s@orchestrator.local", w.id),
	})
	if err != nil {
		return nil, core.ErrExecution(core.CodeFileOperationFailed,
			"committing workspace changes").WithCause(err)
	}

	modified := make([]string, 0, len(changes))
	for _, c := range changes {
		modified = append(modified, c.Path)
	}
	sort.Strings(modified)

	return &core.TaskResult{
		TaskID:        task.ID,
		Success:       true,
		CommitID:      commitID,
		FilesModified: modified,
		Duration:      time.Since(start),
	}, nil
}

// invokeModel sends the task prompt, retrying transient failures.
func (w *Worker) invokeModel(ctx context.Context, task *core.Task) (*core.LLMResponse, error) {
	req := core.LLMRequest{
		Prompt:       taskPrompt(task, w.readExisting(task.FilesToModify)),
		SystemPrompt: systemPromptFor(w.specialty),
	}

	var lastErr error
	for attempt := 1; attempt <= llmAttempts; attempt++ {
		response, err := w.llm.Invoke(ctx, req)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !core.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		w.logger.Warn("model invocation failed, retrying",
			"attempt", attempt, "error", err)
		if !w.sleep(ctx, time.Duration(attempt)*w.retryDelay) {
			break
		}
	}
	return nil, lastErr
}

// readExisting loads current contents of the files the task modifies so
// the prompt can ground edits in what is already there.
func (w *Worker) readExisting(paths []string) map[string]string {
	existing := make(map[string]string, len(paths))
	for _, p := range paths {
		if !filepath.IsLocal(p) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(w.workspace.Path, p))
		if err != nil {
			continue
		}
		existing[p] = string(data)
	}
	return existing
}

// applyChanges writes each extracted file into the workspace atomically,
// creating parent directories. Paths escaping the workspace are refused.
func (w *Worker) applyChanges(changes []FileChange) error {
	for _, change := range changes {
		if !filepath.IsLocal(change.Path) {
			return core.ErrValidation(core.CodeFileOperationFailed,
				fmt.Sprintf("path %q escapes the workspace", change.Path))
		}

		path := filepath.Join(w.workspace.Path, change.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return core.ErrExecution(core.CodeFileOperationFailed,
				fmt.Sprintf("creating directory for %s", change.Path)).WithCause(err)
		}
		if err := renameio.WriteFile(path, []byte(change.Content), 0o644); err != nil {
			return core.ErrExecution(core.CodeFileOperationFailed,
				fmt.Sprintf("writing %s", change.Path)).WithCause(err)
		}
	}
	return nil
}

// Stop requests a graceful stop. The flag is observed at the top of the
// run loop; an executing task completes first.
func (w *Worker) Stop() {
	w.stopped.Store(true)
}

// Cleanup destroys the workspace and records the final agent state. Safe
// to call regardless of lifecycle position; repeated calls are no-ops.
func (w *Worker) Cleanup(ctx context.Context) error {
	if w.state.Swap(stateCleaned) == stateCleaned {
		return nil
	}

	if w.workspace != nil {
		if err := w.workspaces.Remove(ctx, w.workspace.Path, true); err != nil {
			w.logger.Warn("workspace removal failed", "path", w.workspace.Path, "error", err)
		}
		w.workspace = nil
	}

	if w.store != nil {
		if err := w.store.SetAgentStatus(ctx, w.id, store.AgentStopped, ""); err != nil {
			w.logger.Warn("agent status not updated", "error", err)
		}
	}

	w.publish(events.NewWorkerStoppedEvent(w.projectID, w.id, string(w.specialty), w.tasksCompleted, w.tasksFailed))
	w.logger.Info("worker cleaned up")
	return nil
}

// recordOutcome persists the terminal state of a task and the agent's
// tallies. Bookkeeping failures are logged, never propagated.
func (w *Worker) recordOutcome(ctx context.Context, taskID string, result *core.TaskResult, taskErr error) {
	if w.store == nil {
		return
	}

	if taskErr != nil {
		if err := w.store.MarkTaskFailed(ctx, taskID, taskErr.Error()); err != nil {
			w.logger.Warn("task failure not recorded", "error", err)
		}
	} else {
		if err := w.store.MarkTaskCompleted(ctx, taskID, result); err != nil {
			w.logger.Warn("task completion not recorded", "error", err)
		}
	}

	if err := w.store.RecordAgentResult(ctx, w.id, taskErr == nil); err != nil {
		w.logger.Warn("agent tally not recorded", "error", err)
	}
	if err := w.store.SetAgentStatus(ctx, w.id, store.AgentIdle, ""); err != nil {
		w.logger.Warn("agent status not updated", "error", err)
	}
}

// heartbeatLoop refreshes the agent's liveness timestamp until the
// context ends. The reaper marks agents offline when the timestamp goes
// stale.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	w.beat(ctx)

	ticker := time.NewTicker(w.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beat(ctx)
		}
	}
}

func (w *Worker) beat(ctx context.Context) {
	if err := w.store.Heartbeat(ctx, w.id); err != nil {
		w.logger.Debug("heartbeat not recorded", "error", err)
	}
}

// sleep waits for d unless the context ends or a stop is requested.
// Returns false when the loop should exit.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return !w.stopped.Load()
	}
}

func (w *Worker) publish(event events.Event) {
	if w.bus != nil {
		w.bus.Publish(event)
	}
}
