package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/events"
	"github.com/devcrewhq/crew/internal/gitops"
	"github.com/devcrewhq/crew/internal/lock"
	"github.com/devcrewhq/crew/internal/logging"
	"github.com/devcrewhq/crew/internal/queue"
	"github.com/devcrewhq/crew/internal/service/merge"
	"github.com/devcrewhq/crew/internal/store"
)

// quiescentChecks is how many consecutive drain checks must observe an
// idle fleet (nothing queued, nothing executing) before the run ends
// with tasks still blocked. Repetition absorbs the window between a
// dequeue and the matching start record.
const quiescentChecks = 3

// FleetConfig assembles a fleet run.
type FleetConfig struct {
	ProjectID string

	// Specialties drawn from the plan. Workers are assigned round-robin;
	// every distinct specialty gets at least one worker so no queue
	// starves.
	Specialties []core.Specialty

	// MaxAgents caps the fleet size. Raised to the specialty count when
	// lower, since an uncovered specialty would never drain.
	MaxAgents int

	// TotalTasks seeded into the queue; the drain check compares it
	// against terminal task counts.
	TotalTasks int

	BaseBranch        string
	TaskTimeout       time.Duration
	LockTTL           time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration

	// Worker poll tuning, passed through to each worker.
	DequeueTimeout time.Duration
	IdleSleep      time.Duration
	ErrorBackoff   time.Duration

	Queue      *queue.Queue
	Locks      *lock.Service
	Workspaces *gitops.WorkspaceManager
	LLM        core.LLMClient
	Merger     *merge.Orchestrator
	Store      *store.Store
	Bus        *events.Bus
	Logger     *logging.Logger
}

// submission pairs agent work with the channel its worker blocks on
// until the merge loop reports the outcome.
type submission struct {
	sub   merge.Submission
	reply chan core.MergeResult
}

// Fleet runs a group of specialist workers against one task queue. All
// integration flows through a single merge loop; a reaper recovers
// tasks from agents that stopped heartbeating.
type Fleet struct {
	cfg         FleetConfig
	specialties []core.Specialty
	logger      *logging.Logger
	workers     []*Worker
	submissions chan submission
}

// NewFleet validates the configuration and creates a fleet.
func NewFleet(cfg FleetConfig) (*Fleet, error) {
	if len(cfg.Specialties) == 0 {
		return nil, core.ErrValidation("FLEET_SPECIALTIES_REQUIRED",
			"a fleet needs at least one specialty to staff")
	}
	if cfg.Queue == nil || cfg.Locks == nil || cfg.Workspaces == nil ||
		cfg.LLM == nil || cfg.Merger == nil || cfg.Store == nil {
		return nil, core.ErrValidation("FLEET_DEPS_REQUIRED",
			"queue, locks, workspaces, llm, merger and store are required")
	}

	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	specialties := distinctSpecialties(cfg.Specialties)
	if cfg.MaxAgents < len(specialties) {
		if cfg.MaxAgents > 0 {
			cfg.Logger.Warn("raising agent cap to cover every specialty",
				"max_agents", cfg.MaxAgents,
				"specialties", len(specialties))
		}
		cfg.MaxAgents = len(specialties)
	}

	return &Fleet{
		cfg:         cfg,
		specialties: specialties,
		logger:      cfg.Logger.WithProject(cfg.ProjectID),
		submissions: make(chan submission),
	}, nil
}

// Workers returns the fleet's workers, available after Run starts.
func (f *Fleet) Workers() []*Worker { return f.workers }

// Run drives the fleet until every seeded task is terminal, no task can
// make further progress, or the context ends. Worker branches with
// unmerged commits survive teardown for inspection.
func (f *Fleet) Run(ctx context.Context) error {
	if err := f.buildWorkers(); err != nil {
		return err
	}

	// Recover leftovers of a previous run before this run's agents
	// register and shadow them.
	f.reap(ctx)

	for _, w := range f.workers {
		// Workspace creation rewrites shared repository metadata, so
		// spawns are sequential.
		if err := w.Spawn(ctx); err != nil {
			f.teardown()
			return err
		}
	}
	f.logger.Info("fleet spawned",
		"workers", len(f.workers),
		"specialties", len(f.specialties),
		"tasks", f.cfg.TotalTasks)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, w := range f.workers {
		g.Go(func() error { return w.Run(gctx) })
	}

	mergeDone := make(chan struct{})
	go f.mergeLoop(runCtx, mergeDone)

	reaperDone := make(chan struct{})
	go f.reaperLoop(runCtx, reaperDone)

	drainErr := f.waitForDrain(gctx)

	for _, w := range f.workers {
		w.Stop()
	}
	workerErr := g.Wait()

	// All submitters have returned; release the merge loop and then the
	// reaper.
	close(f.submissions)
	<-mergeDone
	cancel()
	<-reaperDone

	f.teardown()

	if workerErr != nil {
		return workerErr
	}
	if drainErr != nil && !errors.Is(drainErr, context.Canceled) {
		return drainErr
	}
	return nil
}

// buildWorkers staffs the fleet round-robin over the plan's
// specialties. IDs are deterministic per specialty so a restarted run
// re-attaches the branches a crashed run left behind.
func (f *Fleet) buildWorkers() error {
	perSpecialty := make(map[core.Specialty]int, len(f.specialties))

	for i := 0; i < f.cfg.MaxAgents; i++ {
		specialty := f.specialties[i%len(f.specialties)]
		perSpecialty[specialty]++

		w, err := New(Config{
			ID:                fmt.Sprintf("%s-%d", specialty, perSpecialty[specialty]),
			Specialty:         specialty,
			ProjectID:         f.cfg.ProjectID,
			Queue:             f.cfg.Queue,
			Locks:             f.cfg.Locks,
			Workspaces:        f.cfg.Workspaces,
			LLM:               f.cfg.LLM,
			Store:             f.cfg.Store,
			Bus:               f.cfg.Bus,
			Logger:            f.cfg.Logger,
			Submit:            f.submitWork,
			BaseBranch:        f.cfg.BaseBranch,
			TaskTimeout:       f.cfg.TaskTimeout,
			LockTTL:           f.cfg.LockTTL,
			HeartbeatInterval: f.cfg.HeartbeatInterval,
			DequeueTimeout:    f.cfg.DequeueTimeout,
			IdleSleep:         f.cfg.IdleSleep,
			ErrorBackoff:      f.cfg.ErrorBackoff,
		})
		if err != nil {
			return err
		}
		f.workers = append(f.workers, w)
	}
	return nil
}

// submitWork routes one completed branch through the merge loop and
// blocks the calling worker until integration finishes.
func (f *Fleet) submitWork(ctx context.Context, sub merge.Submission) core.MergeResult {
	req := submission{sub: sub, reply: make(chan core.MergeResult, 1)}

	select {
	case f.submissions <- req:
	case <-ctx.Done():
		return core.MergeResult{
			SourceBranch: sub.SourceBranch,
			Error:        "fleet shut down before integration",
		}
	}

	select {
	case result := <-req.reply:
		return result
	case <-ctx.Done():
		return core.MergeResult{
			SourceBranch: sub.SourceBranch,
			Error:        "fleet shut down during integration",
		}
	}
}

// mergeLoop serializes every merge onto the target branch. The primary
// checkout is shared state; one consumer is the concurrency contract.
func (f *Fleet) mergeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for req := range f.submissions {
		req.reply <- f.cfg.Merger.MergeAgentWork(ctx, req.sub)
	}
}

// reaperLoop periodically recovers tasks held by agents that stopped
// heartbeating. Disabled without a heartbeat interval.
func (f *Fleet) reaperLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if f.cfg.HeartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(f.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.reap(ctx)
		}
	}
}

// reap marks agents stale past two heartbeat intervals offline and
// fails their stuck tasks so the queue reflects reality. A failed task
// can be requeued by an operator once the cause is understood.
func (f *Fleet) reap(ctx context.Context) {
	if f.cfg.HeartbeatInterval <= 0 {
		return
	}

	cutoff := time.Now().UTC().Add(-2 * f.cfg.HeartbeatInterval)
	stale, err := f.cfg.Store.StaleAgents(ctx, f.cfg.ProjectID, cutoff)
	if err != nil {
		f.logger.Warn("stale agent scan failed", "error", err)
		return
	}

	for _, agent := range stale {
		if err := f.cfg.Store.SetAgentStatus(ctx, agent.ID, store.AgentOffline, ""); err != nil {
			f.logger.Warn("agent not marked offline", "agent", agent.ID, "error", err)
			continue
		}

		failed := 0
		tasks, err := f.cfg.Store.ListAgentTasks(ctx, agent.ID, core.TaskStatusInProgress)
		if err != nil {
			f.logger.Warn("stuck task scan failed", "agent", agent.ID, "error", err)
		}
		for _, t := range tasks {
			reason := fmt.Sprintf("agent %s went offline mid-task", agent.ID)
			if err := f.cfg.Queue.MarkFailed(ctx, t.ID, reason); err != nil {
				f.logger.Warn("stuck task not failed in queue", "task", t.ID, "error", err)
			}
			if err := f.cfg.Store.MarkTaskFailed(ctx, t.ID, reason); err != nil {
				f.logger.Warn("stuck task not failed in store", "task", t.ID, "error", err)
			}
			failed++
		}

		f.logger.Warn("agent reaped",
			"agent", agent.ID,
			"specialty", agent.Specialty,
			"failed_tasks", failed)
		if f.cfg.Bus != nil {
			f.cfg.Bus.PublishPriority(events.NewWorkerOfflineEvent(
				f.cfg.ProjectID, agent.ID, string(agent.Specialty), failed))
		}
	}
}

// waitForDrain blocks until every seeded task is terminal or the fleet
// is provably stuck: nothing queued and nothing executing means no
// completion can ever promote the blocked remainder.
func (f *Fleet) waitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	stable := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		counts, err := f.cfg.Store.TaskCounts(ctx, f.cfg.ProjectID)
		if err != nil {
			f.logger.Warn("drain check failed", "error", err)
			continue
		}

		terminal := counts[core.TaskStatusCompleted] + counts[core.TaskStatusFailed]
		if f.cfg.TotalTasks > 0 && terminal >= f.cfg.TotalTasks {
			f.logger.Info("all tasks terminal",
				"completed", counts[core.TaskStatusCompleted],
				"failed", counts[core.TaskStatusFailed])
			return nil
		}

		queued, err := f.queuedTasks(ctx)
		if err != nil {
			f.logger.Warn("queue depth check failed", "error", err)
			continue
		}

		if queued == 0 && counts[core.TaskStatusInProgress] == 0 {
			stable++
			if stable >= quiescentChecks {
				if blocked, err := f.cfg.Queue.PendingCount(ctx); err == nil && blocked > 0 {
					f.logger.Warn("tasks blocked behind failed prerequisites",
						"blocked", blocked)
				}
				return nil
			}
		} else {
			stable = 0
		}
	}
}

func (f *Fleet) queuedTasks(ctx context.Context) (int64, error) {
	var queued int64
	for _, s := range f.specialties {
		depth, err := f.cfg.Queue.QueueDepth(ctx, s)
		if err != nil {
			return 0, err
		}
		queued += depth
	}
	return queued, nil
}

// teardown destroys workspaces and deletes fully merged branches. A
// branch holding unmerged commits is kept so the work is inspectable.
func (f *Fleet) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, w := range f.workers {
		if err := w.Cleanup(ctx); err != nil {
			f.logger.Warn("worker cleanup failed", "agent", w.ID(), "error", err)
		}
		if w.HasUnmergedWork() {
			f.logger.Warn("keeping branch with unmerged work", "branch", w.Branch())
			continue
		}
		f.cfg.Merger.CleanupAgentBranch(ctx, merge.Submission{
			AgentID:      w.ID(),
			SourceBranch: w.Branch(),
		})
	}
}

// distinctSpecialties preserves first-seen order while deduplicating.
func distinctSpecialties(specialties []core.Specialty) []core.Specialty {
	seen := make(map[core.Specialty]bool, len(specialties))
	out := make([]core.Specialty, 0, len(specialties))
	for _, s := range specialties {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
