package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/events"
	"github.com/devcrewhq/crew/internal/gitops"
	"github.com/devcrewhq/crew/internal/llm"
	"github.com/devcrewhq/crew/internal/lock"
	"github.com/devcrewhq/crew/internal/queue"
	"github.com/devcrewhq/crew/internal/service/merge"
	"github.com/devcrewhq/crew/internal/service/planner"
	"github.com/devcrewhq/crew/internal/service/worker"
	"github.com/devcrewhq/crew/internal/store"
	"github.com/devcrewhq/crew/internal/validation"
)

var runCmd = &cobra.Command{
	Use:   "run [<brief>]",
	Short: "Plan a brief and execute it with a fleet of specialist agents",
	Long: `Run a full orchestration: decompose the brief into tasks, seed the
queue, and drive a fleet of specialist agents until every task is terminal
or no further progress is possible.

Each agent works in an isolated git worktree, takes file locks for its
task's footprint, and submits finished branches through the merge funnel:
conflict pre-check, quality gates, then an explicit merge commit on the
base branch.

A previously saved plan runs without another planning round:

  crew run --plan plan.yaml --repo .

Logs stream to stderr; the final summary goes to stdout. Interrupting the
run stops the fleet and records the project as aborted. Worker branches
with unmerged commits survive for inspection.`,
	Args: cobra.ArbitraryArgs,
	RunE: runRunCmd,
}

var (
	runPlanFile string
	runRepoDir  string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPlanFile, "plan", "", "Execute a saved plan file instead of planning a brief")
	runCmd.Flags().StringVar(&runRepoDir, "repo", ".", "Target git repository")
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && runPlanFile == "" {
		return fmt.Errorf("provide a brief or --plan <file>")
	}
	if len(args) > 0 && runPlanFile != "" {
		return fmt.Errorf("provide either a brief or --plan, not both")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	git, err := gitops.NewClient(runRepoDir)
	if err != nil {
		return err
	}
	workspaces, err := gitops.NewWorkspaceManager(git, cfg.Git.WorkspacesDir, logger)
	if err != nil {
		return err
	}

	client, err := llm.New(ctx, llm.Options{
		Profile:           cfg.LLM.Profile,
		Region:            cfg.LLM.Region,
		ModelID:           cfg.LLM.ModelID,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)
	if err != nil {
		return err
	}

	p := planner.New(client, logger)

	var plan *core.Plan
	if runPlanFile != "" {
		plan, err = loadPlanFile(runPlanFile)
	} else {
		plan, err = p.AnalyzeRequirements(ctx, strings.Join(args, " "), "")
	}
	if err != nil {
		return err
	}

	g, err := p.BuildGraph(plan)
	if err != nil {
		return err
	}
	exec, err := p.ExecutionPlan(g)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	renderPlan(out, plan, exec)
	fmt.Fprintln(out)

	bus := events.NewBus(256)
	defer bus.Close()

	projectID := uuid.NewString()
	requirements := strings.Join(args, " ")
	if requirements == "" {
		requirements = plan.Description
	}

	started := time.Now().UTC()
	project := &store.Project{
		ID:           projectID,
		Name:         plan.ProjectName,
		Description:  plan.Description,
		Path:         git.RepoPath(),
		Status:       store.ProjectRunning,
		Requirements: requirements,
		TotalTasks:   len(plan.Tasks),
		MaxAgents:    cfg.Fleet.MaxAgents,
		StartedAt:    &started,
	}
	if err := st.SaveProject(ctx, project); err != nil {
		return err
	}

	// Tasks carry the project id into the queue, the store and every event.
	for _, t := range plan.Tasks {
		t.ProjectID = projectID
	}
	if err := st.SaveTasks(ctx, plan.Tasks); err != nil {
		return err
	}

	q := queue.New(rdb, logger)
	for _, t := range plan.Tasks {
		if err := q.Enqueue(ctx, t); err != nil {
			return err
		}
		bus.Publish(events.NewTaskEnqueuedEvent(projectID, t.ID, t.Title,
			string(t.Specialty), len(t.Dependencies) > 0))
	}
	bus.Publish(events.NewPlanCreatedEvent(projectID, plan.ProjectName,
		len(plan.Tasks), exec.TotalLevels, plan.EstimatedTotalHours))

	var pipeline *validation.Pipeline
	if cfg.Validation.Enabled {
		pipeline = validation.NewPipeline(logger, validation.DefaultValidators(logger)...)
	}
	merger := merge.New(git, workspaces, pipeline, bus, logger, merge.Options{
		TargetBranch:      cfg.Git.BaseBranch,
		ValidationEnabled: cfg.Validation.Enabled,
		StopOnFailure:     cfg.Validation.StopOnFailure,
		ProjectID:         projectID,
	})

	fleet, err := worker.NewFleet(worker.FleetConfig{
		ProjectID:         projectID,
		Specialties:       planSpecialties(plan),
		MaxAgents:         cfg.Fleet.MaxAgents,
		TotalTasks:        len(plan.Tasks),
		BaseBranch:        cfg.Git.BaseBranch,
		TaskTimeout:       cfg.TaskTimeout(),
		LockTTL:           cfg.LockTTL(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		Queue:             q,
		Locks:             lock.NewService(rdb, logger),
		Workspaces:        workspaces,
		LLM:               client,
		Merger:            merger,
		Store:             st,
		Bus:               bus,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	runErr := fleet.Run(ctx)

	// Bookkeeping runs on a fresh context: the run context is gone after
	// an interrupt, and the final record matters most then.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := st.TaskCounts(finishCtx, projectID)
	if err != nil {
		logger.Warn("reading final task counts", "error", err)
	}
	completed := counts[core.TaskStatusCompleted]
	failed := counts[core.TaskStatusFailed]

	switch {
	case ctx.Err() != nil:
		project.Status = store.ProjectAborted
	case completed == len(plan.Tasks):
		project.Status = store.ProjectCompleted
	default:
		project.Status = store.ProjectFailed
	}
	project.CompletedTasks = completed
	project.FailedTasks = failed
	finished := time.Now().UTC()
	project.CompletedAt = &finished
	if err := st.SaveProject(finishCtx, project); err != nil {
		logger.Warn("recording final project state", "error", err)
	}

	summary := fmt.Sprintf("Run finished: %d/%d tasks completed", completed, len(plan.Tasks))
	if failed > 0 {
		summary += fmt.Sprintf(", %d failed", failed)
	}
	if blocked := len(plan.Tasks) - completed - failed; blocked > 0 {
		summary += fmt.Sprintf(", %d blocked", blocked)
	}
	fmt.Fprintln(out, summary)

	return runErr
}

// planSpecialties returns the distinct specialties the plan staffs, in
// canonical order.
func planSpecialties(plan *core.Plan) []core.Specialty {
	present := make(map[core.Specialty]bool, len(plan.Tasks))
	for _, t := range plan.Tasks {
		present[t.Specialty] = true
	}
	specialties := make([]core.Specialty, 0, len(present))
	for _, s := range core.Specialties() {
		if present[s] {
			specialties = append(specialties, s)
		}
	}
	return specialties
}
