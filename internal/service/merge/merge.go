// Package merge lands completed agent work on the target branch. Every
// submission passes a three-stage funnel: a conflict pre-check against
// files the target changed since divergence, the quality gate pipeline
// over the agent workspace, and finally an explicit merge commit that is
// rolled back if git reports conflicts the pre-check could not see.
package merge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/events"
	"github.com/devcrewhq/crew/internal/gitops"
	"github.com/devcrewhq/crew/internal/logging"
	"github.com/devcrewhq/crew/internal/validation"
)

// Submission describes completed agent work awaiting integration.
type Submission struct {
	TaskID       string
	AgentID      string
	SourceBranch string
	Workspace    string
}

// Options tune the integration funnel.
type Options struct {
	// TargetBranch receives agent work. Empty means the repository
	// default branch.
	TargetBranch string

	// ValidationEnabled runs the quality gates over the agent
	// workspace before merging. Disabled gates count as passed.
	ValidationEnabled bool

	// StopOnFailure aborts the gate pipeline at the first failure
	// instead of collecting every verdict.
	StopOnFailure bool

	// ProjectID tags published events.
	ProjectID string
}

// Orchestrator funnels agent branches into the target branch. It is not
// safe for concurrent use: the primary checkout is shared state, so the
// fleet routes all submissions through a single goroutine.
type Orchestrator struct {
	git        *gitops.Client
	workspaces *gitops.WorkspaceManager
	pipeline   *validation.Pipeline
	bus        *events.Bus
	logger     *logging.Logger
	opts       Options
}

// New creates an orchestrator. The pipeline and bus may be nil; a nil
// pipeline behaves as if validation were disabled.
func New(git *gitops.Client, workspaces *gitops.WorkspaceManager, pipeline *validation.Pipeline, bus *events.Bus, logger *logging.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		git:        git,
		workspaces: workspaces,
		pipeline:   pipeline,
		bus:        bus,
		logger:     logger,
		opts:       opts,
	}
}

// MergeAgentWork runs one submission through the funnel and reports the
// outcome. The target branch head only moves when the result is a
// success; conflict and gate failures return before any merge is
// attempted, and a conflicted merge is aborted in place.
func (o *Orchestrator) MergeAgentWork(ctx context.Context, sub Submission) core.MergeResult {
	target := o.targetBranch(ctx)
	result := core.MergeResult{
		SourceBranch: sub.SourceBranch,
		TargetBranch: target,
	}

	log := o.logger.WithTask(sub.TaskID).WithAgent(sub.AgentID).WithBranch(sub.SourceBranch)
	log.Info("integrating agent work", "target", target)

	conflicts, err := o.overlappingFiles(ctx, sub.SourceBranch, target)
	if err != nil {
		result.Error = err.Error()
		log.Error("conflict pre-check failed", "error", err)
		return result
	}
	if len(conflicts) > 0 {
		result.ConflictDetected = true
		result.Conflicts = conflicts
		result.Error = fmt.Sprintf("%d files modified on both branches", len(conflicts))
		log.Warn("overlapping changes block merge", "files", conflicts)
		o.publish(events.NewMergeConflictEvent(o.opts.ProjectID, sub.TaskID, sub.SourceBranch, target, conflicts, false))
		return result
	}

	if o.opts.ValidationEnabled && o.pipeline != nil {
		passed, gates := o.pipeline.RunAll(ctx, sub.Workspace, o.opts.StopOnFailure)
		result.ValidationResults = gates
		result.QualityGatesPassed = passed
		if !passed {
			gate, errorCount := firstFailedGate(gates)
			result.Error = fmt.Sprintf("quality gate %s failed", gate)
			log.Warn("quality gates rejected work", "gate", gate, "errors", errorCount)
			o.publish(events.NewMergeRejectedEvent(o.opts.ProjectID, sub.TaskID, sub.SourceBranch, gate, errorCount))
			return result
		}
	} else {
		result.QualityGatesPassed = true
	}

	if err := o.git.Checkout(ctx, target); err != nil {
		result.Error = fmt.Sprintf("checkout %s: %v", target, err)
		log.Error("target checkout failed", "error", err)
		return result
	}

	message := fmt.Sprintf("Merge agent work: %s completed %s", sub.AgentID, sub.TaskID)
	if err := o.git.Merge(ctx, sub.SourceBranch, message); err != nil {
		conflicting, _ := o.git.ConflictingFiles(ctx)
		abortErr := o.git.MergeAbort(ctx)
		if abortErr != nil {
			log.Error("merge abort failed, index may be mid-merge", "error", abortErr)
		}

		result.ConflictDetected = true
		result.Conflicts = conflicting
		result.RollbackPerformed = abortErr == nil
		result.Error = fmt.Sprintf("merge failed: %v", err)
		log.Warn("merge rolled back",
			"conflicts", len(conflicting),
			"rolled_back", result.RollbackPerformed)
		o.publish(events.NewMergeConflictEvent(o.opts.ProjectID, sub.TaskID, sub.SourceBranch, target, conflicting, result.RollbackPerformed))
		return result
	}

	commit, err := o.git.CurrentCommit(ctx)
	if err != nil {
		log.Warn("merge landed but head lookup failed", "error", err)
	}

	result.Success = true
	result.CommitID = commit
	log.Info("merge completed", "commit", commit)
	o.publish(events.NewMergeCompletedEvent(o.opts.ProjectID, sub.TaskID, sub.SourceBranch, target, commit))
	return result
}

// CleanupAgentBranch removes the submission's workspace and deletes its
// branch. Failures are logged, never propagated: a leftover branch does
// not block the pipeline and the next Create evicts stale checkouts.
func (o *Orchestrator) CleanupAgentBranch(ctx context.Context, sub Submission) {
	if sub.Workspace != "" {
		if err := o.workspaces.Remove(ctx, sub.Workspace, true); err != nil {
			o.logger.Warn("workspace removal failed",
				"path", sub.Workspace,
				"error", err)
		}
	}
	if sub.SourceBranch != "" {
		if err := o.workspaces.DeleteBranch(ctx, sub.SourceBranch, true); err != nil {
			o.logger.Warn("branch deletion failed",
				"branch", sub.SourceBranch,
				"error", err)
		}
	}
}

// targetBranch resolves the configured target, falling back to the
// repository default.
func (o *Orchestrator) targetBranch(ctx context.Context) string {
	if o.opts.TargetBranch != "" {
		return o.opts.TargetBranch
	}
	branch, err := o.git.DefaultBranch(ctx)
	if err != nil || branch == "" {
		return "main"
	}
	return branch
}

// overlappingFiles returns the files changed on both branches since
// their merge base, sorted for stable reporting.
func (o *Orchestrator) overlappingFiles(ctx context.Context, source, target string) ([]string, error) {
	base, err := o.git.MergeBase(ctx, target, source)
	if err != nil {
		return nil, fmt.Errorf("finding merge base of %s and %s: %w", target, source, err)
	}

	sourceFiles, err := o.git.DiffFiles(ctx, base, source)
	if err != nil {
		return nil, fmt.Errorf("diffing %s: %w", source, err)
	}
	targetFiles, err := o.git.DiffFiles(ctx, base, target)
	if err != nil {
		return nil, fmt.Errorf("diffing %s: %w", target, err)
	}

	onTarget := make(map[string]struct{}, len(targetFiles))
	for _, f := range targetFiles {
		onTarget[f] = struct{}{}
	}

	overlap := make([]string, 0)
	for _, f := range sourceFiles {
		if _, ok := onTarget[f]; ok {
			overlap = append(overlap, f)
		}
	}
	sort.Strings(overlap)
	return overlap, nil
}

func (o *Orchestrator) publish(event events.Event) {
	if o.bus != nil {
		o.bus.PublishPriority(event)
	}
}

// firstFailedGate returns the name and error count of the first gate
// that blocked integration.
func firstFailedGate(gates []core.ValidationResult) (string, int) {
	for _, g := range gates {
		if !g.Passed() {
			return g.Gate, g.ErrorCount()
		}
	}
	return "", 0
}

// Summary renders a short human-readable account of one merge attempt.
func Summary(result core.MergeResult) string {
	var b strings.Builder

	status := "FAILED"
	if result.Success {
		status = "MERGED"
	}
	fmt.Fprintf(&b, "%s %s -> %s", status, result.SourceBranch, result.TargetBranch)

	if result.CommitID != "" {
		fmt.Fprintf(&b, " (%s)", shortCommit(result.CommitID))
	}
	if result.ConflictDetected {
		fmt.Fprintf(&b, "\n  conflicts (%d):", len(result.Conflicts))
		for _, f := range result.Conflicts {
			fmt.Fprintf(&b, "\n    %s", f)
		}
	}
	if len(result.ValidationResults) > 0 {
		fmt.Fprintf(&b, "\n  %s", validation.Summary(result.ValidationResults))
	}
	if result.RollbackPerformed {
		b.WriteString("\n  rollback performed, target branch unchanged")
	}
	if result.Error != "" && !result.Success {
		fmt.Fprintf(&b, "\n  error: %s", result.Error)
	}

	return b.String()
}

func shortCommit(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
