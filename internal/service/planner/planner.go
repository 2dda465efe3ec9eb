// Package planner turns a project brief into a validated task plan and an
// execution schedule over its dependency graph.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/graph"
	"github.com/devcrewhq/crew/internal/logging"
)

// Planner decomposes requirements with the LLM and schedules the result.
type Planner struct {
	llm    core.LLMClient
	logger *logging.Logger
}

// New creates a planner.
func New(llm core.LLMClient, logger *logging.Logger) *Planner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Planner{llm: llm, logger: logger}
}

// planWire is the JSON contract the decomposition prompt asks the model for.
type planWire struct {
	ProjectName         string         `json:"project_name"`
	Description         string         `json:"description"`
	EstimatedTotalHours float64        `json:"estimated_total_hours"`
	Tasks               []planTaskWire `json:"tasks"`
}

type planTaskWire struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Specialty      string   `json:"specialty"`
	EstimatedHours float64  `json:"estimated_hours"`
	FilesToCreate  []string `json:"files_to_create"`
	FilesToModify  []string `json:"files_to_modify"`
	Dependencies   []string `json:"dependencies"`
}

// AnalyzeRequirements asks the model to decompose the brief into tasks and
// validates the answer. The returned plan is ready to schedule.
func (p *Planner) AnalyzeRequirements(ctx context.Context, requirements, projectContext string) (*core.Plan, error) {
	p.logger.Info("analyzing requirements",
		"brief_length", len(requirements),
		"has_context", projectContext != "")

	req := core.LLMRequest{Prompt: decompositionPrompt(requirements, projectContext)}

	var wire planWire
	if err := p.llm.InvokeJSON(ctx, req, &wire); err != nil {
		return nil, err
	}

	plan, err := planFromWire(&wire)
	if err != nil {
		return nil, err
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}

	p.logger.Info("plan created",
		"project_name", plan.ProjectName,
		"tasks", len(plan.Tasks),
		"estimated_hours", plan.EstimatedTotalHours)
	return plan, nil
}

func planFromWire(wire *planWire) (*core.Plan, error) {
	if len(wire.Tasks) == 0 {
		return nil, core.ErrValidation(core.CodePlanValidationFailed,
			"decomposition produced no tasks")
	}

	tasks := make([]*core.Task, 0, len(wire.Tasks))
	for _, wt := range wire.Tasks {
		specialty, err := core.ParseSpecialty(wt.Specialty)
		if err != nil {
			return nil, core.ErrValidation(core.CodePlanValidationFailed,
				fmt.Sprintf("task %s: unknown specialty %q", wt.ID, wt.Specialty))
		}
		task := core.NewTask(wt.ID, wt.Title, specialty).
			WithDescription(wt.Description).
			WithFiles(wt.FilesToCreate, wt.FilesToModify).
			WithDependencies(wt.Dependencies...).
			WithEstimatedHours(wt.EstimatedHours)
		tasks = append(tasks, task)
	}

	return &core.Plan{
		ProjectName:         wire.ProjectName,
		Description:         wire.Description,
		EstimatedTotalHours: wire.EstimatedTotalHours,
		Tasks:               tasks,
	}, nil
}

// ValidatePlan checks the structural invariants of a plan: per-task
// invariants, unique ids, known dependencies, and an acyclic graph.
func ValidatePlan(plan *core.Plan) error {
	if len(plan.Tasks) == 0 {
		return core.ErrValidation(core.CodePlanValidationFailed, "plan has no tasks")
	}

	seen := make(map[string]bool, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if err := t.Validate(); err != nil {
			return core.ErrValidation(core.CodePlanValidationFailed, err.Error()).WithCause(err)
		}
		if seen[t.ID] {
			return core.ErrValidation(core.CodePlanValidationFailed,
				fmt.Sprintf("duplicate task id %s", t.ID)).
				WithDetail("task_id", t.ID)
		}
		seen[t.ID] = true
	}

	for _, t := range plan.Tasks {
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return core.ErrValidation(core.CodePlanValidationFailed,
					fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep)).
					WithDetail("task_id", t.ID).
					WithDetail("dependency", dep)
			}
		}
	}

	g := buildGraph(plan)
	if ok, cycle := g.ValidateAcyclic(); !ok {
		return core.ErrValidation(core.CodePlanValidationFailed,
			fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> "))).
			WithDetail("cycle", cycle)
	}

	return nil
}

// BuildGraph converts a validated plan into its dependency graph.
func (p *Planner) BuildGraph(plan *core.Plan) (*graph.Graph, error) {
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	return buildGraph(plan), nil
}

func buildGraph(plan *core.Plan) *graph.Graph {
	g := graph.NewGraph()
	for _, t := range plan.Tasks {
		g.AddNode(graph.NewNode(t))
	}
	return g
}

// ExecutionPlan derives the level schedule, critical path and statistics
// from a dependency graph.
func (p *Planner) ExecutionPlan(g *graph.Graph) (*core.ExecutionPlan, error) {
	order, err := g.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	levels := make([]core.ExecutionLevel, 0, len(order))
	for i, ids := range order {
		levelHours := 0.0
		for _, id := range ids {
			if n := g.Node(id); n != nil && n.EstimatedHours > levelHours {
				levelHours = n.EstimatedHours
			}
		}
		levels = append(levels, core.ExecutionLevel{
			LevelNumber:    i + 1,
			TaskIDs:        ids,
			EstimatedHours: levelHours,
		})
	}

	pathIDs, pathHours := g.CriticalPath()
	sequential := g.TotalEstimatedHours()
	parallel := g.ParallelEstimatedHours()

	speedup := 1.0
	if parallel > 0 {
		speedup = sequential / parallel
	}

	return &core.ExecutionPlan{
		TotalLevels: len(levels),
		Levels:      levels,
		CriticalPath: core.CriticalPath{
			TaskIDs:    pathIDs,
			TotalHours: pathHours,
		},
		Statistics: core.PlanStatistics{
			SequentialHours: sequential,
			ParallelHours:   parallel,
			SpeedupFactor:   speedup,
		},
	}, nil
}

// InitialTasks returns the nodes with no prerequisites, the set the fleet
// can start on immediately.
func (p *Planner) InitialTasks(g *graph.Graph) []*graph.Node {
	return g.ReadyTasks()
}
