package core

// Plan is the decomposition the planner extracts from the LLM.
type Plan struct {
	ProjectID           string  `json:"project_id,omitempty"`
	ProjectName         string  `json:"project_name" yaml:"project_name"`
	Description         string  `json:"description" yaml:"description"`
	EstimatedTotalHours float64 `json:"estimated_total_hours" yaml:"estimated_total_hours"`
	Tasks               []*Task `json:"tasks" yaml:"tasks"`
}

// TaskByID looks a task up in the plan.
func (p *Plan) TaskByID(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ExecutionLevel is one layer of tasks that may run in parallel.
type ExecutionLevel struct {
	LevelNumber    int      `json:"level_number" yaml:"level_number"`
	TaskIDs        []string `json:"task_ids" yaml:"task_ids"`
	EstimatedHours float64  `json:"estimated_hours" yaml:"estimated_hours"`
}

// CriticalPath is the longest prerequisite chain by estimated hours.
type CriticalPath struct {
	TaskIDs    []string `json:"task_ids" yaml:"task_ids"`
	TotalHours float64  `json:"total_hours" yaml:"total_hours"`
}

// PlanStatistics compares sequential against parallel execution.
type PlanStatistics struct {
	SequentialHours float64 `json:"sequential_hours" yaml:"sequential_hours"`
	ParallelHours   float64 `json:"parallel_hours" yaml:"parallel_hours"`
	SpeedupFactor   float64 `json:"speedup_factor" yaml:"speedup_factor"`
}

// ExecutionPlan is the schedule derived from a validated dependency graph.
type ExecutionPlan struct {
	TotalLevels  int              `json:"total_levels" yaml:"total_levels"`
	Levels       []ExecutionLevel `json:"levels" yaml:"levels"`
	CriticalPath CriticalPath     `json:"critical_path" yaml:"critical_path"`
	Statistics   PlanStatistics   `json:"statistics" yaml:"statistics"`
}
