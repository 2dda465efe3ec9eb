package events

// Event type constants for planning events.
const (
	TypePlanCreated = "plan_created"
)

// PlanCreatedEvent is emitted when requirements decompose into a valid plan.
type PlanCreatedEvent struct {
	BaseEvent
	ProjectName string  `json:"project_name"`
	TaskCount   int     `json:"task_count"`
	TotalLevels int     `json:"total_levels"`
	TotalHours  float64 `json:"total_hours"`
}

// NewPlanCreatedEvent creates a new plan created event.
func NewPlanCreatedEvent(projectID, projectName string, taskCount, totalLevels int, totalHours float64) PlanCreatedEvent {
	return PlanCreatedEvent{
		BaseEvent:   NewBaseEvent(TypePlanCreated, projectID),
		ProjectName: projectName,
		TaskCount:   taskCount,
		TotalLevels: totalLevels,
		TotalHours:  totalHours,
	}
}
