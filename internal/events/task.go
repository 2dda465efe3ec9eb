package events

import "time"

// Event type constants for task events.
const (
	TypeTaskEnqueued  = "task_enqueued"
	TypeTaskStarted   = "task_started"
	TypeTaskCompleted = "task_completed"
	TypeTaskFailed    = "task_failed"
	TypeTaskRequeued  = "task_requeued"
)

// TaskEnqueuedEvent is emitted when a task enters the queue system.
type TaskEnqueuedEvent struct {
	BaseEvent
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Specialty string `json:"specialty"`
	Blocked   bool   `json:"blocked"`
}

// NewTaskEnqueuedEvent creates a new task enqueued event. Blocked marks
// tasks parked behind unmet dependencies rather than pushed to a queue.
func NewTaskEnqueuedEvent(projectID, taskID, title, specialty string, blocked bool) TaskEnqueuedEvent {
	return TaskEnqueuedEvent{
		BaseEvent: NewBaseEvent(TypeTaskEnqueued, projectID),
		TaskID:    taskID,
		Title:     title,
		Specialty: specialty,
		Blocked:   blocked,
	}
}

// TaskStartedEvent is emitted when a worker dequeues a task.
type TaskStartedEvent struct {
	BaseEvent
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Branch  string `json:"branch,omitempty"`
}

// NewTaskStartedEvent creates a new task started event.
func NewTaskStartedEvent(projectID, taskID, agentID, branch string) TaskStartedEvent {
	return TaskStartedEvent{
		BaseEvent: NewBaseEvent(TypeTaskStarted, projectID),
		TaskID:    taskID,
		AgentID:   agentID,
		Branch:    branch,
	}
}

// TaskCompletedEvent is emitted when a task finishes successfully.
type TaskCompletedEvent struct {
	BaseEvent
	TaskID   string        `json:"task_id"`
	AgentID  string        `json:"agent_id"`
	CommitID string        `json:"commit_id,omitempty"`
	Files    []string      `json:"files,omitempty"`
	Duration time.Duration `json:"duration"`
}

// NewTaskCompletedEvent creates a new task completed event.
func NewTaskCompletedEvent(projectID, taskID, agentID, commitID string, files []string, duration time.Duration) TaskCompletedEvent {
	return TaskCompletedEvent{
		BaseEvent: NewBaseEvent(TypeTaskCompleted, projectID),
		TaskID:    taskID,
		AgentID:   agentID,
		CommitID:  commitID,
		Files:     files,
		Duration:  duration,
	}
}

// TaskFailedEvent is emitted when a task fails.
type TaskFailedEvent struct {
	BaseEvent
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// NewTaskFailedEvent creates a new task failed event.
func NewTaskFailedEvent(projectID, taskID, agentID string, err error, retryable bool) TaskFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return TaskFailedEvent{
		BaseEvent: NewBaseEvent(TypeTaskFailed, projectID),
		TaskID:    taskID,
		AgentID:   agentID,
		Error:     errStr,
		Retryable: retryable,
	}
}

// TaskRequeuedEvent is emitted when an operator pushes a failed task back
// through the dependency check.
type TaskRequeuedEvent struct {
	BaseEvent
	TaskID    string `json:"task_id"`
	Specialty string `json:"specialty"`
}

// NewTaskRequeuedEvent creates a new task requeued event.
func NewTaskRequeuedEvent(projectID, taskID, specialty string) TaskRequeuedEvent {
	return TaskRequeuedEvent{
		BaseEvent: NewBaseEvent(TypeTaskRequeued, projectID),
		TaskID:    taskID,
		Specialty: specialty,
	}
}
