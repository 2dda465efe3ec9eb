package events

// Event type constants for worker agent lifecycle events.
const (
	TypeWorkerSpawned = "worker_spawned"
	TypeWorkerStopped = "worker_stopped"
	TypeWorkerOffline = "worker_offline"
)

// WorkerSpawnedEvent is emitted when a worker acquires its workspace and
// enters the run loop.
type WorkerSpawnedEvent struct {
	BaseEvent
	AgentID   string `json:"agent_id"`
	Specialty string `json:"specialty"`
	Branch    string `json:"branch"`
	Workspace string `json:"workspace"`
}

// NewWorkerSpawnedEvent creates a new worker spawned event.
func NewWorkerSpawnedEvent(projectID, agentID, specialty, branch, workspace string) WorkerSpawnedEvent {
	return WorkerSpawnedEvent{
		BaseEvent: NewBaseEvent(TypeWorkerSpawned, projectID),
		AgentID:   agentID,
		Specialty: specialty,
		Branch:    branch,
		Workspace: workspace,
	}
}

// WorkerStoppedEvent is emitted when a worker leaves the run loop.
type WorkerStoppedEvent struct {
	BaseEvent
	AgentID        string `json:"agent_id"`
	Specialty      string `json:"specialty"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksFailed    int    `json:"tasks_failed"`
}

// NewWorkerStoppedEvent creates a new worker stopped event.
func NewWorkerStoppedEvent(projectID, agentID, specialty string, completed, failed int) WorkerStoppedEvent {
	return WorkerStoppedEvent{
		BaseEvent:      NewBaseEvent(TypeWorkerStopped, projectID),
		AgentID:        agentID,
		Specialty:      specialty,
		TasksCompleted: completed,
		TasksFailed:    failed,
	}
}

// WorkerOfflineEvent is emitted when the reaper marks a stale worker
// offline after missed heartbeats.
type WorkerOfflineEvent struct {
	BaseEvent
	AgentID     string `json:"agent_id"`
	Specialty   string `json:"specialty"`
	FailedTasks int    `json:"failed_tasks"`
}

// NewWorkerOfflineEvent creates a new worker offline event.
func NewWorkerOfflineEvent(projectID, agentID, specialty string, failedTasks int) WorkerOfflineEvent {
	return WorkerOfflineEvent{
		BaseEvent:   NewBaseEvent(TypeWorkerOffline, projectID),
		AgentID:     agentID,
		Specialty:   specialty,
		FailedTasks: failedTasks,
	}
}
