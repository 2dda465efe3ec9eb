package events

// Event type constants for merge events.
const (
	TypeMergeCompleted = "merge_completed"
	TypeMergeConflict  = "merge_conflict"
	TypeMergeRejected  = "merge_rejected"
)

// MergeCompletedEvent is emitted when agent work lands on the target branch.
type MergeCompletedEvent struct {
	BaseEvent
	TaskID       string `json:"task_id"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	CommitID     string `json:"commit_id"`
}

// NewMergeCompletedEvent creates a new merge completed event.
func NewMergeCompletedEvent(projectID, taskID, source, target, commitID string) MergeCompletedEvent {
	return MergeCompletedEvent{
		BaseEvent:    NewBaseEvent(TypeMergeCompleted, projectID),
		TaskID:       taskID,
		SourceBranch: source,
		TargetBranch: target,
		CommitID:     commitID,
	}
}

// MergeConflictEvent is emitted when overlapping changes block a merge.
type MergeConflictEvent struct {
	BaseEvent
	TaskID       string   `json:"task_id"`
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	Conflicts    []string `json:"conflicts"`
	RolledBack   bool     `json:"rolled_back"`
}

// NewMergeConflictEvent creates a new merge conflict event.
func NewMergeConflictEvent(projectID, taskID, source, target string, conflicts []string, rolledBack bool) MergeConflictEvent {
	return MergeConflictEvent{
		BaseEvent:    NewBaseEvent(TypeMergeConflict, projectID),
		TaskID:       taskID,
		SourceBranch: source,
		TargetBranch: target,
		Conflicts:    conflicts,
		RolledBack:   rolledBack,
	}
}

// MergeRejectedEvent is emitted when quality gates block a merge.
type MergeRejectedEvent struct {
	BaseEvent
	TaskID       string `json:"task_id"`
	SourceBranch string `json:"source_branch"`
	FailedGate   string `json:"failed_gate"`
	ErrorCount   int    `json:"error_count"`
}

// NewMergeRejectedEvent creates a new merge rejected event.
func NewMergeRejectedEvent(projectID, taskID, source, failedGate string, errorCount int) MergeRejectedEvent {
	return MergeRejectedEvent{
		BaseEvent:    NewBaseEvent(TypeMergeRejected, projectID),
		TaskID:       taskID,
		SourceBranch: source,
		FailedGate:   failedGate,
		ErrorCount:   errorCount,
	}
}
