package core

import (
	"fmt"
	"sort"
	"time"
)

// TaskStatus represents the queue-visible state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether the transition graph permits moving to next.
// Legal moves: pending -> in_progress -> {completed, failed}.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusInProgress
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	}
	return false
}

// Task is the immutable descriptor of a unit of work. The planner creates
// tasks; after enqueue nothing mutates them. Mutable state (status, result)
// lives in the queue.
type Task struct {
	ID             string    `json:"id" yaml:"id"`
	Title          string    `json:"title" yaml:"title"`
	Description    string    `json:"description" yaml:"description,omitempty"`
	Specialty      Specialty `json:"specialty" yaml:"specialty"`
	FilesToCreate  []string  `json:"files_to_create" yaml:"files_to_create,omitempty"`
	FilesToModify  []string  `json:"files_to_modify" yaml:"files_to_modify,omitempty"`
	Dependencies   []string  `json:"dependencies" yaml:"dependencies,omitempty"`
	EstimatedHours float64   `json:"estimated_hours" yaml:"estimated_hours,omitempty"`
	ProjectID      string    `json:"project_id" yaml:"project_id,omitempty"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// NewTask creates a task with required fields.
func NewTask(id, title string, specialty Specialty) *Task {
	return &Task{
		ID:        id,
		Title:     title,
		Specialty: specialty,
		CreatedAt: time.Now().UTC(),
	}
}

// WithDescription sets the task description.
func (t *Task) WithDescription(desc string) *Task {
	t.Description = desc
	return t
}

// WithFiles sets the file scope of the task.
func (t *Task) WithFiles(create, modify []string) *Task {
	t.FilesToCreate = create
	t.FilesToModify = modify
	return t
}

// WithDependencies sets the prerequisite task ids.
func (t *Task) WithDependencies(deps ...string) *Task {
	t.Dependencies = deps
	return t
}

// WithEstimatedHours sets the effort estimate.
func (t *Task) WithEstimatedHours(hours float64) *Task {
	t.EstimatedHours = hours
	return t
}

// WithProject sets the owning project id.
func (t *Task) WithProject(projectID string) *Task {
	t.ProjectID = projectID
	return t
}

// AllFiles returns the union of files to create and modify, sorted lexically
// and deduplicated. Workers lock exactly this set before touching the tree.
func (t *Task) AllFiles() []string {
	seen := make(map[string]bool, len(t.FilesToCreate)+len(t.FilesToModify))
	files := make([]string, 0, len(t.FilesToCreate)+len(t.FilesToModify))
	for _, f := range t.FilesToCreate {
		if f != "" && !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	for _, f := range t.FilesToModify {
		if f != "" && !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files
}

// CommitMessage derives the workspace commit message for this task.
func (t *Task) CommitMessage() string {
	if t.Description == "" {
		return t.Title
	}
	return t.Title + "\n\n" + t.Description
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrValidation("TASK_ID_REQUIRED", "task id cannot be empty")
	}
	if t.Title == "" {
		return ErrValidation("TASK_TITLE_REQUIRED", fmt.Sprintf("task %s has no title", t.ID))
	}
	if !t.Specialty.Valid() {
		return ErrValidation("INVALID_SPECIALTY",
			fmt.Sprintf("task %s has unknown specialty %q", t.ID, t.Specialty))
	}
	if t.EstimatedHours < 0 {
		return ErrValidation("INVALID_ESTIMATE",
			fmt.Sprintf("task %s has negative estimated hours", t.ID))
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return ErrValidation("SELF_DEPENDENCY",
				fmt.Sprintf("task %s depends on itself", t.ID))
		}
	}
	return nil
}

// TaskResult records the outcome of one task execution.
type TaskResult struct {
	TaskID        string        `json:"task_id"`
	Success       bool          `json:"success"`
	CommitID      string        `json:"commit_id,omitempty"`
	FilesModified []string      `json:"files_modified,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}
