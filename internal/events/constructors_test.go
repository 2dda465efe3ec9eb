package events

import (
	"errors"
	"testing"
	"time"
)

func TestTaskEventConstructors(t *testing.T) {
	enq := NewTaskEnqueuedEvent("proj-1", "task-1", "Build API", "backend", true)
	if enq.EventType() != TypeTaskEnqueued {
		t.Errorf("EventType() = %s", enq.EventType())
	}
	if !enq.Blocked {
		t.Error("Blocked = false, want true")
	}
	if enq.Specialty != "backend" {
		t.Errorf("Specialty = %s", enq.Specialty)
	}

	started := NewTaskStartedEvent("proj-1", "task-1", "agent-1", "agent-agent-1")
	if started.AgentID != "agent-1" {
		t.Errorf("AgentID = %s", started.AgentID)
	}
	if started.Branch != "agent-agent-1" {
		t.Errorf("Branch = %s", started.Branch)
	}

	done := NewTaskCompletedEvent("proj-1", "task-1", "agent-1", "abc123",
		[]string{"main.go"}, 2*time.Second)
	if done.CommitID != "abc123" {
		t.Errorf("CommitID = %s", done.CommitID)
	}
	if done.Duration != 2*time.Second {
		t.Errorf("Duration = %v", done.Duration)
	}

	failed := NewTaskFailedEvent("proj-1", "task-1", "agent-1", errors.New("lock timeout"), false)
	if failed.Error != "lock timeout" {
		t.Errorf("Error = %s", failed.Error)
	}

	failedNil := NewTaskFailedEvent("proj-1", "task-1", "agent-1", nil, true)
	if failedNil.Error != "" {
		t.Errorf("Error = %q, want empty for nil error", failedNil.Error)
	}
	if !failedNil.Retryable {
		t.Error("Retryable = false, want true")
	}

	req := NewTaskRequeuedEvent("proj-1", "task-1", "backend")
	if req.EventType() != TypeTaskRequeued {
		t.Errorf("EventType() = %s", req.EventType())
	}
}

func TestWorkerEventConstructors(t *testing.T) {
	spawned := NewWorkerSpawnedEvent("proj-1", "agent-1", "backend", "agent-agent-1", "/ws/agent-1")
	if spawned.EventType() != TypeWorkerSpawned {
		t.Errorf("EventType() = %s", spawned.EventType())
	}
	if spawned.Workspace != "/ws/agent-1" {
		t.Errorf("Workspace = %s", spawned.Workspace)
	}

	stopped := NewWorkerStoppedEvent("proj-1", "agent-1", "backend", 3, 1)
	if stopped.TasksCompleted != 3 || stopped.TasksFailed != 1 {
		t.Errorf("counters = %d/%d", stopped.TasksCompleted, stopped.TasksFailed)
	}

	offline := NewWorkerOfflineEvent("proj-1", "agent-1", "backend", 2)
	if offline.EventType() != TypeWorkerOffline {
		t.Errorf("EventType() = %s", offline.EventType())
	}
}

func TestMergeEventConstructors(t *testing.T) {
	completed := NewMergeCompletedEvent("proj-1", "task-1", "agent-a1", "main", "def456")
	if completed.SourceBranch != "agent-a1" || completed.TargetBranch != "main" {
		t.Errorf("branches = %s -> %s", completed.SourceBranch, completed.TargetBranch)
	}

	conflict := NewMergeConflictEvent("proj-1", "task-1", "agent-a1", "main",
		[]string{"api/users.go"}, true)
	if !conflict.RolledBack {
		t.Error("RolledBack = false, want true")
	}
	if len(conflict.Conflicts) != 1 {
		t.Errorf("Conflicts = %v", conflict.Conflicts)
	}

	rejected := NewMergeRejectedEvent("proj-1", "task-1", "agent-a1", "Linting", 4)
	if rejected.FailedGate != "Linting" || rejected.ErrorCount != 4 {
		t.Errorf("gate = %s errors = %d", rejected.FailedGate, rejected.ErrorCount)
	}
}

func TestPlanEventConstructor(t *testing.T) {
	ev := NewPlanCreatedEvent("proj-1", "demo app", 6, 3, 24.5)
	if ev.EventType() != TypePlanCreated {
		t.Errorf("EventType() = %s", ev.EventType())
	}
	if ev.TaskCount != 6 || ev.TotalLevels != 3 {
		t.Errorf("counts = %d/%d", ev.TaskCount, ev.TotalLevels)
	}
	if ev.Timestamp().IsZero() {
		t.Error("Timestamp() is zero")
	}
}
