package core_test

import (
	"testing"

	"github.com/devcrewhq/crew/internal/core"
)

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from core.TaskStatus
		to   core.TaskStatus
		ok   bool
	}{
		{core.TaskStatusPending, core.TaskStatusInProgress, true},
		{core.TaskStatusPending, core.TaskStatusCompleted, false},
		{core.TaskStatusPending, core.TaskStatusFailed, false},
		{core.TaskStatusInProgress, core.TaskStatusCompleted, true},
		{core.TaskStatusInProgress, core.TaskStatusFailed, true},
		{core.TaskStatusInProgress, core.TaskStatusPending, false},
		{core.TaskStatusCompleted, core.TaskStatusInProgress, false},
		{core.TaskStatusCompleted, core.TaskStatusPending, false},
		{core.TaskStatusFailed, core.TaskStatusInProgress, false},
		{core.TaskStatusFailed, core.TaskStatusPending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	if core.TaskStatusPending.IsTerminal() {
		t.Error("pending should not be terminal")
	}
	if core.TaskStatusInProgress.IsTerminal() {
		t.Error("in_progress should not be terminal")
	}
	if !core.TaskStatusCompleted.IsTerminal() {
		t.Error("completed should be terminal")
	}
	if !core.TaskStatusFailed.IsTerminal() {
		t.Error("failed should be terminal")
	}
}

func TestTaskAllFiles(t *testing.T) {
	task := core.NewTask("t1", "Build API", core.SpecialtyBackend).
		WithFiles(
			[]string{"src/api.py", "src/models.py"},
			[]string{"src/main.py", "src/api.py", ""},
		)

	files := task.AllFiles()
	want := []string{"src/api.py", "src/main.py", "src/models.py"}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d: %v", len(files), len(want), files)
	}
	for i, f := range want {
		if files[i] != f {
			t.Errorf("files[%d] = %q, want %q", i, files[i], f)
		}
	}
}

func TestTaskCommitMessage(t *testing.T) {
	task := core.NewTask("t1", "Add login form", core.SpecialtyFrontend)
	if got := task.CommitMessage(); got != "Add login form" {
		t.Errorf("got %q", got)
	}

	task.WithDescription("Implements the login form component.")
	want := "Add login form\n\nImplements the login form component."
	if got := task.CommitMessage(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name string
		task *core.Task
		ok   bool
	}{
		{"valid", core.NewTask("t1", "Title", core.SpecialtyBackend), true},
		{"empty id", core.NewTask("", "Title", core.SpecialtyBackend), false},
		{"empty title", core.NewTask("t1", "", core.SpecialtyBackend), false},
		{"bad specialty", core.NewTask("t1", "Title", core.Specialty("wizard")), false},
		{"negative hours", core.NewTask("t1", "Title", core.SpecialtyDocs).WithEstimatedHours(-1), false},
		{"self dependency", core.NewTask("t1", "Title", core.SpecialtyDocs).WithDependencies("t1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
