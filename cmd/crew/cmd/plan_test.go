package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/testutil"
)

func samplePlan() *core.Plan {
	return &core.Plan{
		ProjectName:         "Checkout service",
		Description:         "Payment checkout flow",
		EstimatedTotalHours: 7.5,
		Tasks: []*core.Task{
			core.NewTask("t1", "Create payment model", core.SpecialtyBackend).
				WithFiles([]string{"models/payment.py"}, nil).
				WithEstimatedHours(2),
			core.NewTask("t2", "Wire checkout endpoint", core.SpecialtyBackend).
				WithFiles([]string{"api/checkout.py"}, nil).
				WithDependencies("t1").
				WithEstimatedHours(3),
			core.NewTask("t3", "Checkout form", core.SpecialtyFrontend).
				WithFiles([]string{"src/Checkout.tsx"}, nil).
				WithEstimatedHours(2.5),
		},
	}
}

func TestRenderPlanShowsScheduleAndSpeedup(t *testing.T) {
	plan := samplePlan()
	exec := &core.ExecutionPlan{
		TotalLevels: 2,
		Levels: []core.ExecutionLevel{
			{LevelNumber: 1, TaskIDs: []string{"t1", "t3"}, EstimatedHours: 2.5},
			{LevelNumber: 2, TaskIDs: []string{"t2"}, EstimatedHours: 3},
		},
		CriticalPath: core.CriticalPath{TaskIDs: []string{"t1", "t2"}, TotalHours: 5},
		Statistics: core.PlanStatistics{
			SequentialHours: 7.5,
			ParallelHours:   5.5,
			SpeedupFactor:   1.36,
		},
	}

	var buf bytes.Buffer
	renderPlan(&buf, plan, exec)
	out := buf.String()

	testutil.AssertContains(t, out, "Project: Checkout service")
	testutil.AssertContains(t, out, "Tasks: 3, estimated 7.5h")
	testutil.AssertContains(t, out, "Wire checkout endpoint")
	testutil.AssertContains(t, out, "Level 1: t1, t3 (2.5h)")
	testutil.AssertContains(t, out, "Level 2: t2 (3.0h)")
	testutil.AssertContains(t, out, "Critical path: t1 -> t2 (5.0h)")
	testutil.AssertContains(t, out, "Parallel speedup: 1.36x")
}

func TestRenderPlanDependencyColumn(t *testing.T) {
	plan := samplePlan()
	exec := &core.ExecutionPlan{TotalLevels: 0}

	var buf bytes.Buffer
	renderPlan(&buf, plan, exec)

	rows := make(map[string]string)
	for _, line := range strings.Split(buf.String(), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			rows[fields[0]] = fields[len(fields)-1]
		}
	}

	// Root tasks show a dash, dependent tasks their prerequisites.
	testutil.AssertEqual(t, rows["t1"], "-")
	testutil.AssertEqual(t, rows["t2"], "t1")
}

func TestPlanFileRoundTrip(t *testing.T) {
	plan := samplePlan()
	path := filepath.Join(t.TempDir(), "plan.yaml")

	testutil.AssertNoError(t, writePlanFile(path, plan))

	loaded, err := loadPlanFile(path)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, loaded.ProjectName, "Checkout service")
	testutil.AssertEqual(t, loaded.EstimatedTotalHours, 7.5)
	testutil.AssertLen(t, loaded.Tasks, 3)

	second := loaded.Tasks[1]
	testutil.AssertEqual(t, second.ID, "t2")
	testutil.AssertEqual(t, second.Specialty, core.SpecialtyBackend)
	testutil.AssertEqual(t, second.EstimatedHours, 3.0)
	testutil.AssertLen(t, second.Dependencies, 1)
	testutil.AssertEqual(t, second.Dependencies[0], "t1")
	testutil.AssertLen(t, second.FilesToCreate, 1)
	testutil.AssertEqual(t, second.FilesToCreate[0], "api/checkout.py")
}

func TestLoadPlanFileRejectsUnknownDependency(t *testing.T) {
	plan := &core.Plan{
		ProjectName: "broken",
		Tasks: []*core.Task{
			core.NewTask("t1", "Depends on a ghost", core.SpecialtyBackend).
				WithDependencies("missing"),
		},
	}
	path := filepath.Join(t.TempDir(), "plan.yaml")
	testutil.AssertNoError(t, writePlanFile(path, plan))

	_, err := loadPlanFile(path)
	testutil.AssertError(t, err)
}

func TestLoadPlanFileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	testutil.AssertNoError(t, os.WriteFile(path, []byte("tasks: [\n"), 0o644))

	_, err := loadPlanFile(path)
	testutil.AssertError(t, err)
}

func TestLoadPlanFileMissing(t *testing.T) {
	_, err := loadPlanFile(filepath.Join(t.TempDir(), "absent.yaml"))
	testutil.AssertError(t, err)
}
