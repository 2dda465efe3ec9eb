package validation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/testutil"
)

// fakeGate scripts one gate outcome and records whether it ran.
type fakeGate struct {
	name   string
	skip   bool
	status core.ValidationStatus
	issues []core.Issue
	panics bool
	ran    bool
}

func (g *fakeGate) Name() string                           { return g.name }
func (g *fakeGate) Skippable(context.Context, string) bool { return g.skip }

func (g *fakeGate) Validate(context.Context, string) core.ValidationResult {
	g.ran = true
	if g.panics {
		panic("gate exploded")
	}
	return core.ValidationResult{Gate: g.name, Status: g.status, Issues: g.issues}
}

// writeWorkspace materializes a file tree in a temp dir.
func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		testutil.AssertNoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		testutil.AssertNoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestPipelineRunsGatesInInsertionOrder(t *testing.T) {
	a := &fakeGate{name: "a", status: core.ValidationPassed}
	b := &fakeGate{name: "b", status: core.ValidationPassed}
	c := &fakeGate{name: "c", status: core.ValidationPassed}

	ok, results := NewPipeline(nil, a, b, c).RunAll(context.Background(), t.TempDir(), false)

	testutil.AssertTrue(t, ok, "all gates passed")
	testutil.AssertLen(t, results, 3)
	testutil.AssertEqual(t, results[0].Gate, "a")
	testutil.AssertEqual(t, results[1].Gate, "b")
	testutil.AssertEqual(t, results[2].Gate, "c")
}

func TestPipelineSkipsIdleGatesWithoutInvokingThem(t *testing.T) {
	skipped := &fakeGate{name: "lint", skip: true, status: core.ValidationFailed}
	active := &fakeGate{name: "tests", status: core.ValidationPassed}

	ok, results := NewPipeline(nil, skipped, active).RunAll(context.Background(), t.TempDir(), true)

	testutil.AssertTrue(t, ok, "skipped gates never block")
	testutil.AssertLen(t, results, 2)
	testutil.AssertEqual(t, results[0].Status, core.ValidationSkipped)
	testutil.AssertFalse(t, skipped.ran, "skippable gate must not be invoked")
	testutil.AssertTrue(t, active.ran, "following gate still runs")
}

func TestPipelineStopsOnFirstFailure(t *testing.T) {
	a := &fakeGate{name: "a", status: core.ValidationPassed}
	b := &fakeGate{name: "b", status: core.ValidationFailed, issues: []core.Issue{
		{File: "x.py", Severity: core.SeverityError, Message: "boom"},
	}}
	c := &fakeGate{name: "c", status: core.ValidationPassed}

	ok, results := NewPipeline(nil, a, b, c).RunAll(context.Background(), t.TempDir(), true)

	testutil.AssertFalse(t, ok, "a failed gate fails the run")
	testutil.AssertLen(t, results, 2)
	testutil.AssertFalse(t, c.ran, "gates after the failure must not run")
}

func TestPipelineContinuesPastFailureWhenAsked(t *testing.T) {
	a := &fakeGate{name: "a", status: core.ValidationFailed}
	b := &fakeGate{name: "b", status: core.ValidationPassed}

	ok, results := NewPipeline(nil, a, b).RunAll(context.Background(), t.TempDir(), false)

	testutil.AssertFalse(t, ok, "failure is still reported")
	testutil.AssertLen(t, results, 2)
	testutil.AssertTrue(t, b.ran, "remaining gates run without stop-on-failure")
}

func TestPipelineTurnsPanicIntoErrorResult(t *testing.T) {
	bad := &fakeGate{name: "flaky", panics: true}
	next := &fakeGate{name: "after", status: core.ValidationPassed}

	ok, results := NewPipeline(nil, bad, next).RunAll(context.Background(), t.TempDir(), false)

	testutil.AssertFalse(t, ok, "a panicking gate fails the run")
	testutil.AssertLen(t, results, 2)
	testutil.AssertEqual(t, results[0].Status, core.ValidationError)
	testutil.AssertContains(t, results[0].ErrorMessage, "panicked")
	testutil.AssertTrue(t, next.ran, "pipeline survives the panic")
}

func TestStatusForSeverities(t *testing.T) {
	testutil.AssertEqual(t, statusFor(nil), core.ValidationPassed)

	warnings := []core.Issue{
		{Severity: core.SeverityWarning, Message: "style"},
		{Severity: core.SeverityInfo, Message: "note"},
	}
	testutil.AssertEqual(t, statusFor(warnings), core.ValidationPassed)

	withError := append(warnings, core.Issue{Severity: core.SeverityError, Message: "broken"})
	testutil.AssertEqual(t, statusFor(withError), core.ValidationFailed)
}

func TestDefaultValidatorsOrder(t *testing.T) {
	gates := DefaultValidators(nil)

	want := []string{
		"Syntax Validation",
		"Type Checking",
		"Linting",
		"Test Execution",
		"Security Scanning",
	}
	testutil.AssertLen(t, gates, len(want))
	for i, name := range want {
		testutil.AssertEqual(t, gates[i].Name(), name)
	}
}

func TestSummaryRendersReport(t *testing.T) {
	results := []core.ValidationResult{
		{Gate: "Syntax Validation", Status: core.ValidationPassed},
		{Gate: "Linting", Status: core.ValidationFailed, Issues: []core.Issue{
			{File: "a.py", Severity: core.SeverityError, Message: "bad"},
			{File: "b.py", Severity: core.SeverityWarning, Message: "meh"},
		}},
		{Gate: "Test Execution", Status: core.ValidationSkipped},
		{Gate: "Type Checking", Status: core.ValidationError, ErrorMessage: "mypy crashed"},
	}

	report := Summary(results)
	testutil.AssertContains(t, report, "4 total, 1 passed")
	testutil.AssertContains(t, report, "1 failed")
	testutil.AssertContains(t, report, "1 errored")
	testutil.AssertContains(t, report, "1 skipped")
	testutil.AssertContains(t, report, "2 issues")
	testutil.AssertContains(t, report, "[ok] Syntax Validation")
	testutil.AssertContains(t, report, "[FAIL] Linting: 2 issues")
	testutil.AssertContains(t, report, "[skip] Test Execution")
	testutil.AssertContains(t, report, "[ERROR] Type Checking: mypy crashed")
}
