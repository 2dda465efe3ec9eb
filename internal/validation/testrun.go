package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

const testTimeout = 120 * time.Second

// pytest ends with e.g. `3 passed, 1 failed in 1.23s`.
var pytestSummaryRe = regexp.MustCompile(`(\d+ passed)?(?:.*?(\d+ failed))?.*?in [\d.]+s`)

// TestRunner executes the workspace's test suites: pytest for Python,
// vitest for TypeScript/JavaScript.
type TestRunner struct {
	logger *logging.Logger
}

// NewTestRunner creates the test execution gate.
func NewTestRunner(logger *logging.Logger) *TestRunner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TestRunner{logger: logger}
}

func (v *TestRunner) Name() string { return "Test Execution" }

func (v *TestRunner) Skippable(ctx context.Context, workspace string) bool {
	hasPytest := hasPytestFiles(workspace)
	hasVitest := hasFiles(workspace, ".test.ts", ".test.js")
	if !hasPytest && !hasVitest {
		return true
	}
	canPytest := hasPytest && toolAvailable("pytest")
	canVitest := hasVitest && toolAvailable("npx") && packageJSONExists(workspace)
	return !canPytest && !canVitest
}

func (v *TestRunner) Validate(ctx context.Context, workspace string) core.ValidationResult {
	start := time.Now()
	var issues []core.Issue

	if hasPytestFiles(workspace) && toolAvailable("pytest") {
		issue, err := v.runPytest(ctx, workspace)
		if err != nil {
			return errorResult(v.Name(), start, err)
		}
		if issue != nil {
			issues = append(issues, *issue)
		}
	}

	if hasFiles(workspace, ".test.ts", ".test.js") && toolAvailable("npx") && packageJSONExists(workspace) {
		issue, err := v.runVitest(ctx, workspace)
		if err != nil {
			return errorResult(v.Name(), start, err)
		}
		if issue != nil {
			issues = append(issues, *issue)
		}
	}

	return core.ValidationResult{
		Gate:     v.Name(),
		Status:   statusFor(issues),
		Duration: time.Since(start),
		Issues:   issues,
	}
}

func (v *TestRunner) runPytest(ctx context.Context, workspace string) (*core.Issue, error) {
	stdout, _, code, err := runTool(ctx, workspace, testTimeout,
		"pytest", "-v", "--tb=short", "--no-header", ".")
	if err != nil {
		return nil, fmt.Errorf("pytest: %w", err)
	}

	// Exit 5 means no tests were collected; nothing to judge.
	if code == 0 || code == 5 {
		return nil, nil
	}

	message := "pytest tests failed"
	if m := pytestSummaryRe.FindString(stdout); m != "" {
		message = "pytest tests failed: " + strings.TrimSpace(m)
	}
	v.logger.Warn("test suite failed", "runner", "pytest", "exit_code", code)
	return &core.Issue{
		File:     "tests",
		Severity: core.SeverityError,
		Message:  message,
		Rule:     "pytest",
	}, nil
}

func (v *TestRunner) runVitest(ctx context.Context, workspace string) (*core.Issue, error) {
	stdout, _, code, err := runTool(ctx, workspace, testTimeout,
		"npx", "vitest", "run", "--reporter=basic")
	if err != nil {
		return nil, fmt.Errorf("vitest: %w", err)
	}
	if code == 0 {
		return nil, nil
	}

	message := "vitest tests failed"
	for _, line := range splitLines(stdout) {
		if strings.HasPrefix(line, "Tests") {
			message = "vitest tests failed: " + line
			break
		}
	}
	v.logger.Warn("test suite failed", "runner", "vitest", "exit_code", code)
	return &core.Issue{
		File:     "tests",
		Severity: core.SeverityError,
		Message:  message,
		Rule:     "vitest",
	}, nil
}

func hasPytestFiles(workspace string) bool {
	found := false
	_ = filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".py") &&
			(strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py")) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func packageJSONExists(workspace string) bool {
	_, err := os.Stat(filepath.Join(workspace, "package.json"))
	return err == nil
}
