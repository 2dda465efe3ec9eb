package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

const (
	mypyTimeout    = 60 * time.Second
	tscTypeTimeout = 60 * time.Second
)

// mypy emits `file.py:line:col: error: message`.
var mypyIssueRe = regexp.MustCompile(`^(.+?):(\d+):(\d+): (error|warning): (.+)$`)

// TypeChecker runs mypy over Python sources and tsc over TypeScript.
type TypeChecker struct {
	logger *logging.Logger
}

// NewTypeChecker creates the type checking gate.
func NewTypeChecker(logger *logging.Logger) *TypeChecker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TypeChecker{logger: logger}
}

func (v *TypeChecker) Name() string { return "Type Checking" }

func (v *TypeChecker) Skippable(ctx context.Context, workspace string) bool {
	hasPython := hasFiles(workspace, ".py")
	hasTS := hasFiles(workspace, ".ts", ".tsx")
	if !hasPython && !hasTS {
		return true
	}
	canPython := hasPython && toolAvailable("mypy")
	canTS := hasTS && toolAvailable("tsc")
	return !canPython && !canTS
}

func (v *TypeChecker) Validate(ctx context.Context, workspace string) core.ValidationResult {
	start := time.Now()
	var issues []core.Issue

	if hasFiles(workspace, ".py") && toolAvailable("mypy") {
		pyIssues, err := v.checkPython(ctx, workspace)
		if err != nil {
			return errorResult(v.Name(), start, err)
		}
		issues = append(issues, pyIssues...)
	}

	if hasFiles(workspace, ".ts", ".tsx") && toolAvailable("tsc") {
		stdout, _, _, err := runTool(ctx, workspace, tscTypeTimeout,
			"tsc", "--noEmit", "--skipLibCheck", "--pretty", "false")
		if err != nil {
			return errorResult(v.Name(), start, fmt.Errorf("tsc: %w", err))
		}
		issues = append(issues, parseTscOutput(stdout, "tsc")...)
	}

	return core.ValidationResult{
		Gate:     v.Name(),
		Status:   statusFor(issues),
		Duration: time.Since(start),
		Issues:   issues,
	}
}

func (v *TypeChecker) checkPython(ctx context.Context, workspace string) ([]core.Issue, error) {
	stdout, _, _, err := runTool(ctx, workspace, mypyTimeout,
		"mypy", "--no-error-summary", "--show-column-numbers",
		"--ignore-missing-imports", ".")
	if err != nil {
		return nil, fmt.Errorf("mypy: %w", err)
	}

	var issues []core.Issue
	for _, line := range splitLines(stdout) {
		m := mypyIssueRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		colNum, _ := strconv.Atoi(m[3])
		severity := core.SeverityError
		if m[4] == "warning" {
			severity = core.SeverityWarning
		}
		issues = append(issues, core.Issue{
			File:     m[1],
			Line:     lineNum,
			Column:   colNum,
			Severity: severity,
			Message:  m[5],
			Rule:     "mypy",
		})
	}
	return issues, nil
}
