package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

const (
	pyCompileTimeout = 10 * time.Second
	tscTimeout       = 30 * time.Second
)

// tsc emits `file.ts(line,col): error TS1234: message`.
var tscErrorRe = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): (error|warning) (TS\d+): (.+)$`)

// SyntaxValidator compiles Python sources and runs the TypeScript compiler
// in no-emit mode.
type SyntaxValidator struct {
	logger *logging.Logger
}

// NewSyntaxValidator creates the syntax gate.
func NewSyntaxValidator(logger *logging.Logger) *SyntaxValidator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SyntaxValidator{logger: logger}
}

func (v *SyntaxValidator) Name() string { return "Syntax Validation" }

// Skippable when the tree has no Python or TypeScript sources, or when
// neither toolchain is installed for the sources it does have.
func (v *SyntaxValidator) Skippable(ctx context.Context, workspace string) bool {
	hasPython := hasFiles(workspace, ".py")
	hasTS := hasFiles(workspace, ".ts", ".tsx")
	if !hasPython && !hasTS {
		return true
	}
	canPython := hasPython && toolAvailable("python3")
	canTS := hasTS && toolAvailable("tsc")
	return !canPython && !canTS
}

func (v *SyntaxValidator) Validate(ctx context.Context, workspace string) core.ValidationResult {
	start := time.Now()
	var issues []core.Issue

	if hasFiles(workspace, ".py") && toolAvailable("python3") {
		pyIssues, err := v.checkPython(ctx, workspace)
		if err != nil {
			return errorResult(v.Name(), start, err)
		}
		issues = append(issues, pyIssues...)
	}

	if hasFiles(workspace, ".ts", ".tsx") && toolAvailable("tsc") {
		tsIssues, err := v.checkTypeScript(ctx, workspace)
		if err != nil {
			return errorResult(v.Name(), start, err)
		}
		issues = append(issues, tsIssues...)
	}

	return core.ValidationResult{
		Gate:     v.Name(),
		Status:   statusFor(issues),
		Duration: time.Since(start),
		Issues:   issues,
	}
}

func (v *SyntaxValidator) checkPython(ctx context.Context, workspace string) ([]core.Issue, error) {
	var issues []core.Issue
	for _, file := range listFiles(workspace, ".py") {
		_, stderr, code, err := runTool(ctx, workspace, pyCompileTimeout,
			"python3", "-m", "py_compile", file)
		if err != nil {
			return nil, fmt.Errorf("py_compile %s: %w", file, err)
		}
		if code != 0 {
			issues = append(issues, core.Issue{
				File:     file,
				Line:     pyErrorLine(stderr),
				Severity: core.SeverityError,
				Message:  "Syntax error: " + lastLine(stderr),
				Rule:     "python-syntax",
			})
			v.logger.Warn("syntax error", "file", file)
		}
	}
	return issues, nil
}

func (v *SyntaxValidator) checkTypeScript(ctx context.Context, workspace string) ([]core.Issue, error) {
	stdout, _, _, err := runTool(ctx, workspace, tscTimeout,
		"tsc", "--noEmit", "--skipLibCheck")
	if err != nil {
		return nil, fmt.Errorf("tsc: %w", err)
	}
	return parseTscOutput(stdout, "typescript-syntax"), nil
}

func parseTscOutput(out, rule string) []core.Issue {
	var issues []core.Issue
	for _, line := range splitLines(out) {
		m := tscErrorRe.FindStringSubmatch(line)
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
			Message:  m[6],
			Rule:     rule,
		})
	}
	return issues
}

// py_compile reports `File "x.py", line N`.
var pyLineRe = regexp.MustCompile(`line (\d+)`)

func pyErrorLine(stderr string) int {
	if m := pyLineRe.FindStringSubmatch(stderr); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return s
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func errorResult(gate string, start time.Time, err error) core.ValidationResult {
	return core.ValidationResult{
		Gate:         gate,
		Status:       core.ValidationError,
		Duration:     time.Since(start),
		ErrorMessage: err.Error(),
	}
}
