package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

const lintTimeout = 30 * time.Second

// LintValidator runs ruff over Python sources and eslint over JS/TS, both
// with JSON output.
type LintValidator struct {
	logger *logging.Logger
}

// NewLintValidator creates the linting gate.
func NewLintValidator(logger *logging.Logger) *LintValidator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LintValidator{logger: logger}
}

func (v *LintValidator) Name() string { return "Linting" }

func (v *LintValidator) Skippable(ctx context.Context, workspace string) bool {
	hasPython := hasFiles(workspace, ".py")
	hasJS := hasFiles(workspace, ".ts", ".tsx", ".js", ".jsx")
	if !hasPython && !hasJS {
		return true
	}
	canPython := hasPython && toolAvailable("ruff")
	canJS := hasJS && toolAvailable("eslint")
	return !canPython && !canJS
}

func (v *LintValidator) Validate(ctx context.Context, workspace string) core.ValidationResult {
	start := time.Now()
	var issues []core.Issue

	if hasFiles(workspace, ".py") && toolAvailable("ruff") {
		ruffIssues, err := v.runRuff(ctx, workspace)
		if err != nil {
			return errorResult(v.Name(), start, err)
		}
		issues = append(issues, ruffIssues...)
	}

	if hasFiles(workspace, ".ts", ".tsx", ".js", ".jsx") && toolAvailable("eslint") {
		eslintIssues, err := v.runESLint(ctx, workspace)
		if err != nil {
			return errorResult(v.Name(), start, err)
		}
		issues = append(issues, eslintIssues...)
	}

	return core.ValidationResult{
		Gate:     v.Name(),
		Status:   statusFor(issues),
		Duration: time.Since(start),
		Issues:   issues,
	}
}

type ruffFinding struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

func (v *LintValidator) runRuff(ctx context.Context, workspace string) ([]core.Issue, error) {
	stdout, _, _, err := runTool(ctx, workspace, lintTimeout,
		"ruff", "check", "--output-format=json", ".")
	if err != nil {
		return nil, fmt.Errorf("ruff: %w", err)
	}
	if stdout == "" {
		return nil, nil
	}

	var findings []ruffFinding
	if err := json.Unmarshal([]byte(stdout), &findings); err != nil {
		return nil, fmt.Errorf("parsing ruff output: %w", err)
	}

	issues := make([]core.Issue, 0, len(findings))
	for _, f := range findings {
		rule := f.Code
		if rule == "" {
			rule = "ruff"
		}
		issues = append(issues, core.Issue{
			File:     relativeTo(workspace, f.Filename),
			Line:     f.Location.Row,
			Column:   f.Location.Column,
			Severity: core.SeverityWarning,
			Message:  f.Message,
			Rule:     rule,
		})
	}
	return issues, nil
}

type eslintFileReport struct {
	FilePath string `json:"filePath"`
	Messages []struct {
		Line     int    `json:"line"`
		Column   int    `json:"column"`
		Severity int    `json:"severity"`
		Message  string `json:"message"`
		RuleID   string `json:"ruleId"`
	} `json:"messages"`
}

func (v *LintValidator) runESLint(ctx context.Context, workspace string) ([]core.Issue, error) {
	stdout, _, _, err := runTool(ctx, workspace, lintTimeout,
		"eslint", "--format=json", ".")
	if err != nil {
		return nil, fmt.Errorf("eslint: %w", err)
	}
	if stdout == "" {
		return nil, nil
	}

	var reports []eslintFileReport
	if err := json.Unmarshal([]byte(stdout), &reports); err != nil {
		return nil, fmt.Errorf("parsing eslint output: %w", err)
	}

	var issues []core.Issue
	for _, report := range reports {
		for _, msg := range report.Messages {
			severity := core.SeverityWarning
			if msg.Severity == 2 {
				severity = core.SeverityError
			}
			rule := msg.RuleID
			if rule == "" {
				rule = "eslint"
			}
			issues = append(issues, core.Issue{
				File:     relativeTo(workspace, report.FilePath),
				Line:     msg.Line,
				Column:   msg.Column,
				Severity: severity,
				Message:  msg.Message,
				Rule:     rule,
			})
		}
	}
	return issues, nil
}

func relativeTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !filepath.IsAbs(rel) {
		return rel
	}
	return path
}
