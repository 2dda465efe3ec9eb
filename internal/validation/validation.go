// Package validation runs quality gates over a workspace before its work is
// merged. Each gate inspects the tree (or invokes the matching toolchain)
// and reports issues; the pipeline runs gates in order and decides whether
// the workspace may integrate.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

// Validator is one quality gate.
type Validator interface {
	// Name identifies the gate in results and logs.
	Name() string

	// Skippable reports whether the gate has nothing to do for this
	// workspace: no relevant files, or the required tool is not
	// installed. Skipped gates never block integration.
	Skippable(ctx context.Context, workspace string) bool

	// Validate runs the gate and returns exactly one result.
	Validate(ctx context.Context, workspace string) core.ValidationResult
}

// Pipeline runs validators in insertion order.
type Pipeline struct {
	validators []Validator
	logger     *logging.Logger
}

// NewPipeline creates a pipeline over the given validators.
func NewPipeline(logger *logging.Logger, validators ...Validator) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{validators: validators, logger: logger}
}

// DefaultValidators returns the standard gate set in merge order: cheap
// fail-fast checks first, expensive suites later. The security scan comes
// last and runs even when every other gate was skipped, since it needs no
// toolchain and a skipped suite must not let credentials through.
func DefaultValidators(logger *logging.Logger) []Validator {
	return []Validator{
		NewSyntaxValidator(logger),
		NewTypeChecker(logger),
		NewLintValidator(logger),
		NewTestRunner(logger),
		NewSecurityScanner(logger),
	}
}

// RunAll executes every gate against the workspace. Skippable gates emit a
// skipped result without being invoked. With stopOnFailure the pipeline
// aborts after the first failed or errored gate. The bool is true when no
// executed gate failed or errored.
func (p *Pipeline) RunAll(ctx context.Context, workspace string, stopOnFailure bool) (bool, []core.ValidationResult) {
	results := make([]core.ValidationResult, 0, len(p.validators))
	allPassed := true

	for _, v := range p.validators {
		if v.Skippable(ctx, workspace) {
			p.logger.Debug("quality gate skipped", "gate", v.Name())
			results = append(results, core.ValidationResult{
				Gate:   v.Name(),
				Status: core.ValidationSkipped,
			})
			continue
		}

		p.logger.Info("running quality gate", "gate", v.Name())
		result := p.runOne(ctx, v, workspace)
		results = append(results, result)

		switch result.Status {
		case core.ValidationFailed:
			allPassed = false
			p.logger.Warn("quality gate failed",
				"gate", v.Name(), "issues", len(result.Issues))
		case core.ValidationError:
			allPassed = false
			p.logger.Error("quality gate errored",
				"gate", v.Name(), "error", result.ErrorMessage)
		default:
			p.logger.Info("quality gate passed",
				"gate", v.Name(), "duration", result.Duration)
		}

		if !allPassed && stopOnFailure {
			p.logger.Info("stopping pipeline on failure", "gate", v.Name())
			break
		}
	}

	return allPassed, results
}

// A misbehaving gate must produce an errored result, not take down the
// worker that invoked it.
func (p *Pipeline) runOne(ctx context.Context, v Validator, workspace string) (result core.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = core.ValidationResult{
				Gate:         v.Name(),
				Status:       core.ValidationError,
				ErrorMessage: fmt.Sprintf("validator panicked: %v", r),
			}
		}
	}()
	return v.Validate(ctx, workspace)
}

// Summary renders results as a human-readable report.
func Summary(results []core.ValidationResult) string {
	var passed, failed, skipped, errored, issues int
	for _, r := range results {
		switch r.Status {
		case core.ValidationPassed:
			passed++
		case core.ValidationFailed:
			failed++
		case core.ValidationSkipped:
			skipped++
		case core.ValidationError:
			errored++
		}
		issues += len(r.Issues)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Quality gates: %d total, %d passed", len(results), passed)
	if failed > 0 {
		fmt.Fprintf(&b, ", %d failed", failed)
	}
	if errored > 0 {
		fmt.Fprintf(&b, ", %d errored", errored)
	}
	if skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", skipped)
	}
	if issues > 0 {
		fmt.Fprintf(&b, ", %d issues", issues)
	}
	b.WriteString("\n")

	for _, r := range results {
		mark := "ok"
		switch r.Status {
		case core.ValidationFailed:
			mark = "FAIL"
		case core.ValidationError:
			mark = "ERROR"
		case core.ValidationSkipped:
			mark = "skip"
		}
		fmt.Fprintf(&b, "  [%s] %s", mark, r.Gate)
		if len(r.Issues) > 0 {
			fmt.Fprintf(&b, ": %d issues", len(r.Issues))
		}
		if r.ErrorMessage != "" {
			fmt.Fprintf(&b, ": %s", r.ErrorMessage)
		}
		if r.Duration > 0 {
			fmt.Fprintf(&b, " (%s)", r.Duration.Round(time.Millisecond))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// statusFor derives the gate verdict from its issues: only error-severity
// findings fail, warnings and notes pass.
func statusFor(issues []core.Issue) core.ValidationStatus {
	for _, issue := range issues {
		if issue.Severity == core.SeverityError {
			return core.ValidationFailed
		}
	}
	return core.ValidationPassed
}
