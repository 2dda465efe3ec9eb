package core

import "time"

// ValidationStatus is the verdict of a single quality gate.
type ValidationStatus string

const (
	ValidationPassed  ValidationStatus = "passed"
	ValidationFailed  ValidationStatus = "failed"
	ValidationSkipped ValidationStatus = "skipped"
	ValidationError   ValidationStatus = "error"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one finding produced by a validator.
type Issue struct {
	File     string   `json:"file"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Rule     string   `json:"rule,omitempty"`
}

// ValidationResult is the outcome of running one validator over a workspace.
type ValidationResult struct {
	Gate         string           `json:"gate"`
	Status       ValidationStatus `json:"status"`
	Duration     time.Duration    `json:"duration"`
	Issues       []Issue          `json:"issues,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Passed reports whether the gate did not block integration. Skipped gates
// do not block; failed and errored gates do.
func (r ValidationResult) Passed() bool {
	return r.Status == ValidationPassed || r.Status == ValidationSkipped
}

// ErrorCount returns the number of error-severity issues.
func (r ValidationResult) ErrorCount() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			n++
		}
	}
	return n
}

// MergeResult summarizes one pass through the integration funnel.
type MergeResult struct {
	Success            bool               `json:"success"`
	SourceBranch       string             `json:"source_branch"`
	TargetBranch       string             `json:"target_branch"`
	CommitID           string             `json:"commit_id,omitempty"`
	ConflictDetected   bool               `json:"conflict_detected"`
	Conflicts          []string           `json:"conflicts,omitempty"`
	QualityGatesPassed bool               `json:"quality_gates_passed"`
	ValidationResults  []ValidationResult `json:"validation_results,omitempty"`
	Error              string             `json:"error,omitempty"`
	RollbackPerformed  bool               `json:"rollback_performed"`
}
