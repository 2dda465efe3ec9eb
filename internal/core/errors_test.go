package core_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/devcrewhq/crew/internal/core"
)

func TestDomainErrorError(t *testing.T) {
	err := core.ErrTimeout(core.CodeLockTimeout, "could not acquire lock on file:src/app.py")
	msg := err.Error()
	for _, part := range []string{"timeout", "LOCK_TIMEOUT", "file:src/app.py"} {
		if !strings.Contains(msg, part) {
			t.Errorf("error message %q missing %q", msg, part)
		}
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := core.ErrNetwork(core.CodeInfraUnavailable, "redis unreachable").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestDomainErrorIs(t *testing.T) {
	a := core.ErrTimeout(core.CodeLockTimeout, "one")
	b := core.ErrTimeout(core.CodeLockTimeout, "another")
	c := core.ErrTimeout("OTHER", "different code")

	if !errors.Is(a, b) {
		t.Error("same category and code should match")
	}
	if errors.Is(a, c) {
		t.Error("different code should not match")
	}
}

func TestIsRetryable(t *testing.T) {
	if !core.IsRetryable(core.ErrNetwork(core.CodeInfraUnavailable, "llm 503")) {
		t.Error("network errors should be retryable")
	}
	if core.IsRetryable(core.ErrValidation(core.CodePlanValidationFailed, "cycle")) {
		t.Error("validation errors should not be retryable")
	}
	if core.IsRetryable(errors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestIsRetryableWrapped(t *testing.T) {
	inner := core.ErrNetwork(core.CodeInfraUnavailable, "timeout")
	wrapped := fmt.Errorf("invoking model: %w", inner)
	if !core.IsRetryable(wrapped) {
		t.Error("retryable should survive wrapping")
	}
}

func TestGetCategory(t *testing.T) {
	if got := core.GetCategory(core.ErrConflict(core.CodeMergeConflict, "x")); got != core.ErrCatConflict {
		t.Errorf("got %s, want conflict", got)
	}
	if got := core.GetCategory(errors.New("plain")); got != core.ErrCatInternal {
		t.Errorf("plain error should map to internal, got %s", got)
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", core.ErrState(core.CodeLockOwnershipViolation, "lost lock"))
	if !core.IsCode(err, core.CodeLockOwnershipViolation) {
		t.Error("IsCode should unwrap")
	}
	if core.IsCode(err, core.CodeMergeConflict) {
		t.Error("IsCode matched wrong code")
	}
}

func TestWithDetail(t *testing.T) {
	err := core.ErrValidation(core.CodePlanValidationFailed, "cycle detected").
		WithDetail("cycle", []string{"t1", "t2", "t1"})
	if err.Details["cycle"] == nil {
		t.Error("detail not recorded")
	}
}
