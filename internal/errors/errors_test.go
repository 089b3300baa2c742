package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// PrerequisiteError Tests
// -----------------------------------------------------------------------------

func TestNewPrerequisiteError(t *testing.T) {
	err := NewPrerequisiteError("working tree is dirty", nil)

	if err.message != "working tree is dirty" {
		t.Errorf("message = %q, want %q", err.message, "working tree is dirty")
	}
	if !errors.Is(err, ErrPrerequisiteFailed) {
		t.Error("nil cause should default to ErrPrerequisiteFailed")
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if !err.IsUserFacing() {
		t.Error("IsUserFacing() = false, want true")
	}
}

func TestPrerequisiteError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *PrerequisiteError
		want string
	}{
		{
			name: "bare",
			err:  NewPrerequisiteError("check failed", ErrPrerequisiteFailed),
			want: "prerequisite error: check failed: stage prerequisite not met",
		},
		{
			name: "with stage and item",
			err: NewPrerequisiteError("check failed", ErrPrerequisiteFailed).
				WithWorkItem("QRM-042").WithStage("implement"),
			want: "prerequisite error [item=QRM-042, stage=implement]: check failed: stage prerequisite not met",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrerequisiteError_MatchesErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("starting run: %w",
		NewPrerequisiteError("check failed", nil).WithStage("plan"))

	var pre *PrerequisiteError
	if !errors.As(wrapped, &pre) {
		t.Fatal("errors.As failed to find PrerequisiteError")
	}
	if pre.Stage != "plan" {
		t.Errorf("Stage = %q, want %q", pre.Stage, "plan")
	}
}

// -----------------------------------------------------------------------------
// DispatchError Tests
// -----------------------------------------------------------------------------

func TestDispatchError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewDispatchError("submit failed", cause).
		WithStage("tasks").WithAgent("claude")

	if !err.IsRetryable() {
		t.Error("dispatch errors should be retryable")
	}
	if err.IsUserFacing() {
		t.Error("dispatch errors should not be user facing")
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to cause")
	}
	want := "dispatch error [stage=tasks, agent=claude]: submit failed: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// -----------------------------------------------------------------------------
// AgentFailureError Tests
// -----------------------------------------------------------------------------

func TestAgentFailureError(t *testing.T) {
	err := NewAgentFailureError("no usable output", nil).
		WithStage("implement").WithAgent("gpt").WithAttempts(3)

	if !errors.Is(err, ErrAgentFailed) {
		t.Error("nil cause should default to ErrAgentFailed")
	}
	if err.IsRetryable() {
		t.Error("exhausted agent failures are not retryable")
	}
	if got := err.Error(); !strings.Contains(got, "attempts=3") {
		t.Errorf("Error() = %q, want attempts in context", got)
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}
}

func TestAgentFailureError_TimedOutCause(t *testing.T) {
	err := NewAgentFailureError("deadline hit", ErrAgentTimedOut).WithAgent("gemini")
	if !errors.Is(err, ErrAgentTimedOut) {
		t.Error("should match ErrAgentTimedOut through the cause chain")
	}
}

// -----------------------------------------------------------------------------
// PersistenceError Tests
// -----------------------------------------------------------------------------

func TestPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	err := NewPersistenceError("verdict write failed", cause).
		WithWorkItem("QRM-042").WithPath("/tmp/evidence/plan_verdict.json")

	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityCritical)
	}
	if err.IsRetryable() {
		t.Error("persistence errors halt, never retry silently")
	}
	if !strings.Contains(err.Error(), "item=QRM-042") {
		t.Errorf("Error() = %q, want work item in context", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to cause")
	}
}

// -----------------------------------------------------------------------------
// ConfigurationError Tests
// -----------------------------------------------------------------------------

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("no agents configured", nil).
		WithField("roster.stages.plan")

	want := "configuration error [field=roster.stages.plan]: no agents configured"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !err.IsUserFacing() {
		t.Error("configuration errors must be user facing")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"dispatch", NewDispatchError("submit failed", nil), true},
		{"prerequisite", NewPrerequisiteError("check failed", nil), false},
		{"persistence", NewPersistenceError("write failed", nil), false},
		{"timeout sentinel", fmt.Errorf("op: %w", ErrTimeout), true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"prerequisite", NewPrerequisiteError("check failed", nil), true},
		{"configuration", NewConfigurationError("bad roster", nil), true},
		{"dispatch", NewDispatchError("submit failed", nil), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, SeverityDebug},
		{"persistence", NewPersistenceError("write failed", nil), SeverityCritical},
		{"dispatch", NewDispatchError("submit failed", nil), SeverityWarning},
		{"plain", errors.New("boom"), SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSeverity(tt.err); got != tt.want {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsHalting(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"prerequisite", NewPrerequisiteError("check failed", nil), true},
		{"persistence wrapped", fmt.Errorf("stage: %w", NewPersistenceError("write failed", nil)), true},
		{"configuration", NewConfigurationError("bad roster", nil), true},
		{"agent failure", NewAgentFailureError("no output", nil), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHalting(tt.err); got != tt.want {
				t.Errorf("IsHalting() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	base := ErrEmptyRoster
	wrapped := Wrap(base, "dispatching plan")
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}
	if got := wrapped.Error(); got != "dispatching plan: empty agent roster" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	wrapped := Wrapf(ErrBudgetExceeded, "stage %s", "audit")
	if !errors.Is(wrapped, ErrBudgetExceeded) {
		t.Error("wrapped error should match base via errors.Is")
	}
}
