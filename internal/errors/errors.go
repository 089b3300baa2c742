// Package errors provides centralized error definitions and error handling
// utilities for the quorum codebase. It defines domain-specific errors,
// error constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// Domain-specific errors map to the failure classes the pipeline reports:
//   - PrerequisiteError: a guardrail check failed before dispatch
//   - DispatchError: a task could not be submitted to the tool boundary
//   - AgentFailureError: an agent task ended failed or timed out
//   - PersistenceError: an evidence write could not be confirmed
//   - ConfigurationError: invalid or missing roster/config at first use
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewPrerequisiteError("working tree is dirty", nil).WithStage("implement")
//
// Checking errors:
//
//	var pre *errors.PrerequisiteError
//	if errors.As(err, &pre) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Pipeline-related sentinel errors
var (
	// ErrPrerequisiteFailed indicates a stage guardrail check did not pass.
	ErrPrerequisiteFailed = New("stage prerequisite not met")
	// ErrRunEscalated indicates a run halted awaiting human input.
	ErrRunEscalated = New("run escalated to human")
	// ErrRunCompleted indicates a run already reached its terminal stage.
	ErrRunCompleted = New("run already completed")
	// ErrBudgetExceeded indicates the cost budget is exhausted.
	ErrBudgetExceeded = New("cost budget exceeded")
)

// Agent-related sentinel errors
var (
	// ErrAgentTimedOut indicates an agent task hit its wall-clock deadline.
	ErrAgentTimedOut = New("agent task timed out")
	// ErrAgentFailed indicates an agent task ended in a failed status.
	ErrAgentFailed = New("agent task failed")
	// ErrEmptyRoster indicates no agent identities are configured for a stage.
	ErrEmptyRoster = New("empty agent roster")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// QuorumError is the base interface for all quorum errors.
// It extends the standard error interface with methods for
// error handling and classification.
type QuorumError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// context formats the optional key=value pairs shown in the error prefix.
func contextPrefix(kind string, parts []string) string {
	if len(parts) == 0 {
		return kind
	}
	return fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// PrerequisiteError means a stage guardrail check failed before any agent
// was dispatched. It is never retried; the run halts and the failure is
// reported as-is.
//
// Example:
//
//	err := errors.NewPrerequisiteError("working tree is dirty", nil).WithStage("implement")
type PrerequisiteError struct {
	baseError
	Stage    string
	WorkItem string
}

// NewPrerequisiteError creates a new PrerequisiteError.
func NewPrerequisiteError(message string, cause error) *PrerequisiteError {
	if cause == nil {
		cause = ErrPrerequisiteFailed
	}
	return &PrerequisiteError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithStage adds the failing stage to the error context.
func (e *PrerequisiteError) WithStage(stage string) *PrerequisiteError {
	e.Stage = stage
	return e
}

// WithWorkItem adds the work item to the error context.
func (e *PrerequisiteError) WithWorkItem(item string) *PrerequisiteError {
	e.WorkItem = item
	return e
}

// Error returns the formatted error message.
func (e *PrerequisiteError) Error() string {
	var parts []string
	if e.WorkItem != "" {
		parts = append(parts, fmt.Sprintf("item=%s", e.WorkItem))
	}
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	prefix := contextPrefix("prerequisite error", parts)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *PrerequisiteError) Is(target error) bool {
	if _, ok := target.(*PrerequisiteError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// DispatchError means a task could not be submitted to the tool-invocation
// boundary. It is retryable under the tool retry policy, then fatal for
// that task.
type DispatchError struct {
	baseError
	Stage string
	Agent string
}

// NewDispatchError creates a new DispatchError.
func NewDispatchError(message string, cause error) *DispatchError {
	return &DispatchError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: false,
		},
	}
}

// WithStage adds the stage to the error context.
func (e *DispatchError) WithStage(stage string) *DispatchError {
	e.Stage = stage
	return e
}

// WithAgent adds the agent identity to the error context.
func (e *DispatchError) WithAgent(agent string) *DispatchError {
	e.Agent = agent
	return e
}

// Error returns the formatted error message.
func (e *DispatchError) Error() string {
	var parts []string
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}
	prefix := contextPrefix("dispatch error", parts)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *DispatchError) Is(target error) bool {
	if _, ok := target.(*DispatchError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AgentFailureError means an agent task ended failed or timed out after its
// retry budget was spent. The task is permanently missing for the run and
// the stage proceeds degraded; the error lives on the task record rather
// than unwinding the pipeline.
type AgentFailureError struct {
	baseError
	Stage    string
	Agent    string
	Attempts int
}

// NewAgentFailureError creates a new AgentFailureError.
func NewAgentFailureError(message string, cause error) *AgentFailureError {
	if cause == nil {
		cause = ErrAgentFailed
	}
	return &AgentFailureError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: false,
		},
	}
}

// WithStage adds the stage to the error context.
func (e *AgentFailureError) WithStage(stage string) *AgentFailureError {
	e.Stage = stage
	return e
}

// WithAgent adds the agent identity to the error context.
func (e *AgentFailureError) WithAgent(agent string) *AgentFailureError {
	e.Agent = agent
	return e
}

// WithAttempts records how many attempts were consumed.
func (e *AgentFailureError) WithAttempts(n int) *AgentFailureError {
	e.Attempts = n
	return e
}

// Error returns the formatted error message.
func (e *AgentFailureError) Error() string {
	var parts []string
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}
	if e.Attempts > 0 {
		parts = append(parts, fmt.Sprintf("attempts=%d", e.Attempts))
	}
	prefix := contextPrefix("agent failure", parts)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *AgentFailureError) Is(target error) bool {
	if _, ok := target.(*AgentFailureError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PersistenceError means an evidence write could not be confirmed. The
// pipeline halts rather than advancing the cursor on unconfirmed evidence.
type PersistenceError struct {
	baseError
	WorkItem string
	Path     string
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(message string, cause error) *PersistenceError {
	return &PersistenceError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithWorkItem adds the work item to the error context.
func (e *PersistenceError) WithWorkItem(item string) *PersistenceError {
	e.WorkItem = item
	return e
}

// WithPath adds the file path to the error context.
func (e *PersistenceError) WithPath(path string) *PersistenceError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *PersistenceError) Error() string {
	var parts []string
	if e.WorkItem != "" {
		parts = append(parts, fmt.Sprintf("item=%s", e.WorkItem))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	prefix := contextPrefix("persistence error", parts)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *PersistenceError) Is(target error) bool {
	if _, ok := target.(*PersistenceError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ConfigurationError means the roster or config document is invalid or
// missing. Fatal at the point of first use, never partially applied.
type ConfigurationError struct {
	baseError
	Field string
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds the offending config field path to the error context.
func (e *ConfigurationError) WithField(field string) *ConfigurationError {
	e.Field = field
	return e
}

// Error returns the formatted error message.
func (e *ConfigurationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	prefix := contextPrefix("configuration error", parts)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ConfigurationError) Is(target error) bool {
	if _, ok := target.(*ConfigurationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var qerr QuorumError
	if As(err, &qerr) {
		return qerr.IsRetryable()
	}

	if Is(err, ErrTimeout) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end
// users. Internal errors should be logged and replaced with a generic
// message.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var qerr QuorumError
	if As(err, &qerr) {
		return qerr.IsUserFacing()
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement QuorumError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var qerr QuorumError
	if As(err, &qerr) {
		return qerr.Severity()
	}

	return SeverityError
}

// IsHalting returns true if the error must stop the run rather than degrade
// it: prerequisite, persistence, and configuration failures.
func IsHalting(err error) bool {
	if err == nil {
		return false
	}

	var pre *PrerequisiteError
	var persist *PersistenceError
	var cfg *ConfigurationError

	return As(err, &pre) || As(err, &persist) || As(err, &cfg)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
