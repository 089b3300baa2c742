package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "orchestrator.poll_interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidInvokerModes returns the list of valid invoker modes.
func ValidInvokerModes() []string {
	return []string{"native", "subprocess", "auto"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found. Configuration errors are fatal at the point of first use and
// never partially applied.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Orchestrator.PollIntervalMs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.poll_interval_ms",
			Value:   c.Orchestrator.PollIntervalMs,
			Message: "must be positive",
		})
	}
	if c.Orchestrator.InitialPollDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.initial_poll_delay_ms",
			Value:   c.Orchestrator.InitialPollDelayMs,
			Message: "must not be negative",
		})
	}
	if c.Orchestrator.TaskTimeoutMinutes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.task_timeout_minutes",
			Value:   c.Orchestrator.TaskTimeoutMinutes,
			Message: "must be positive",
		})
	}
	if c.Orchestrator.StageTimeoutMinutes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.stage_timeout_minutes",
			Value:   c.Orchestrator.StageTimeoutMinutes,
			Message: "must be positive",
		})
	}
	if c.Orchestrator.StageTimeoutMinutes > 0 && c.Orchestrator.TaskTimeoutMinutes > c.Orchestrator.StageTimeoutMinutes {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.task_timeout_minutes",
			Value:   c.Orchestrator.TaskTimeoutMinutes,
			Message: "must not exceed stage_timeout_minutes",
		})
	}

	if c.Consensus.ValidatorTimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "consensus.validator_timeout_seconds",
			Value:   c.Consensus.ValidatorTimeoutSeconds,
			Message: "must be positive",
		})
	}

	if c.Evidence.BaseDir == "" {
		errs = append(errs, ValidationError{
			Field:   "evidence.base_dir",
			Value:   c.Evidence.BaseDir,
			Message: "must not be empty",
		})
	}

	if !slices.Contains(ValidInvokerModes(), c.Invoker.Mode) {
		errs = append(errs, ValidationError{
			Field:   "invoker.mode",
			Value:   c.Invoker.Mode,
			Message: fmt.Sprintf("must be one of %v", ValidInvokerModes()),
		})
	}
	if (c.Invoker.Mode == "subprocess" || c.Invoker.Mode == "auto") && len(c.Invoker.Command) == 0 {
		errs = append(errs, ValidationError{
			Field:   "invoker.command",
			Value:   c.Invoker.Command,
			Message: "required when mode is subprocess or auto",
		})
	}

	if c.Budget.CostLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "budget.cost_limit",
			Value:   c.Budget.CostLimit,
			Message: "must not be negative",
		})
	}
	if c.Budget.CostWarningThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "budget.cost_warning_threshold",
			Value:   c.Budget.CostWarningThreshold,
			Message: "must not be negative",
		})
	}
	if c.Budget.CostLimit > 0 && c.Budget.CostWarningThreshold > c.Budget.CostLimit {
		errs = append(errs, ValidationError{
			Field:   "budget.cost_warning_threshold",
			Value:   c.Budget.CostWarningThreshold,
			Message: "must not exceed cost_limit",
		})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of %v", ValidLogLevels()),
		})
	}

	if c.Heuristics.Enabled && c.Heuristics.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "heuristics.path",
			Value:   c.Heuristics.Path,
			Message: "required when heuristics are enabled",
		})
	}

	return errs
}
