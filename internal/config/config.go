// Package config loads and validates the pipeline configuration.
// Settings come from a YAML config file via viper with QUORUM_* environment
// overrides; the agent roster is a separate YAML document (see roster.go).
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete pipeline configuration.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Consensus    ConsensusConfig    `mapstructure:"consensus"`
	Quality      QualityConfig      `mapstructure:"quality"`
	Evidence     EvidenceConfig     `mapstructure:"evidence"`
	Invoker      InvokerConfig      `mapstructure:"invoker"`
	Budget       BudgetConfig       `mapstructure:"budget"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Heuristics   HeuristicsConfig   `mapstructure:"heuristics"`
}

// OrchestratorConfig controls agent dispatch and completion polling.
type OrchestratorConfig struct {
	// PollIntervalMs is how often in-flight tasks are polled for completion.
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// InitialPollDelayMs bounds the documented first-use stall explicitly.
	InitialPollDelayMs int `mapstructure:"initial_poll_delay_ms"`
	// TaskTimeoutMinutes is the per-task wall-clock deadline.
	TaskTimeoutMinutes int `mapstructure:"task_timeout_minutes"`
	// StageTimeoutMinutes is the stage-level deadline after which the
	// orchestrator proceeds in degraded mode.
	StageTimeoutMinutes int `mapstructure:"stage_timeout_minutes"`
}

// PollInterval returns the poll interval as a time.Duration.
func (c *OrchestratorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// InitialPollDelay returns the delay before the first poll.
func (c *OrchestratorConfig) InitialPollDelay() time.Duration {
	return time.Duration(c.InitialPollDelayMs) * time.Millisecond
}

// TaskTimeout returns the per-task deadline.
func (c *OrchestratorConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMinutes) * time.Minute
}

// StageTimeout returns the stage-level deadline.
func (c *OrchestratorConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutMinutes) * time.Minute
}

// ConsensusConfig controls verdict reduction.
type ConsensusConfig struct {
	// SecondaryValidator is the agent identity used to re-check majority
	// verdicts with low confidence. Empty disables secondary validation.
	SecondaryValidator string `mapstructure:"secondary_validator"`
	// ValidatorTimeoutSeconds bounds the secondary validation call.
	ValidatorTimeoutSeconds int `mapstructure:"validator_timeout_seconds"`
}

// ValidatorTimeout returns the secondary validation deadline.
func (c *ConsensusConfig) ValidatorTimeout() time.Duration {
	return time.Duration(c.ValidatorTimeoutSeconds) * time.Second
}

// QualityConfig controls the quality-gate layer.
type QualityConfig struct {
	// Enabled toggles the entire quality-gate layer per environment.
	Enabled bool `mapstructure:"enabled"`
}

// EvidenceConfig controls durable evidence persistence.
type EvidenceConfig struct {
	// BaseDir is the root directory for per-work-item evidence.
	BaseDir string `mapstructure:"base_dir"`
}

// InvokerConfig controls the tool-invocation boundary.
type InvokerConfig struct {
	// Mode selects the transport: "native", "subprocess", or "auto"
	// (native with automatic subprocess fallback).
	Mode string `mapstructure:"mode"`
	// Command is the subprocess command line used per invocation.
	Command []string `mapstructure:"command"`
}

// BudgetConfig controls cost attribution and limits.
type BudgetConfig struct {
	// CostWarningThreshold triggers a warning when run cost exceeds this amount (USD).
	CostWarningThreshold float64 `mapstructure:"cost_warning_threshold"`
	// CostLimit halts dispatch when run cost exceeds this amount (USD), 0 = no limit.
	CostLimit float64 `mapstructure:"cost_limit"`
}

// LoggingConfig controls structured logging behavior.
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true).
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info").
	Level string `mapstructure:"level"`
}

// HeuristicsConfig controls the learned-heuristics side-store.
type HeuristicsConfig struct {
	// Enabled toggles heuristic lookups in the quality engine.
	Enabled bool `mapstructure:"enabled"`
	// Path is the JSON file backing the scored-bullet cache.
	Path string `mapstructure:"path"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			PollIntervalMs:      250,
			InitialPollDelayMs:  0,
			TaskTimeoutMinutes:  10,
			StageTimeoutMinutes: 15,
		},
		Consensus: ConsensusConfig{
			SecondaryValidator:      "gpt",
			ValidatorTimeoutSeconds: 120,
		},
		Quality: QualityConfig{
			Enabled: true,
		},
		Evidence: EvidenceConfig{
			BaseDir: ".quorum/evidence",
		},
		Invoker: InvokerConfig{
			Mode:    "auto",
			Command: nil,
		},
		Budget: BudgetConfig{
			CostWarningThreshold: 10,
			CostLimit:            0,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
		Heuristics: HeuristicsConfig{
			Enabled: false,
			Path:    ".quorum/heuristics.json",
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("orchestrator.poll_interval_ms", defaults.Orchestrator.PollIntervalMs)
	viper.SetDefault("orchestrator.initial_poll_delay_ms", defaults.Orchestrator.InitialPollDelayMs)
	viper.SetDefault("orchestrator.task_timeout_minutes", defaults.Orchestrator.TaskTimeoutMinutes)
	viper.SetDefault("orchestrator.stage_timeout_minutes", defaults.Orchestrator.StageTimeoutMinutes)

	viper.SetDefault("consensus.secondary_validator", defaults.Consensus.SecondaryValidator)
	viper.SetDefault("consensus.validator_timeout_seconds", defaults.Consensus.ValidatorTimeoutSeconds)

	viper.SetDefault("quality.enabled", defaults.Quality.Enabled)

	viper.SetDefault("evidence.base_dir", defaults.Evidence.BaseDir)

	viper.SetDefault("invoker.mode", defaults.Invoker.Mode)
	viper.SetDefault("invoker.command", defaults.Invoker.Command)

	viper.SetDefault("budget.cost_warning_threshold", defaults.Budget.CostWarningThreshold)
	viper.SetDefault("budget.cost_limit", defaults.Budget.CostLimit)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("heuristics.enabled", defaults.Heuristics.Enabled)
	viper.SetDefault("heuristics.path", defaults.Heuristics.Path)
}

// Load reads the configuration from viper into a Config struct and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// InitViper configures viper's search paths and environment binding.
// Call once at process start before Load.
func InitViper() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(ConfigDir())
	viper.AddConfigPath(".quorum")
	viper.SetEnvPrefix("QUORUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	SetDefaults()
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quorum")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quorum"
	}
	return filepath.Join(home, ".config", "quorum")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
