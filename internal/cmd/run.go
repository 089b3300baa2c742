package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/quorum/internal/agent"
	"github.com/Iron-Ham/quorum/internal/config"
	"github.com/Iron-Ham/quorum/internal/consensus"
	"github.com/Iron-Ham/quorum/internal/cost"
	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/evidence"
	"github.com/Iron-Ham/quorum/internal/heuristics"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/orchestrator"
	"github.com/Iron-Ham/quorum/internal/pipeline"
	"github.com/Iron-Ham/quorum/internal/quality"
)

var runCmd = &cobra.Command{
	Use:   "run <work-item>",
	Short: "Run the full stage pipeline for a work item",
	Long: `Run drives a work item through every stage: plan, tasks, implement,
validate, audit, unlock. Each stage fans out to the rostered agents,
their outputs are reduced to a consensus verdict, and the verdict is
written to the evidence store before the pipeline advances.

The command exits zero when the run completes. A run that halts for a
human (conflicting verdicts, an escalated quality checkpoint) prints the
reason and exits with code 2 so scripts can tell halts from failures.

Examples:
  # Start a fresh run
  quorum run QRM-042 --prompt "Add rate limiting to the ingest API"

  # Resume an interrupted run from its durable evidence
  quorum run QRM-042 --resume 5f2b...e1

  # Run with a custom roster and watch it for edits
  quorum run QRM-042 -p "..." --roster team.yaml --watch-roster`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

var (
	runPrompt      string
	runResumeID    string
	runBudget      float64
	runWatchRoster bool
	runStep        bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "Work item prompt given to the planning agents")
	runCmd.Flags().StringVar(&runResumeID, "resume", "", "Resume an existing run id instead of starting fresh")
	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "Cost limit in USD for this run (overrides config)")
	runCmd.Flags().BoolVar(&runWatchRoster, "watch-roster", false, "Hot-reload the roster file while running")
	runCmd.Flags().BoolVar(&runStep, "step", false, "Execute only the next stage, then stop")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	workItem := args[0]
	if runResumeID == "" && runPrompt == "" {
		return fmt.Errorf("a fresh run needs --prompt")
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.NewConfigurationError("invalid configuration", err)
	}
	roster, rosterPath, err := loadRoster()
	if err != nil {
		return errors.NewConfigurationError("invalid roster", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus()
	subscribeProgress(cmd, bus)

	store, err := evidence.NewStore(cfg.Evidence.BaseDir, logger)
	if err != nil {
		return errors.NewPersistenceError("evidence store unavailable", err)
	}

	budget := cfg.Budget.CostLimit
	if runBudget > 0 {
		budget = runBudget
	}
	costs := cost.NewTracker(workItem, budget, bus)

	invoker, err := buildInvoker(cfg, logger)
	if err != nil {
		return err
	}

	orch := orchestrator.New(invoker, orchestrator.Options{
		PollInterval:     cfg.Orchestrator.PollInterval(),
		InitialPollDelay: cfg.Orchestrator.InitialPollDelay(),
		TaskTimeout:      cfg.Orchestrator.TaskTimeout(),
		StageTimeout:     cfg.Orchestrator.StageTimeout(),
		Costs:            costs,
		Logger:           logger,
		Bus:              bus,
	})

	consOpts := consensus.Options{
		ValidatorTimeout: cfg.Consensus.ValidatorTimeout(),
		Logger:           logger,
		Bus:              bus,
	}
	if cfg.Consensus.SecondaryValidator != "" {
		consOpts.Validator = &consensus.InvokerValidator{
			Invoker: invoker,
			Agent:   cfg.Consensus.SecondaryValidator,
			Timeout: cfg.Consensus.ValidatorTimeout(),
		}
		consOpts.ValidatorAgent = cfg.Consensus.SecondaryValidator
	}
	cons := consensus.NewEngine(store, consOpts)

	qualOpts := quality.Options{Logger: logger, Bus: bus}
	if cfg.Consensus.SecondaryValidator != "" {
		qualOpts.Validator = &quality.InvokerValidator{
			Invoker: invoker,
			Agent:   cfg.Consensus.SecondaryValidator,
			Timeout: cfg.Consensus.ValidatorTimeout(),
		}
	}
	if cfg.Heuristics.Enabled {
		heur, err := heuristics.Open(cfg.Heuristics.Path)
		if err != nil {
			logger.Warn("heuristics store unavailable, continuing without", "error", err)
		} else {
			qualOpts.Heuristics = heur
		}
	}
	qual := quality.NewEngine(&pipeline.OrchestratorDispatcher{Orch: orch}, qualOpts)

	coord, err := pipeline.NewCoordinator(orch, cons, store, pipeline.Options{
		Roster:         roster,
		Quality:        qual,
		QualityEnabled: cfg.Quality.Enabled,
		Costs:          costs,
		Logger:         logger,
		Bus:            bus,
	})
	if err != nil {
		return err
	}

	if runWatchRoster && rosterPath != "" {
		watcher, werr := config.NewRosterWatcher(rosterPath, logger)
		if werr != nil {
			logger.Warn("roster watcher unavailable", "path", rosterPath, "error", werr)
		} else {
			defer watcher.Stop()
			watcher.OnChange(func(r *config.Roster) {
				if serr := coord.SetRoster(r); serr != nil {
					logger.Warn("rejected roster reload", "path", rosterPath, "error", serr)
					return
				}
				logger.Info("roster reloaded, effective from the next stage", "path", rosterPath)
			})
		}
	}

	var run *pipeline.Run
	if runResumeID != "" {
		run, err = coord.Resume(workItem, runResumeID)
		if err != nil {
			return err
		}
		if run.Phase == pipeline.PhaseEscalated {
			cmd.PrintErrf("run %s is halted: %s\n", run.ID, run.HaltReason)
			return haltExit(cmd)
		}
	} else {
		run = coord.NewRun(workItem, runPrompt)
		cmd.Printf("run %s started for %s\n", run.ID, workItem)
	}

	execute := coord.RunAll
	if runStep {
		execute = coord.RunStage
	}
	if err := execute(ctx, run); err != nil {
		if errors.IsUserFacing(err) {
			return err
		}
		logger.Error("run failed", "run_id", run.ID, "error", err)
		return fmt.Errorf("run %s failed: %w", run.ID, err)
	}

	switch {
	case run.Phase == pipeline.PhaseCompleted:
		cmd.Printf("run %s completed: all %d stages accepted ($%.2f spent)\n",
			run.ID, len(run.Stages), costs.Total())
		return nil
	case runStep && run.Phase != pipeline.PhaseEscalated:
		cmd.Printf("run %s advanced to stage %d of %d; resume with --resume %s\n",
			run.ID, run.Cursor, len(run.Stages), run.ID)
		return nil
	default:
		cmd.PrintErrf("run %s halted at stage %d: %s\n", run.ID, run.Cursor, run.HaltReason)
		return haltExit(cmd)
	}
}

// ErrHalted marks a designed halt awaiting human input. The entrypoint maps
// it to exit code 2 after deferred cleanup has run.
var ErrHalted = errors.New("run halted awaiting human input")

// haltExit distinguishes designed halts (awaiting a human) from failures.
// The halt reason is already printed, so the sentinel propagates silently.
func haltExit(cmd *cobra.Command) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return ErrHalted
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLogger(cfg.Evidence.BaseDir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, nil
}

// buildInvoker selects the tool-invocation transport. The invoker is the
// process-wide connection to the agents; it is constructed once here and
// injected, never reached through a global.
func buildInvoker(cfg *config.Config, logger *logging.Logger) (agent.Invoker, error) {
	switch cfg.Invoker.Mode {
	case "native":
		return &agent.NativeInvoker{}, nil
	case "subprocess":
		if len(cfg.Invoker.Command) == 0 {
			return nil, errors.NewConfigurationError("subprocess invoker needs a command", nil).
				WithField("invoker.command")
		}
		return &agent.SubprocessInvoker{Command: cfg.Invoker.Command}, nil
	case "auto":
		var sub agent.Invoker
		if len(cfg.Invoker.Command) > 0 {
			sub = &agent.SubprocessInvoker{Command: cfg.Invoker.Command}
		}
		return agent.NewFallbackInvoker(&agent.NativeInvoker{}, sub, logger), nil
	default:
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("unknown invoker mode %q (valid: %s)", cfg.Invoker.Mode, strings.Join(config.ValidInvokerModes(), ", ")), nil).
			WithField("invoker.mode")
	}
}

// subscribeProgress prints coarse progress to the terminal while the full
// detail goes to the structured log.
func subscribeProgress(cmd *cobra.Command, bus *event.Bus) {
	bus.Subscribe("stage.dispatched", func(e event.Event) {
		if ev, ok := e.(event.StageDispatchedEvent); ok {
			cmd.Printf("  %s: dispatched %d agents\n", ev.Stage, len(ev.Agents))
		}
	})
	bus.Subscribe("verdict.recorded", func(e event.Event) {
		if ev, ok := e.(event.VerdictRecordedEvent); ok {
			suffix := ""
			if ev.Degraded {
				suffix = fmt.Sprintf(" (degraded, missing %s)", strings.Join(ev.Missing, ", "))
			}
			cmd.Printf("  %s: %s%s\n", ev.Stage, ev.Outcome, suffix)
		}
	})
	bus.Subscribe("checkpoint.resolved", func(e event.Event) {
		if ev, ok := e.(event.CheckpointResolvedEvent); ok {
			cmd.Printf("  gate %s: %d applied, %d deferred, %d escalated\n",
				ev.Checkpoint, ev.AutoApplied, ev.Deferred, ev.Escalated)
		}
	})
	bus.Subscribe("human.escalation", func(e event.Event) {
		if ev, ok := e.(event.HumanEscalationEvent); ok {
			cmd.PrintErrf("  needs human review at %s: %s\n", ev.Stage, ev.Reason)
		}
	})
}
