// Package pipeline drives a work item through the staged workflow: guardrail
// check, agent dispatch, consensus reduction, quality checkpoints, and cursor
// advance, with evidence written before every transition so a crash never
// loses committed progress.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/quorum/internal/agent"
	"github.com/Iron-Ham/quorum/internal/config"
	"github.com/Iron-Ham/quorum/internal/consensus"
	"github.com/Iron-Ham/quorum/internal/cost"
	"github.com/Iron-Ham/quorum/internal/errors"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/evidence"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/orchestrator"
	"github.com/Iron-Ham/quorum/internal/quality"
	"github.com/Iron-Ham/quorum/internal/stage"
)

// Guardrail validates stage prerequisites before any agent is dispatched.
// A non-nil error halts the run immediately; guardrail failures are never
// retried.
type Guardrail interface {
	Check(ctx context.Context, workItem string, st stage.Stage) error
}

// GuardrailFunc adapts a function to the Guardrail interface.
type GuardrailFunc func(ctx context.Context, workItem string, st stage.Stage) error

// Check implements Guardrail.
func (f GuardrailFunc) Check(ctx context.Context, workItem string, st stage.Stage) error {
	return f(ctx, workItem, st)
}

// Options configures a Coordinator.
type Options struct {
	// Roster maps stages to required agent identities. Required.
	Roster *config.Roster

	// Guardrail is consulted before each stage dispatch. Optional.
	Guardrail Guardrail

	// Quality runs checkpoint gates when non-nil and QualityEnabled.
	Quality        *quality.Engine
	QualityEnabled bool

	// Costs, when non-nil, has its summary rewritten after each stage.
	Costs *cost.Tracker

	Logger *logging.Logger
	Bus    *event.Bus
}

// Coordinator owns the run state machine. It is not safe for concurrent use
// on the same Run; distinct work items get distinct Coordinators or
// serialized calls.
type Coordinator struct {
	orch      *orchestrator.Orchestrator
	consensus *consensus.Engine
	store     *evidence.Store
	guardrail Guardrail

	rosterMu sync.RWMutex
	roster   *config.Roster

	quality   *quality.Engine
	qualityOn bool
	costs     *cost.Tracker
	logger    *logging.Logger
	bus       *event.Bus
}

// NewCoordinator wires the stage loop over the orchestrator, consensus
// engine, and evidence store.
func NewCoordinator(orch *orchestrator.Orchestrator, cons *consensus.Engine, store *evidence.Store, opts Options) (*Coordinator, error) {
	if opts.Roster == nil {
		return nil, errors.NewConfigurationError("roster is required", nil)
	}
	if issues := opts.Roster.Validate(); len(issues) > 0 {
		return nil, errors.NewConfigurationError(issues[0].Message, nil).WithField(issues[0].Field)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Coordinator{
		orch:      orch,
		consensus: cons,
		store:     store,
		roster:    opts.Roster,
		guardrail: opts.Guardrail,
		quality:   opts.Quality,
		qualityOn: opts.QualityEnabled && opts.Quality != nil,
		costs:     opts.Costs,
		logger:    logger,
		bus:       opts.Bus,
	}, nil
}

// SetRoster swaps the roster for subsequent stages. An invalid roster is
// rejected and the previous one kept.
func (c *Coordinator) SetRoster(roster *config.Roster) error {
	if roster == nil {
		return errors.NewConfigurationError("roster is required", nil)
	}
	if issues := roster.Validate(); len(issues) > 0 {
		return errors.NewConfigurationError(issues[0].Message, nil).WithField(issues[0].Field)
	}
	c.rosterMu.Lock()
	c.roster = roster
	c.rosterMu.Unlock()
	return nil
}

// currentRoster returns the roster in effect for the next dispatch.
func (c *Coordinator) currentRoster() *config.Roster {
	c.rosterMu.RLock()
	defer c.rosterMu.RUnlock()
	return c.roster
}

// NewRun starts a fresh run of the full stage sequence for a work item.
func (c *Coordinator) NewRun(workItem, prompt string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		WorkItem:  workItem,
		Prompt:    prompt,
		Stages:    stage.All(),
		Cursor:    0,
		Phase:     PhaseGuardrail,
		StartedAt: time.Now().UTC(),
	}
}

// Resume rebuilds a Run from durable evidence. The cursor lands just past
// the last stage whose verdict was recorded and accepted, so a crash between
// an evidence write and the in-memory advance replays nothing and loses
// nothing.
func (c *Coordinator) Resume(workItem, runID string) (*Run, error) {
	run := &Run{
		ID:        runID,
		WorkItem:  workItem,
		Stages:    stage.All(),
		Cursor:    0,
		Phase:     PhaseGuardrail,
		StartedAt: time.Now().UTC(),
	}

	// A before-specify gate that escalated durably halts the run before any
	// planning verdict exists.
	if reason, halted := c.checkpointHalt(workItem, runID, stage.CheckpointBeforeSpecify); halted {
		run.Phase = PhaseEscalated
		run.HaltReason = reason
		return run, nil
	}

	for _, st := range c.store.RecordedStages(workItem, runID) {
		var v consensus.Verdict
		if err := c.store.Unmarshal(workItem, runID, st, evidence.KindVerdict, &v); err != nil {
			// A synthesis without a verdict means the crash landed mid-stage;
			// replay from here.
			break
		}
		if !v.Accepted {
			run.Cursor = st.Index()
			run.Phase = PhaseEscalated
			run.HaltReason = v.Reason
			return run, nil
		}
		// An accepted verdict with an escalated after-stage gate halted
		// before the cursor moved; the resumed run stays there.
		if cp, due := stage.CheckpointAfter(st); due {
			if reason, halted := c.checkpointHalt(workItem, runID, cp); halted {
				run.Cursor = st.Index()
				run.Phase = PhaseEscalated
				run.HaltReason = reason
				return run, nil
			}
		}
		run.Cursor = st.Index() + 1
	}

	if run.Cursor >= len(run.Stages) {
		run.Phase = PhaseCompleted
	}
	c.logger.Info("run resumed",
		"work_item", workItem,
		"run_id", runID,
		"cursor", run.Cursor,
		"phase", string(run.Phase),
	)
	return run, nil
}

// checkpointHalt reports whether a durable gate record for cp ended awaiting
// human input, with the halt reason to surface on the resumed run.
func (c *Coordinator) checkpointHalt(workItem, runID string, cp stage.Checkpoint) (string, bool) {
	var res quality.Result
	if err := c.store.UnmarshalCheckpoint(workItem, runID, cp, &res); err != nil {
		return "", false
	}
	if res.State != quality.StateAwaitingHuman {
		return "", false
	}
	return fmt.Sprintf("checkpoint %s escalated %d issue(s)", cp, res.Escalated), true
}

// RunAll advances the run stage by stage until it completes, escalates, or
// fails. The returned error is nil for designed halts (conflict, awaiting
// human); it is non-nil only for reported failures such as prerequisite,
// configuration, or persistence errors.
func (c *Coordinator) RunAll(ctx context.Context, run *Run) error {
	for !run.Phase.Terminal() {
		if err := c.RunStage(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

// RunStage executes the stage under the cursor through dispatch, consensus,
// and any due quality checkpoint, then advances the cursor. Evidence and the
// cost summary are durable before the cursor moves.
func (c *Coordinator) RunStage(ctx context.Context, run *Run) error {
	st, ok := run.CurrentStage()
	if !ok {
		run.Phase = PhaseCompleted
		return nil
	}
	log := c.logger.WithRun(run.ID).WithStage(st.String())

	run.Phase = PhaseGuardrail
	if c.guardrail != nil {
		if err := c.guardrail.Check(ctx, run.WorkItem, st); err != nil {
			run.Phase = PhaseEscalated
			run.HaltReason = err.Error()
			log.Error("guardrail rejected stage", "error", err)
			return errors.NewPrerequisiteError(err.Error(), err).
				WithWorkItem(run.WorkItem).
				WithStage(st.String())
		}
	}

	// The before-specify gate reviews the raw prompt before any planning
	// agent runs.
	if run.Cursor == 0 && c.qualityOn {
		halted, err := c.runCheckpoint(ctx, run, stage.CheckpointBeforeSpecify, st, run.Prompt, log)
		if err != nil || halted {
			return err
		}
	}

	agents := c.currentRoster().AgentsFor(st)
	if len(agents) == 0 {
		run.Phase = PhaseEscalated
		run.HaltReason = fmt.Sprintf("no agents configured for stage %s", st)
		return errors.NewConfigurationError(run.HaltReason, errors.ErrEmptyRoster).
			WithField("roster.stages." + st.String())
	}

	run.Phase = PhaseExecutingAgents
	key := agent.CompletionKey{RunID: run.ID, Stage: st}
	handle, err := c.orch.Dispatch(ctx, key, agents, c.stagePrompt(run, st))
	if err != nil {
		run.Phase = PhaseEscalated
		run.HaltReason = err.Error()
		return errors.NewDispatchError("stage dispatch refused", err).WithStage(st.String())
	}

	results, err := handle.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for stage %s agents: %w", st, err)
	}

	run.Phase = PhaseCheckingConsensus
	verdict, err := c.consensus.Reduce(ctx, run.WorkItem, run.ID, st, agents, results)
	if err != nil {
		// An unpersisted verdict must not advance the cursor.
		run.Phase = PhaseEscalated
		run.HaltReason = err.Error()
		return errors.NewPersistenceError("verdict could not be recorded", err).
			WithWorkItem(run.WorkItem)
	}

	if !verdict.Accepted {
		run.Phase = PhaseEscalated
		run.HaltReason = verdict.Reason
		if run.HaltReason == "" {
			run.HaltReason = fmt.Sprintf("%s verdict not accepted", verdict.Outcome)
		}
		c.publishEscalation(run, st, run.HaltReason)
		log.Warn("run halted on verdict",
			"outcome", string(verdict.Outcome),
			"reason", run.HaltReason,
		)
		return nil
	}

	if cp, due := stage.CheckpointAfter(st); due && c.qualityOn {
		halted, err := c.runCheckpoint(ctx, run, cp, st, verdict.WinningRaw(), log)
		if err != nil || halted {
			return err
		}
	}

	if c.costs != nil {
		if err := c.store.WriteCostSummary(run.WorkItem, c.costs.Summary()); err != nil {
			run.Phase = PhaseEscalated
			run.HaltReason = err.Error()
			return errors.NewPersistenceError("cost summary write failed", err).
				WithWorkItem(run.WorkItem)
		}
	}

	c.advance(run, st, log)
	return nil
}

// runCheckpoint executes one quality gate. It reports halted=true when the
// gate ends awaiting human input, which escalates the run without error.
// The gate result is durable before the halt decision, so escalated and
// deferred issues survive a process exit and Resume can honor them.
func (c *Coordinator) runCheckpoint(ctx context.Context, run *Run, cp stage.Checkpoint, owner stage.Stage, artifact string, log *logging.Logger) (halted bool, err error) {
	run.Phase = PhaseQualityGateExecuting
	validators := c.currentRoster().ValidatorsFor(cp, owner)
	res, err := c.quality.RunObserved(ctx, run.ID, cp, owner, validators, artifact, func(s quality.State) {
		switch s {
		case quality.StateExecuting:
			run.Phase = PhaseQualityGateExecuting
		case quality.StateProcessing:
			run.Phase = PhaseQualityGateProcessing
		case quality.StateValidating:
			run.Phase = PhaseQualityGateValidating
		}
	})
	if err != nil {
		run.Phase = PhaseEscalated
		run.HaltReason = err.Error()
		return true, fmt.Errorf("quality checkpoint %s: %w", cp, err)
	}

	if _, err := c.store.WriteCheckpoint(run.WorkItem, run.ID, owner, cp, res); err != nil {
		// An unpersisted gate outcome must not advance the cursor.
		run.Phase = PhaseEscalated
		run.HaltReason = err.Error()
		return true, errors.NewPersistenceError("checkpoint result could not be recorded", err).
			WithWorkItem(run.WorkItem)
	}

	if res.State == quality.StateAwaitingHuman {
		run.Phase = PhaseQualityGateAwaitingHuman
		run.HaltReason = fmt.Sprintf("checkpoint %s escalated %d issue(s)", cp, res.Escalated)
		c.publishEscalation(run, owner, run.HaltReason)
		log.Warn("run halted on quality gate",
			"checkpoint", cp.String(),
			"escalated", res.Escalated,
		)
		run.Phase = PhaseEscalated
		return true, nil
	}
	return false, nil
}

// advance moves the cursor past a finished stage.
func (c *Coordinator) advance(run *Run, from stage.Stage, log *logging.Logger) {
	run.Cursor++
	to := ""
	if next, ok := run.CurrentStage(); ok {
		to = next.String()
		run.Phase = PhaseGuardrail
	} else {
		run.Phase = PhaseCompleted
	}
	if c.bus != nil {
		c.bus.Publish(event.NewStageAdvancedEvent(run.ID, from.String(), to))
	}
	log.Info("stage complete", "next", to, "phase", string(run.Phase))
}

func (c *Coordinator) publishEscalation(run *Run, st stage.Stage, reason string) {
	if c.bus != nil {
		c.bus.Publish(event.NewHumanEscalationEvent(run.ID, st.String(), reason))
	}
}

// stagePrompt frames the work item prompt for one stage's agents.
func (c *Coordinator) stagePrompt(run *Run, st stage.Stage) string {
	return fmt.Sprintf(
		"Work item %s, stage %s.\n\n%s\n\nRespond with a JSON object whose %q field holds your decision.",
		run.WorkItem, st, run.Prompt, stage.DecisionField(st),
	)
}
