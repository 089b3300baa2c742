// Package quality runs the nested checkpoint state machine: extra agents
// inspect a stage's artifact at fixed checkpoints, their findings are
// classified, and each issue is auto-applied, suggested-and-deferred, or
// escalated to a human. Nothing is ever silently dropped.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iron-Ham/quorum/internal/agent"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/heuristics"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/stage"
)

// State is the gate's position in its checkpoint state machine.
type State string

const (
	StateExecuting     State = "executing"
	StateProcessing    State = "processing"
	StateValidating    State = "validating"
	StateAwaitingHuman State = "awaiting-human"
	StateAutoApplied   State = "auto-applied"
)

// Dispatcher fans a checkpoint prompt out to validator agents and returns
// their terminal results. The orchestrator satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, key agent.CompletionKey, agents []string, prompt string) ([]agent.Result, error)
}

// Validator renders a second opinion on a medium-agreement issue. Returns
// true when the majority answer should be trusted.
type Validator interface {
	Confirm(ctx context.Context, issue Issue) (bool, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, issue Issue) (bool, error)

// Confirm implements Validator.
func (f ValidatorFunc) Confirm(ctx context.Context, issue Issue) (bool, error) {
	return f(ctx, issue)
}

// Result summarizes one checkpoint run.
type Result struct {
	Checkpoint string  `json:"checkpoint"`
	State      State   `json:"state"`
	Issues     []Issue `json:"issues"`
	Applied    int     `json:"applied"`
	Deferred   int     `json:"deferred"`
	Escalated  int     `json:"escalated"`
}

// Options configures an Engine.
type Options struct {
	// Validator handles second opinions; nil sends medium-agreement
	// issues straight to the deferred/escalated paths.
	Validator Validator
	// Heuristics optionally boosts auto-resolution of patterns the gate
	// has handled well before. May be nil.
	Heuristics *heuristics.Store
	Logger     *logging.Logger
	Bus        *event.Bus
}

// Engine drives quality checkpoints.
type Engine struct {
	dispatcher Dispatcher
	validator  Validator
	heur       *heuristics.Store
	logger     *logging.Logger
	bus        *event.Bus
}

// NewEngine creates an Engine dispatching through the given Dispatcher.
func NewEngine(dispatcher Dispatcher, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{
		dispatcher: dispatcher,
		validator:  opts.Validator,
		heur:       opts.Heuristics,
		logger:     logger,
		bus:        opts.Bus,
	}
}

// Run executes one checkpoint for a run: spawn the checkpoint agents,
// classify their findings, resolve every issue, and report. The gate ends
// AwaitingHuman when any issue escalated, AutoApplied otherwise.
func (e *Engine) Run(ctx context.Context, runID string, cp stage.Checkpoint, owner stage.Stage, validators []string, artifact string) (*Result, error) {
	return e.RunObserved(ctx, runID, cp, owner, validators, artifact, nil)
}

// RunObserved is Run with a state observer. onState is called on every
// transition of the gate's sub-state machine; nil is allowed.
func (e *Engine) RunObserved(ctx context.Context, runID string, cp stage.Checkpoint, owner stage.Stage, validators []string, artifact string, onState func(State)) (*Result, error) {
	notify := func(s State) {
		if onState != nil {
			onState(s)
		}
	}
	log := e.logger.WithStage(owner.String())
	notify(StateExecuting)
	log.Info("quality checkpoint starting", "checkpoint", cp.String(), "state", string(StateExecuting))

	key := agent.CompletionKey{RunID: runID, Stage: owner, Checkpoint: cp}
	results, err := e.dispatcher.Dispatch(ctx, key, validators, checkpointPrompt(cp, owner, artifact))
	if err != nil {
		return nil, fmt.Errorf("checkpoint dispatch failed: %w", err)
	}

	notify(StateProcessing)
	log.Debug("quality checkpoint processing", "checkpoint", cp.String(), "state", string(StateProcessing))
	issues, err := parseIssues(cp, results)
	if err != nil {
		return nil, err
	}

	res := &Result{Checkpoint: cp.String(), Issues: issues}
	for i := range res.Issues {
		e.resolve(ctx, &res.Issues[i], notify, log)
		switch res.Issues[i].Resolution {
		case ResolutionApplied:
			res.Applied++
		case ResolutionDeferred:
			res.Deferred++
		case ResolutionEscalated:
			res.Escalated++
		}
	}
	sortIssues(res.Issues)

	if res.Escalated > 0 {
		res.State = StateAwaitingHuman
	} else {
		res.State = StateAutoApplied
	}
	notify(res.State)

	if e.bus != nil {
		e.bus.Publish(event.NewCheckpointResolvedEvent(runID, cp.String(), res.Applied, res.Deferred, res.Escalated))
	}
	log.Info("quality checkpoint resolved",
		"checkpoint", cp.String(),
		"state", string(res.State),
		"applied", res.Applied,
		"deferred", res.Deferred,
		"escalated", res.Escalated,
	)
	return res, nil
}

// resolve assigns the issue's terminal disposition.
func (e *Engine) resolve(ctx context.Context, issue *Issue, notify func(State), log *logging.Logger) {
	// Critical or human-only issues escalate unconditionally.
	if issue.Magnitude == MagnitudeCritical || issue.Resolvability == ResolvabilityNeedsHuman {
		issue.Resolution = ResolutionEscalated
		issue.Reason = "critical magnitude or needs-human resolvability"
		return
	}

	if autoResolvable(issue) {
		issue.Resolution = ResolutionApplied
		if issue.Confidence != ConfidenceHigh {
			issue.Flagged = true
		}
		return
	}

	// A trusted heuristic pattern lets a medium suggest-fix through.
	if e.heur != nil && issue.Confidence == ConfidenceMedium && issue.Resolvability == ResolvabilitySuggestFix {
		if e.heur.HelpfulMatch(issue.Description, issue.Majority) {
			issue.Resolution = ResolutionApplied
			issue.Flagged = true
			issue.Reason = "matched learned resolution pattern"
			return
		}
	}

	// Medium agreement gets a second opinion before falling through.
	if issue.Confidence == ConfidenceMedium && e.validator != nil {
		notify(StateValidating)
		agrees, err := e.validator.Confirm(ctx, *issue)
		if err != nil {
			log.Warn("issue validation failed", "issue", issue.ID, "error", err)
		} else if agrees {
			issue.Resolution = ResolutionApplied
			issue.Flagged = true
			issue.Reason = "majority answer confirmed by second opinion"
			return
		}
	}

	if issue.Resolvability == ResolvabilitySuggestFix {
		issue.Resolution = ResolutionDeferred
		issue.Reason = "suggested fix recorded for review"
		return
	}
	issue.Resolution = ResolutionEscalated
	issue.Reason = "insufficient agreement to auto-resolve"
}

// autoResolvable is the base decision matrix.
func autoResolvable(issue *Issue) bool {
	switch {
	case issue.Confidence == ConfidenceHigh && issue.Magnitude == MagnitudeMinor:
		return issue.Resolvability == ResolvabilityAutoFix || issue.Resolvability == ResolvabilitySuggestFix
	case issue.Confidence == ConfidenceHigh && issue.Magnitude == MagnitudeImportant:
		return issue.Resolvability == ResolvabilityAutoFix
	case issue.Confidence == ConfidenceMedium && issue.Magnitude == MagnitudeMinor:
		return issue.Resolvability == ResolvabilityAutoFix
	default:
		return false
	}
}

// InvokerValidator implements Validator over the tool-invocation boundary.
type InvokerValidator struct {
	Invoker agent.Invoker
	Agent   string
	Timeout time.Duration
}

// Confirm implements Validator.
func (v *InvokerValidator) Confirm(ctx context.Context, issue Issue) (bool, error) {
	prompt := fmt.Sprintf(
		"Checkpoint issue: %s\nMajority answer: %s\nPer-agent answers: %v\n\nShould the majority answer be applied? Reply with JSON: {\"confirm\": true|false}",
		issue.Description, issue.Majority, issue.AgentAnswers,
	)
	out, err := v.Invoker.Invoke(ctx, v.Agent, prompt, v.Timeout)
	if err != nil {
		return false, fmt.Errorf("issue validation invocation failed: %w", err)
	}

	var reply struct {
		Confirm bool `json:"confirm"`
	}
	if err := unmarshalReply(out, &reply); err != nil {
		return false, err
	}
	return reply.Confirm, nil
}

func unmarshalReply(out string, v any) error {
	if err := json.Unmarshal([]byte(out), v); err != nil {
		return fmt.Errorf("failed to parse validator reply: %w", err)
	}
	return nil
}

func checkpointPrompt(cp stage.Checkpoint, owner stage.Stage, artifact string) string {
	return fmt.Sprintf(
		"Review the %s artifact below for the %s checkpoint. Report findings as JSON {\"issues\": [{\"question\", \"answer\", \"confidence\", \"magnitude\", \"resolvability\", \"suggested_fix\"}]}. An empty issues array means the artifact passes.\n\n%s",
		owner, cp, artifact,
	)
}
