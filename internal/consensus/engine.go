// Package consensus reduces the agent outputs for a stage into a verdict:
// unanimous, majority, or conflict. Majority verdicts with medium confidence
// get a second opinion from a higher-trust validator before acceptance;
// conflicts are always escalated to a human, never auto-resolved.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Iron-Ham/quorum/internal/agent"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/evidence"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/stage"
)

// Validator renders a second opinion on a majority decision. Confirm
// returns true when the decision is consistent with the stage's intent.
type Validator interface {
	Confirm(ctx context.Context, st stage.Stage, decision string, outputs []AgentOutput) (bool, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, st stage.Stage, decision string, outputs []AgentOutput) (bool, error)

// Confirm implements Validator.
func (f ValidatorFunc) Confirm(ctx context.Context, st stage.Stage, decision string, outputs []AgentOutput) (bool, error) {
	return f(ctx, st, decision, outputs)
}

// Options configures an Engine.
type Options struct {
	// Validator re-checks medium-confidence majority verdicts. Nil means
	// medium-confidence majorities escalate without a second opinion.
	Validator Validator
	// ValidatorAgent names the validator identity for the evidence trail.
	ValidatorAgent string
	// ValidatorTimeout bounds each Confirm call.
	ValidatorTimeout time.Duration
	Logger           *logging.Logger
	Bus              *event.Bus
}

// Engine reduces stage results into verdicts and persists the evidence
// trail before reporting back to the caller.
type Engine struct {
	store            *evidence.Store
	validator        Validator
	validatorAgent   string
	validatorTimeout time.Duration
	logger           *logging.Logger
	bus              *event.Bus
}

// NewEngine creates an Engine persisting through the given store.
func NewEngine(store *evidence.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	timeout := opts.ValidatorTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Engine{
		store:            store,
		validator:        opts.Validator,
		validatorAgent:   opts.ValidatorAgent,
		validatorTimeout: timeout,
		logger:           logger,
		bus:              opts.Bus,
	}
}

// Reduce computes the verdict for one stage's results, persists the
// synthesis and verdict records, then returns the verdict. The expected
// list names every agent that should have responded; absentees are recorded
// as missing and the verdict marked degraded.
func (e *Engine) Reduce(ctx context.Context, workItem, runID string, st stage.Stage, expected []string, results []agent.Result) (*Verdict, error) {
	if len(expected) == 0 {
		return nil, fmt.Errorf("no expected agents for stage %s", st)
	}

	outputs, missing := e.collect(st, expected, results)
	v := e.reduce(runID, st, outputs, missing)

	if v.Outcome == OutcomeMajority && v.Confidence == ConfidenceMedium {
		if e.validator != nil {
			e.secondOpinion(ctx, st, v)
		} else {
			v.Reason = "no secondary validator configured for majority decision"
		}
	}

	if err := e.persist(workItem, runID, st, v, outputs); err != nil {
		return nil, err
	}

	if e.bus != nil {
		e.bus.Publish(event.NewVerdictRecordedEvent(runID, st.String(), string(v.Outcome), v.Degraded, v.Missing))
	}
	e.logger.Info("consensus reduced",
		"stage", st.String(),
		"outcome", string(v.Outcome),
		"confidence", string(v.Confidence),
		"accepted", v.Accepted,
		"degraded", v.Degraded,
	)
	return v, nil
}

// collect extracts each successful result's decision and names the
// expected agents that never produced one.
func (e *Engine) collect(st stage.Stage, expected []string, results []agent.Result) ([]AgentOutput, []string) {
	field := stage.DecisionField(st)

	responded := make(map[string]bool, len(results))
	var outputs []AgentOutput
	for _, r := range results {
		if r.Status != agent.StatusSucceeded {
			continue
		}
		responded[r.Agent] = true
		outputs = append(outputs, AgentOutput{
			Agent:    r.Agent,
			Decision: extractDecision(r.Output, field),
			Raw:      r.Output,
		})
	}

	var missing []string
	for _, a := range expected {
		if !responded[a] {
			missing = append(missing, a)
		}
	}
	sort.Strings(missing)
	return outputs, missing
}

// reduce applies the tie-break rule over the responding agents only. A
// degraded input set still reduces, but the verdict is visibly marked.
func (e *Engine) reduce(runID string, st stage.Stage, outputs []AgentOutput, missing []string) *Verdict {
	v := &Verdict{
		RunID:     runID,
		Stage:     st.String(),
		Outputs:   outputs,
		Missing:   missing,
		Degraded:  len(missing) > 0,
		CreatedAt: time.Now().UTC(),
	}

	if len(outputs) == 0 {
		v.Outcome = OutcomeConflict
		v.Confidence = ConfidenceLow
		v.Reason = "no agent produced a decision"
		return v
	}

	counts := make(map[string][]string)
	for _, o := range outputs {
		counts[o.Decision] = append(counts[o.Decision], o.Agent)
	}

	var winner string
	var winnerAgents []string
	for decision, agents := range counts {
		if decision == "" {
			continue
		}
		if len(agents) > len(winnerAgents) {
			winner, winnerAgents = decision, agents
		}
	}

	total := len(outputs)
	switch {
	case winner != "" && len(winnerAgents) == total:
		v.Outcome = OutcomeUnanimous
		v.Confidence = ConfidenceHigh
		v.Decision = winner
		v.Agreeing = winnerAgents
		v.Accepted = true
	case winner != "" && len(winnerAgents)*2 > total:
		v.Outcome = OutcomeMajority
		v.Decision = winner
		v.Agreeing = winnerAgents
		v.Dissent = dissenters(outputs, winnerAgents)
		// Grade by share of responders: a 3-of-4 majority is high trust,
		// a bare 2-of-3 needs a second opinion before acceptance.
		if len(winnerAgents)*4 >= total*3 {
			v.Confidence = ConfidenceHigh
			v.Accepted = true
			v.Flagged = true
		} else {
			v.Confidence = ConfidenceMedium
		}
	default:
		v.Outcome = OutcomeConflict
		v.Confidence = ConfidenceLow
		v.Dissent = agentNames(outputs)
		v.Reason = "no strict majority among responding agents"
	}
	return v
}

// secondOpinion runs the validator over a medium-confidence majority and
// folds the answer into the verdict. A validator failure is treated as
// disagreement: the verdict escalates rather than silently accepting.
func (e *Engine) secondOpinion(ctx context.Context, st stage.Stage, v *Verdict) {
	vctx, cancel := context.WithTimeout(ctx, e.validatorTimeout)
	defer cancel()

	agrees, err := e.validator.Confirm(vctx, st, v.Decision, v.Outputs)
	v.ValidatorAgent = e.validatorAgent
	if err != nil {
		e.logger.Warn("secondary validation failed", "stage", st.String(), "error", err)
		v.Reason = fmt.Sprintf("secondary validation failed: %v", err)
		return
	}

	v.ValidatorAgrees = &agrees
	if agrees {
		v.Accepted = true
		v.Flagged = true
		return
	}
	v.Reason = "secondary validator disagrees with majority decision"
}

// persist writes the synthesis and verdict records for this reduction.
// Both are durable before the caller learns the outcome.
func (e *Engine) persist(workItem, runID string, st stage.Stage, v *Verdict, outputs []AgentOutput) error {
	syn := Synthesis{
		RunID:      runID,
		Stage:      st.String(),
		Decision:   v.Decision,
		Merged:     mergedArtifact(v, outputs),
		Outcome:    v.Outcome,
		Confidence: v.Confidence,
		Degraded:   v.Degraded,
		Missing:    v.Missing,
		CreatedAt:  v.CreatedAt,
	}
	if _, err := e.store.Write(workItem, runID, st, evidence.KindSynthesis, syn); err != nil {
		// A leftover synthesis from a crashed attempt is kept as-is; the
		// verdict below decides the stage.
		if !errors.Is(err, evidence.ErrRecordExists) {
			return fmt.Errorf("failed to persist synthesis: %w", err)
		}
		e.logger.Warn("synthesis already recorded, keeping prior record",
			"work_item", workItem, "run_id", runID, "stage", st.String())
	}
	if _, err := e.store.Write(workItem, runID, st, evidence.KindVerdict, v); err != nil {
		return fmt.Errorf("failed to persist verdict: %w", err)
	}
	return nil
}

// mergedArtifact picks the winning agents' raw output as the stage artifact.
// On conflict there is no winner and every raw output is carried instead.
func mergedArtifact(v *Verdict, outputs []AgentOutput) json.RawMessage {
	if v.Decision != "" {
		for _, o := range outputs {
			if o.Decision == v.Decision && json.Valid([]byte(o.Raw)) {
				return json.RawMessage(o.Raw)
			}
		}
	}
	raws := make(map[string]json.RawMessage, len(outputs))
	for _, o := range outputs {
		if json.Valid([]byte(o.Raw)) {
			raws[o.Agent] = json.RawMessage(o.Raw)
		}
	}
	data, err := json.Marshal(raws)
	if err != nil {
		return nil
	}
	return data
}

func dissenters(outputs []AgentOutput, agreeing []string) []string {
	agree := make(map[string]bool, len(agreeing))
	for _, a := range agreeing {
		agree[a] = true
	}
	var out []string
	for _, o := range outputs {
		if !agree[o.Agent] {
			out = append(out, o.Agent)
		}
	}
	sort.Strings(out)
	return out
}

func agentNames(outputs []AgentOutput) []string {
	out := make([]string, 0, len(outputs))
	for _, o := range outputs {
		out = append(out, o.Agent)
	}
	sort.Strings(out)
	return out
}
