package pipeline

import (
	"time"

	"github.com/Iron-Ham/quorum/internal/stage"
)

// Phase is the coordinator's position in the run state machine.
type Phase string

const (
	PhaseGuardrail         Phase = "guardrail"
	PhaseExecutingAgents   Phase = "executing-agents"
	PhaseCheckingConsensus Phase = "checking-consensus"

	PhaseQualityGateExecuting     Phase = "quality-gate-executing"
	PhaseQualityGateProcessing    Phase = "quality-gate-processing"
	PhaseQualityGateValidating    Phase = "quality-gate-validating"
	PhaseQualityGateAwaitingHuman Phase = "quality-gate-awaiting-human"

	PhaseCompleted Phase = "completed"
	PhaseEscalated Phase = "escalated"
)

// Terminal reports whether the run can make no further progress on its own.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseEscalated
}

// Run is one execution of the workflow for a work item. The coordinator
// owns it exclusively; observers get value copies via Snapshot.
type Run struct {
	ID       string        `json:"id"`
	WorkItem string        `json:"work_item"`
	Prompt   string        `json:"prompt"`
	Stages   []stage.Stage `json:"stages"`
	Cursor   int           `json:"cursor"`
	Phase    Phase         `json:"phase"`

	// HaltReason explains an Escalated phase.
	HaltReason string    `json:"halt_reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// CurrentStage returns the stage at the cursor, false once past the end.
func (r *Run) CurrentStage() (stage.Stage, bool) {
	if r.Cursor < 0 || r.Cursor >= len(r.Stages) {
		return "", false
	}
	return r.Stages[r.Cursor], true
}

// Snapshot returns a value copy safe to hand to observers.
func (r *Run) Snapshot() Run {
	out := *r
	out.Stages = make([]stage.Stage, len(r.Stages))
	copy(out.Stages, r.Stages)
	return out
}
