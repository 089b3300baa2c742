// Package stage defines the closed set of workflow stages and the quality
// checkpoints nested between them. Stages are a fixed enum with table-driven
// metadata rather than an open registration surface: every component that
// dispatches on stage kind consults the tables in this package.
package stage

import (
	"fmt"
	"strings"
)

// Stage is one named step of the workflow.
type Stage string

const (
	StagePlan      Stage = "plan"
	StageTasks     Stage = "tasks"
	StageImplement Stage = "implement"
	StageValidate  Stage = "validate"
	StageAudit     Stage = "audit"
	StageUnlock    Stage = "unlock"
)

// All returns every stage in pipeline order.
func All() []Stage {
	return []Stage{StagePlan, StageTasks, StageImplement, StageValidate, StageAudit, StageUnlock}
}

// String returns the stage's command name.
func (s Stage) String() string { return string(s) }

// Index returns the position of the stage in pipeline order, or -1 if the
// stage is unknown.
func (s Stage) Index() int {
	for i, st := range All() {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s in pipeline order. The second return
// is false when s is the final stage or unknown.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx >= len(All())-1 {
		return "", false
	}
	return All()[idx+1], true
}

// Parse resolves a user-supplied stage name, accepting the bare command name
// and common aliases.
func Parse(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "plan", "spec-plan":
		return StagePlan, nil
	case "tasks", "spec-tasks":
		return StageTasks, nil
	case "implement", "spec-implement":
		return StageImplement, nil
	case "validate", "spec-validate":
		return StageValidate, nil
	case "audit", "review", "spec-audit", "spec-review":
		return StageAudit, nil
	case "unlock", "spec-unlock":
		return StageUnlock, nil
	default:
		return "", fmt.Errorf("unknown stage %q", name)
	}
}

// Checkpoint identifies a quality-gate point nested within the pipeline.
type Checkpoint string

const (
	CheckpointBeforeSpecify Checkpoint = "before-specify"
	CheckpointAfterSpecify  Checkpoint = "after-specify"
	CheckpointAfterTasks    Checkpoint = "after-tasks"
)

// String returns the checkpoint identifier.
func (c Checkpoint) String() string { return string(c) }

// AllCheckpoints returns every checkpoint in pipeline order.
func AllCheckpoints() []Checkpoint {
	return []Checkpoint{CheckpointBeforeSpecify, CheckpointAfterSpecify, CheckpointAfterTasks}
}

// checkpointTable maps each stage to the checkpoint that runs after its
// consensus verdict is accepted. Stages without an entry have no checkpoint.
var checkpointTable = map[Stage]Checkpoint{
	StagePlan:  CheckpointAfterSpecify,
	StageTasks: CheckpointAfterTasks,
}

// CheckpointAfter returns the quality checkpoint due once the given stage's
// verdict is accepted, if any.
func CheckpointAfter(s Stage) (Checkpoint, bool) {
	c, ok := checkpointTable[s]
	return c, ok
}

// DefaultRoster maps each stage to the agent identities expected to
// participate. An injected roster from configuration overrides this table;
// it exists so the pipeline is runnable without a roster file.
var DefaultRoster = map[Stage][]string{
	StagePlan:      {"gemini", "claude", "gpt"},
	StageTasks:     {"gemini", "claude", "gpt"},
	StageImplement: {"gemini", "claude", "gpt-codex", "gpt"},
	StageValidate:  {"gemini", "claude", "gpt"},
	StageAudit:     {"gemini", "claude", "gpt"},
	StageUnlock:    {"gemini", "claude", "gpt"},
}

// DecisionField returns the name of the JSON field that carries a stage's
// decision payload. Consensus equality is computed over this field.
var decisionFields = map[Stage]string{
	StagePlan:      "work_breakdown",
	StageTasks:     "tasks",
	StageImplement: "implementation",
	StageValidate:  "test_strategy",
	StageAudit:     "audit_verdict",
	StageUnlock:    "unlock_decision",
}

// DecisionField returns the stage-specific required field for agent output.
func DecisionField(s Stage) string {
	if f, ok := decisionFields[s]; ok {
		return f
	}
	return "content"
}
