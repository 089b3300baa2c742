// Package agent defines the dispatched unit of work sent to an external
// reasoning agent and the tool-invocation boundary used to reach it.
package agent

import (
	"time"

	"github.com/Iron-Ham/quorum/internal/stage"
)

// Status is the lifecycle status of a dispatched agent task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed-out"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// CompletionKey identifies the completion set a task belongs to. Completion
// decisions filter strictly by this key so late-arriving results from a prior
// checkpoint can never satisfy the current stage's expectations.
type CompletionKey struct {
	RunID      string           `json:"run_id"`
	Stage      stage.Stage      `json:"stage"`
	Checkpoint stage.Checkpoint `json:"checkpoint,omitempty"`
}

// Task is one dispatched unit of work. The orchestrator owns a Task
// exclusively until it reaches a terminal status, after which read-only
// snapshots are handed to the consensus engine.
type Task struct {
	ID          string        `json:"id"`
	Key         CompletionKey `json:"key"`
	Agent       string        `json:"agent"`
	Prompt      string        `json:"prompt"`
	Status      Status        `json:"status"`
	Output      string        `json:"output,omitempty"`
	Err         string        `json:"error,omitempty"`
	Attempt     int           `json:"attempt"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Duration returns how long the task ran, or the elapsed time so far if it
// has not completed.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if t.CompletedAt != nil {
		return t.CompletedAt.Sub(t.StartedAt)
	}
	return time.Since(t.StartedAt)
}

// Result is an immutable snapshot of a terminal task.
type Result struct {
	Agent    string        `json:"agent"`
	Key      CompletionKey `json:"key"`
	Status   Status        `json:"status"`
	Output   string        `json:"output,omitempty"`
	Err      string        `json:"error,omitempty"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
}

// Snapshot captures the task as an immutable Result. It must only be called
// once the task is terminal.
func (t *Task) Snapshot() Result {
	return Result{
		Agent:    t.Agent,
		Key:      t.Key,
		Status:   t.Status,
		Output:   t.Output,
		Err:      t.Err,
		Attempt:  t.Attempt,
		Duration: t.Duration(),
	}
}
