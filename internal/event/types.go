// Package event defines event types for decoupling pipeline components.
// These events enable communication between the CLI, PipelineCoordinator,
// AgentOrchestrator, and other components without direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "stage.dispatched", "verdict.recorded")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Stage Lifecycle Events
// -----------------------------------------------------------------------------

// StageDispatchedEvent is emitted when agents for a stage are dispatched.
type StageDispatchedEvent struct {
	baseEvent
	RunID      string
	Stage      string
	Checkpoint string // empty for regular stage dispatch
	Agents     []string
}

// NewStageDispatchedEvent creates a StageDispatchedEvent.
func NewStageDispatchedEvent(runID, stage, checkpoint string, agents []string) StageDispatchedEvent {
	return StageDispatchedEvent{
		baseEvent:  newBaseEvent("stage.dispatched"),
		RunID:      runID,
		Stage:      stage,
		Checkpoint: checkpoint,
		Agents:     agents,
	}
}

// StageAdvancedEvent is emitted when the pipeline cursor moves past a stage.
type StageAdvancedEvent struct {
	baseEvent
	RunID string
	From  string
	To    string // empty when the pipeline completed
}

// NewStageAdvancedEvent creates a StageAdvancedEvent.
func NewStageAdvancedEvent(runID, from, to string) StageAdvancedEvent {
	return StageAdvancedEvent{
		baseEvent: newBaseEvent("stage.advanced"),
		RunID:     runID,
		From:      from,
		To:        to,
	}
}

// -----------------------------------------------------------------------------
// Agent Task Events
// -----------------------------------------------------------------------------

// AgentTerminalEvent is emitted when an agent task reaches a terminal status.
type AgentTerminalEvent struct {
	baseEvent
	RunID  string
	Stage  string
	Agent  string
	Status string // "succeeded", "failed", or "timed-out"
	Err    string // non-empty for failures
}

// NewAgentTerminalEvent creates an AgentTerminalEvent.
func NewAgentTerminalEvent(runID, stage, agent, status, errMsg string) AgentTerminalEvent {
	return AgentTerminalEvent{
		baseEvent: newBaseEvent("agent.terminal"),
		RunID:     runID,
		Stage:     stage,
		Agent:     agent,
		Status:    status,
		Err:       errMsg,
	}
}

// AgentRetryEvent is emitted when an agent task is retried with
// failure context re-injected into its prompt.
type AgentRetryEvent struct {
	baseEvent
	RunID   string
	Stage   string
	Agent   string
	Attempt int
}

// NewAgentRetryEvent creates an AgentRetryEvent.
func NewAgentRetryEvent(runID, stage, agent string, attempt int) AgentRetryEvent {
	return AgentRetryEvent{
		baseEvent: newBaseEvent("agent.retry"),
		RunID:     runID,
		Stage:     stage,
		Agent:     agent,
		Attempt:   attempt,
	}
}

// -----------------------------------------------------------------------------
// Verdict and Quality Gate Events
// -----------------------------------------------------------------------------

// VerdictRecordedEvent is emitted after a consensus verdict is durably
// persisted to the evidence store.
type VerdictRecordedEvent struct {
	baseEvent
	RunID    string
	Stage    string
	Outcome  string // "unanimous", "majority", or "conflict"
	Degraded bool
	Missing  []string
}

// NewVerdictRecordedEvent creates a VerdictRecordedEvent.
func NewVerdictRecordedEvent(runID, stage, outcome string, degraded bool, missing []string) VerdictRecordedEvent {
	return VerdictRecordedEvent{
		baseEvent: newBaseEvent("verdict.recorded"),
		RunID:     runID,
		Stage:     stage,
		Outcome:   outcome,
		Degraded:  degraded,
		Missing:   missing,
	}
}

// CheckpointResolvedEvent is emitted when a quality checkpoint finishes.
type CheckpointResolvedEvent struct {
	baseEvent
	RunID       string
	Checkpoint  string
	AutoApplied int
	Deferred    int
	Escalated   int
}

// NewCheckpointResolvedEvent creates a CheckpointResolvedEvent.
func NewCheckpointResolvedEvent(runID, checkpoint string, autoApplied, deferred, escalated int) CheckpointResolvedEvent {
	return CheckpointResolvedEvent{
		baseEvent:   newBaseEvent("checkpoint.resolved"),
		RunID:       runID,
		Checkpoint:  checkpoint,
		AutoApplied: autoApplied,
		Deferred:    deferred,
		Escalated:   escalated,
	}
}

// HumanEscalationEvent is emitted when the pipeline halts awaiting a human.
type HumanEscalationEvent struct {
	baseEvent
	RunID  string
	Stage  string
	Reason string
}

// NewHumanEscalationEvent creates a HumanEscalationEvent.
func NewHumanEscalationEvent(runID, stage, reason string) HumanEscalationEvent {
	return HumanEscalationEvent{
		baseEvent: newBaseEvent("human.escalation"),
		RunID:     runID,
		Stage:     stage,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Cost Events
// -----------------------------------------------------------------------------

// CostUpdatedEvent is emitted when attributed spend changes.
type CostUpdatedEvent struct {
	baseEvent
	WorkItem string
	Stage    string
	Agent    string
	Cost     float64
	Total    float64
}

// NewCostUpdatedEvent creates a CostUpdatedEvent.
func NewCostUpdatedEvent(workItem, stage, agent string, cost, total float64) CostUpdatedEvent {
	return CostUpdatedEvent{
		baseEvent: newBaseEvent("cost.updated"),
		WorkItem:  workItem,
		Stage:     stage,
		Agent:     agent,
		Cost:      cost,
		Total:     total,
	}
}
