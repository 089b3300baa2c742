// Package cost accumulates attributed spend per stage and per agent for one
// work item. The tracker is written by the orchestrator as tasks complete and
// read by the coordinator for budget checks; it never blocks dispatch.
package cost

import (
	"sync"
	"time"

	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/stage"
)

// AlertLevel classifies budget utilization.
type AlertLevel int

const (
	// AlertNone means spend is comfortably inside the budget.
	AlertNone AlertLevel = iota
	// AlertWarning fires at 80% utilization.
	AlertWarning
	// AlertCritical fires at 90% utilization.
	AlertCritical
	// AlertExceeded fires when spend reaches or passes the budget.
	AlertExceeded
)

// Alert reports a budget threshold crossing.
type Alert struct {
	Level    AlertLevel
	WorkItem string
	Budget   float64
	Spent    float64
}

// Summary is the serialized form written to the cost summary file after each
// stage, rewritten in place rather than appended.
type Summary struct {
	WorkItem  string             `json:"work_item"`
	Total     float64            `json:"total"`
	Budget    float64            `json:"budget,omitempty"`
	CallCount int                `json:"call_count"`
	PerStage  map[string]float64 `json:"per_stage"`
	PerAgent  map[string]float64 `json:"per_agent"`
	StartedAt time.Time          `json:"started_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Tracker accumulates spend for one work item. All methods are safe for
// concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	workItem  string
	budget    float64 // 0 = unlimited
	total     float64
	callCount int
	perStage  map[string]float64
	perAgent  map[string]float64
	startedAt time.Time
	updatedAt time.Time

	bus *event.Bus
}

// NewTracker creates a tracker for a work item. A zero budget disables
// budget alerts. The bus may be nil.
func NewTracker(workItem string, budget float64, bus *event.Bus) *Tracker {
	now := time.Now()
	return &Tracker{
		workItem:  workItem,
		budget:    budget,
		perStage:  make(map[string]float64),
		perAgent:  make(map[string]float64),
		startedAt: now,
		updatedAt: now,
		bus:       bus,
	}
}

// RecordCall attributes one completed call's cost to a stage and agent,
// computing the cost from the agent's pricing and token counts. It returns
// a non-nil Alert when a budget threshold is crossed.
func (t *Tracker) RecordCall(st stage.Stage, agent string, inputTokens, outputTokens uint64) *Alert {
	cost := PricingFor(agent).Calculate(inputTokens, outputTokens)
	return t.Record(st, agent, cost)
}

// Record attributes a pre-computed cost to a stage and agent.
func (t *Tracker) Record(st stage.Stage, agent string, cost float64) *Alert {
	t.mu.Lock()
	t.total += cost
	t.perStage[st.String()] += cost
	t.perAgent[agent] += cost
	t.callCount++
	t.updatedAt = time.Now()
	total := t.total
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(event.NewCostUpdatedEvent(t.workItem, st.String(), agent, cost, total))
	}
	return t.alertFor(total)
}

func (t *Tracker) alertFor(total float64) *Alert {
	if t.budget <= 0 {
		return nil
	}
	utilization := total / t.budget

	var level AlertLevel
	switch {
	case utilization >= 1.0:
		level = AlertExceeded
	case utilization >= 0.9:
		level = AlertCritical
	case utilization >= 0.8:
		level = AlertWarning
	default:
		return nil
	}
	return &Alert{
		Level:    level,
		WorkItem: t.workItem,
		Budget:   t.budget,
		Spent:    total,
	}
}

// Total returns the running total spend.
func (t *Tracker) Total() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// Exceeded reports whether spend has reached the budget. Always false with
// no budget configured.
func (t *Tracker) Exceeded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.budget > 0 && t.total >= t.budget
}

// StageCost returns spend attributed to one stage.
func (t *Tracker) StageCost(st stage.Stage) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.perStage[st.String()]
}

// AgentCost returns spend attributed to one agent identity.
func (t *Tracker) AgentCost(agent string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.perAgent[agent]
}

// Summary returns a snapshot of the breakdown for serialization.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	perStage := make(map[string]float64, len(t.perStage))
	for k, v := range t.perStage {
		perStage[k] = v
	}
	perAgent := make(map[string]float64, len(t.perAgent))
	for k, v := range t.perAgent {
		perAgent[k] = v
	}

	return Summary{
		WorkItem:  t.workItem,
		Total:     t.total,
		Budget:    t.budget,
		CallCount: t.callCount,
		PerStage:  perStage,
		PerAgent:  perAgent,
		StartedAt: t.startedAt,
		UpdatedAt: t.updatedAt,
	}
}
