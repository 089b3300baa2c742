package consensus

import (
	"encoding/json"
	"time"
)

// Outcome classifies how the agent outputs for a stage relate.
type Outcome string

const (
	// OutcomeUnanimous means every responding agent reached the same decision.
	OutcomeUnanimous Outcome = "unanimous"
	// OutcomeMajority means a strict majority of responders agree.
	OutcomeMajority Outcome = "majority"
	// OutcomeConflict means no strict majority exists.
	OutcomeConflict Outcome = "conflict"
)

// Confidence grades how much trust the reduction places in its decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// AgentOutput is one responding agent's contribution to a verdict.
type AgentOutput struct {
	Agent    string `json:"agent"`
	Decision string `json:"decision"`
	Raw      string `json:"raw"`
}

// Verdict is the immutable result of reducing one stage's agent outputs.
// A verdict is never edited after creation; a retry produces a new one.
type Verdict struct {
	RunID      string     `json:"run_id"`
	Stage      string     `json:"stage"`
	Outcome    Outcome    `json:"outcome"`
	Confidence Confidence `json:"confidence"`

	// Decision is the winning normalized decision, empty on conflict.
	Decision string `json:"decision,omitempty"`

	Outputs  []AgentOutput `json:"outputs"`
	Agreeing []string      `json:"agreeing,omitempty"`
	Dissent  []string      `json:"dissenting,omitempty"`
	Missing  []string      `json:"missing,omitempty"`
	Degraded bool          `json:"degraded"`

	// Flagged marks a majority verdict accepted without unanimity.
	Flagged bool `json:"flagged,omitempty"`
	// ValidatorAgent and ValidatorAgrees record the second opinion, when one ran.
	ValidatorAgent  string `json:"validator_agent,omitempty"`
	ValidatorAgrees *bool  `json:"validator_agrees,omitempty"`

	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WinningRaw returns the raw output backing the winning decision, empty
// when there is no winner.
func (v *Verdict) WinningRaw() string {
	if v.Decision == "" {
		return ""
	}
	for _, o := range v.Outputs {
		if o.Decision == v.Decision {
			return o.Raw
		}
	}
	return ""
}

// Synthesis is the merged stage artifact persisted alongside the verdict.
type Synthesis struct {
	RunID      string          `json:"run_id"`
	Stage      string          `json:"stage"`
	Decision   string          `json:"decision,omitempty"`
	Merged     json.RawMessage `json:"merged,omitempty"`
	Outcome    Outcome         `json:"outcome"`
	Confidence Confidence      `json:"confidence"`
	Degraded   bool            `json:"degraded"`
	Missing    []string        `json:"missing,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
