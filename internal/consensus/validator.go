package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/quorum/internal/agent"
	"github.com/Iron-Ham/quorum/internal/stage"
)

// InvokerValidator asks a higher-trust agent whether a majority decision is
// consistent with the stage's intent, over the same tool-invocation boundary
// the orchestrator uses.
type InvokerValidator struct {
	Invoker agent.Invoker
	// Agent is the validator identity, e.g. "gpt".
	Agent   string
	Timeout time.Duration
}

// validatorReply is the JSON document the validator agent must return.
type validatorReply struct {
	Consistent bool   `json:"consistent"`
	Rationale  string `json:"rationale"`
}

// Confirm implements Validator.
func (v *InvokerValidator) Confirm(ctx context.Context, st stage.Stage, decision string, outputs []AgentOutput) (bool, error) {
	prompt := buildValidationPrompt(st, decision, outputs)

	out, err := v.Invoker.Invoke(ctx, v.Agent, prompt, v.Timeout)
	if err != nil {
		return false, fmt.Errorf("validator invocation failed: %w", err)
	}

	var reply validatorReply
	if err := json.Unmarshal([]byte(out), &reply); err != nil {
		return false, fmt.Errorf("failed to parse validator reply: %w", err)
	}
	return reply.Consistent, nil
}

func buildValidationPrompt(st stage.Stage, decision string, outputs []AgentOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Stage: %s\n", st)
	fmt.Fprintf(&sb, "Majority decision (%s): %s\n\n", stage.DecisionField(st), decision)
	sb.WriteString("Per-agent outputs:\n")
	for _, o := range outputs {
		fmt.Fprintf(&sb, "--- %s ---\n%s\n", o.Agent, o.Raw)
	}
	sb.WriteString("\nIs the majority decision consistent with the stage's stated intent? ")
	sb.WriteString(`Reply with JSON: {"consistent": true|false, "rationale": "..."}`)
	return sb.String()
}
