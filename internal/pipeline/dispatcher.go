package pipeline

import (
	"context"

	"github.com/Iron-Ham/quorum/internal/agent"
	"github.com/Iron-Ham/quorum/internal/orchestrator"
)

// OrchestratorDispatcher adapts the non-blocking orchestrator to the quality
// engine's synchronous dispatch boundary: submit the checkpoint batch, then
// block on its handle. Checkpoint batches carry their own completion key, so
// they never mix with a concurrently polling stage batch.
type OrchestratorDispatcher struct {
	Orch *orchestrator.Orchestrator
}

// Dispatch implements quality.Dispatcher.
func (d *OrchestratorDispatcher) Dispatch(ctx context.Context, key agent.CompletionKey, agents []string, prompt string) ([]agent.Result, error) {
	handle, err := d.Orch.Dispatch(ctx, key, agents, prompt)
	if err != nil {
		return nil, err
	}
	return handle.Wait(ctx)
}
