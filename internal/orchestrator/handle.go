package orchestrator

import (
	"context"
	"sync"

	"github.com/Iron-Ham/quorum/internal/agent"
)

// TaskSetHandle tracks one dispatched batch of agent tasks. Dispatch returns
// it immediately; completion is signaled exactly once, either when every
// task reaches a terminal status or when the stage deadline forces a
// degraded completion.
type TaskSetHandle struct {
	key agent.CompletionKey

	once sync.Once
	done chan struct{}

	mu       sync.Mutex
	results  []agent.Result
	degraded bool
}

func newHandle(key agent.CompletionKey) *TaskSetHandle {
	return &TaskSetHandle{
		key:  key,
		done: make(chan struct{}),
	}
}

// Key returns the (run id, stage, checkpoint) identity of this batch.
func (h *TaskSetHandle) Key() agent.CompletionKey { return h.key }

// Done is closed exactly once when the batch completes.
func (h *TaskSetHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the batch completes or the context is cancelled. The
// returned results cover only tasks belonging to this batch's key.
func (h *TaskSetHandle) Wait(ctx context.Context) ([]agent.Result, error) {
	select {
	case <-h.done:
		return h.Results(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Results returns the final result snapshots. Empty before completion.
func (h *TaskSetHandle) Results() []agent.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]agent.Result, len(h.results))
	copy(out, h.results)
	return out
}

// Degraded reports whether completion was forced by the stage deadline
// with some tasks still non-terminal.
func (h *TaskSetHandle) Degraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.degraded
}

// complete records the final results and closes done. Safe to call more
// than once; only the first call wins.
func (h *TaskSetHandle) complete(results []agent.Result, degraded bool) {
	h.once.Do(func() {
		h.mu.Lock()
		h.results = results
		h.degraded = degraded
		h.mu.Unlock()
		close(h.done)
	})
}
