// Package orchestrator fans a stage's prompt out to its agent roster and
// tracks the tasks to completion. No push notification exists across the
// tool-invocation boundary, so a background loop polls in-flight tasks at a
// fixed interval; a stage deadline bounds the wait and forces a degraded
// completion rather than hanging on a straggler.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/quorum/internal/agent"
	"github.com/Iron-Ham/quorum/internal/cost"
	"github.com/Iron-Ham/quorum/internal/event"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/retry"
)

// Options configures an Orchestrator.
type Options struct {
	// PollInterval is how often in-flight tasks are checked. Zero uses
	// 250ms.
	PollInterval time.Duration
	// InitialPollDelay delays the first poll after dispatch.
	InitialPollDelay time.Duration
	// TaskTimeout is the per-task wall-clock deadline. Zero uses 10m.
	TaskTimeout time.Duration
	// StageTimeout bounds the whole batch. Zero uses 15m.
	StageTimeout time.Duration
	// AgentPolicy governs agent-layer retries. Zero value uses
	// retry.AgentPolicy().
	AgentPolicy retry.Policy
	// ToolPolicy governs per-invocation retries. Zero value uses
	// retry.ToolPolicy().
	ToolPolicy retry.Policy

	// Costs receives attributed spend per completed task. May be nil.
	Costs  *cost.Tracker
	Logger *logging.Logger
	Bus    *event.Bus
}

// Orchestrator dispatches agent batches and polls them to completion. It
// owns every in-flight task exclusively; once terminal, tasks are handed
// off as immutable result snapshots.
type Orchestrator struct {
	invoker agent.Invoker
	opts    Options
	logger  *logging.Logger

	// agentRetries holds per-task retry state for the agent layer; a
	// task's state is discarded once it reaches a terminal status.
	agentRetries *retry.Manager

	mu    sync.Mutex
	tasks map[string]*agent.Task // task id -> task
}

// New creates an Orchestrator over the shared tool-invocation boundary.
// The invoker's connection lifecycle is owned by the caller.
func New(invoker agent.Invoker, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 10 * time.Minute
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 15 * time.Minute
	}
	if opts.AgentPolicy.MaxAttempts == 0 {
		opts.AgentPolicy = retry.AgentPolicy()
	}
	if opts.ToolPolicy.MaxAttempts == 0 {
		opts.ToolPolicy = retry.ToolPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Orchestrator{
		invoker:      invoker,
		opts:         opts,
		logger:       logger,
		agentRetries: retry.NewManager(opts.AgentPolicy),
		tasks:        make(map[string]*agent.Task),
	}
}

// Dispatch creates one task per agent identity and returns a handle
// immediately. Completion detection is pull-based: a poller goroutine
// watches the batch and signals the handle exactly once.
func (o *Orchestrator) Dispatch(ctx context.Context, key agent.CompletionKey, agents []string, prompt string) (*TaskSetHandle, error) {
	if len(agents) == 0 {
		return nil, errors.New("cannot dispatch empty agent roster")
	}
	if o.opts.Costs != nil && o.opts.Costs.Exceeded() {
		return nil, fmt.Errorf("cost budget exhausted, refusing dispatch for stage %s", key.Stage)
	}

	handle := newHandle(key)
	ids := make([]string, 0, len(agents))

	o.mu.Lock()
	for _, identity := range agents {
		task := &agent.Task{
			ID:        uuid.NewString(),
			Key:       key,
			Agent:     identity,
			Prompt:    prompt,
			Status:    agent.StatusPending,
			StartedAt: time.Now(),
		}
		o.tasks[task.ID] = task
		ids = append(ids, task.ID)
	}
	o.mu.Unlock()

	if o.opts.Bus != nil {
		o.opts.Bus.Publish(event.NewStageDispatchedEvent(key.RunID, key.Stage.String(), key.Checkpoint.String(), agents))
	}
	o.logger.WithRun(key.RunID).Info("stage dispatched",
		"stage", key.Stage.String(),
		"checkpoint", key.Checkpoint.String(),
		"agents", len(agents),
	)

	for _, id := range ids {
		go o.runTask(ctx, id)
	}
	go o.poll(ctx, handle, ids)

	return handle, nil
}

// Results returns terminal result snapshots filtered strictly by key. Late
// completions from another batch never leak in, so a stale agent finishing
// during this batch's window cannot satisfy its completion check.
func (o *Orchestrator) Results(key agent.CompletionKey) []agent.Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []agent.Result
	for _, t := range o.tasks {
		if t.Key == key && t.Status.Terminal() {
			out = append(out, t.Snapshot())
		}
	}
	return out
}

// runTask drives one task through the agent-layer retry loop until it
// reaches a terminal status. Attempt accounting lives in the retry manager;
// its state for the task is discarded once the task is terminal.
func (o *Orchestrator) runTask(ctx context.Context, taskID string) {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return
	}
	key, identity, basePrompt := task.Key, task.Agent, task.Prompt
	o.mu.Unlock()

	log := o.logger.WithRun(key.RunID).WithAgent(identity)
	prompt := basePrompt
	defer o.agentRetries.Reset(taskID)

	for {
		attempt := o.agentRetries.GetOrCreateState(taskID).Attempts + 1
		o.setAttempt(taskID, attempt)

		taskCtx, cancel := context.WithTimeout(ctx, o.opts.TaskTimeout)
		output, err := o.invokeWithToolRetry(taskCtx, identity, prompt)
		expired := taskCtx.Err() == context.DeadlineExceeded
		cancel()

		o.agentRetries.RecordAttempt(taskID, err)
		if err == nil {
			o.finishTask(taskID, agent.StatusSucceeded, output, nil)
			return
		}

		// A per-task deadline expiry is terminal; siblings keep running.
		if expired || errors.Is(err, context.DeadlineExceeded) {
			o.finishTask(taskID, agent.StatusTimedOut, "", err)
			return
		}
		if ctx.Err() != nil {
			o.finishTask(taskID, agent.StatusFailed, "", ctx.Err())
			return
		}
		if !o.agentRetries.ShouldRetry(taskID) {
			break
		}

		log.Warn("agent attempt failed, retrying",
			"stage", key.Stage.String(),
			"attempt", attempt,
			"error", err,
		)
		if o.opts.Bus != nil {
			o.opts.Bus.Publish(event.NewAgentRetryEvent(key.RunID, key.Stage.String(), identity, attempt+1))
		}
		if o.opts.AgentPolicy.InjectContext {
			prompt = injectFailureContext(basePrompt, attempt, o.agentRetries.GetOrCreateState(taskID).LastError)
		}
	}

	state := o.agentRetries.GetOrCreateState(taskID)
	o.finishTask(taskID, agent.StatusFailed, "", fmt.Errorf("%w after %d attempts: %s",
		retry.ErrExhausted, state.Attempts, state.LastError))
}

// invokeWithToolRetry wraps one external call in the tool-layer policy.
func (o *Orchestrator) invokeWithToolRetry(ctx context.Context, identity, prompt string) (string, error) {
	var output string
	err := retry.Do(ctx, o.opts.ToolPolicy, func(int) error {
		out, err := o.invoker.Invoke(ctx, identity, prompt, o.opts.TaskTimeout)
		if err != nil {
			return err
		}
		output = out
		return nil
	})
	return output, err
}

func (o *Orchestrator) setAttempt(taskID string, attempt int) {
	o.mu.Lock()
	if task, ok := o.tasks[taskID]; ok {
		task.Attempt = attempt
	}
	o.mu.Unlock()
}

// finishTask marks a task terminal, attributes its cost, and publishes the
// terminal event.
func (o *Orchestrator) finishTask(taskID string, status agent.Status, output string, err error) {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok || task.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	now := time.Now()
	task.Status = status
	task.Output = output
	task.CompletedAt = &now
	if err != nil {
		task.Err = err.Error()
	}
	key, identity, prompt := task.Key, task.Agent, task.Prompt
	o.mu.Unlock()

	if o.opts.Costs != nil && status == agent.StatusSucceeded {
		if alert := o.opts.Costs.RecordCall(key.Stage, identity, estimateTokens(prompt), estimateTokens(output)); alert != nil {
			o.logger.Warn("budget alert",
				"work_item", alert.WorkItem,
				"spent", alert.Spent,
				"budget", alert.Budget,
			)
		}
	}
	if o.opts.Bus != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		o.opts.Bus.Publish(event.NewAgentTerminalEvent(key.RunID, key.Stage.String(), identity, string(status), errMsg))
	}
	o.logger.WithRun(key.RunID).WithAgent(identity).Debug("task terminal",
		"stage", key.Stage.String(),
		"status", string(status),
	)
}

// poll watches the batch until every task is terminal or the stage deadline
// elapses, then signals the handle exactly once.
func (o *Orchestrator) poll(ctx context.Context, handle *TaskSetHandle, ids []string) {
	if o.opts.InitialPollDelay > 0 {
		select {
		case <-time.After(o.opts.InitialPollDelay):
		case <-ctx.Done():
		}
	}

	deadline := time.NewTimer(o.opts.StageTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		if results, done := o.snapshotBatch(ids, true); done {
			handle.complete(results, false)
			return
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			// Proceed in degraded mode with whatever is terminal;
			// stragglers are reported as missing downstream.
			results, _ := o.snapshotBatch(ids, false)
			o.logger.WithRun(handle.key.RunID).Warn("stage deadline elapsed, completing degraded",
				"stage", handle.key.Stage.String(),
				"terminal", len(results),
				"expected", len(ids),
			)
			handle.complete(results, true)
			return
		case <-ctx.Done():
			results, _ := o.snapshotBatch(ids, false)
			handle.complete(results, true)
			return
		}
	}
}

// snapshotBatch collects terminal snapshots for exactly the given task ids.
// With requireAll, done is true only when every task is terminal.
func (o *Orchestrator) snapshotBatch(ids []string, requireAll bool) ([]agent.Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var results []agent.Result
	for _, id := range ids {
		task, ok := o.tasks[id]
		if !ok {
			continue
		}
		if task.Status.Terminal() {
			results = append(results, task.Snapshot())
		} else if requireAll {
			return nil, false
		}
	}
	return results, true
}

// injectFailureContext rewrites the retried prompt so the agent can see
// what went wrong last time and self-correct.
func injectFailureContext(base string, attempt int, lastError string) string {
	return fmt.Sprintf("%s\n\n[Retry %d] The previous attempt failed with: %s\nAddress the failure and respond again.", base, attempt, lastError)
}

// estimateTokens approximates token counts from text length when the
// boundary does not report usage.
func estimateTokens(text string) uint64 {
	return uint64(len(text)) / 4
}
