// Package retry provides bounded-attempt retry with backoff for task
// execution.
//
// Two independently configured policies share this abstraction: the
// tool-invocation layer retries transport failures with exponential backoff,
// and the agent-execution layer retries semantic failures immediately with
// prior failure context re-injected into the prompt. The two layers retry
// different failure classes and are deliberately never merged.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy configures one retry layer.
type Policy struct {
	// MaxAttempts caps the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Zero disables
	// backoff entirely.
	InitialBackoff time.Duration

	// BackoffMultiplier scales the delay between successive retries.
	// Ignored when InitialBackoff is zero.
	BackoffMultiplier float64

	// InjectContext indicates retried subjects should carry the prior
	// failure into the next attempt's prompt so the agent can self-correct.
	InjectContext bool
}

// ToolPolicy returns the policy for the tool-invocation layer:
// 3 attempts with exponential backoff starting at 100ms, doubling.
func ToolPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

// AgentPolicy returns the policy for the agent-execution layer:
// 3 attempts with no delay and failure-context injection.
func AgentPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InjectContext: true,
	}
}

// Backoff returns the delay to wait before the given retry.
// attempt is 1-based: Backoff(1) is the delay before the second attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 || attempt < 1 {
		return 0
	}
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffMultiplier)
	}
	return d
}

// ErrExhausted is returned by Do when all attempts have been consumed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Do runs fn up to p.MaxAttempts times, sleeping the policy backoff between
// attempts. It returns nil on the first success. Permanent errors (see
// Classify) stop retries immediately. The last error is wrapped with
// ErrExhausted once the budget is consumed.
//
// fn receives the 1-based attempt number.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.Backoff(attempt - 1)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if Classify(lastErr) == ClassPermanent {
			return lastErr
		}
	}

	return errors.Join(ErrExhausted, lastErr)
}
