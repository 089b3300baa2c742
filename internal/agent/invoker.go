package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/Iron-Ham/quorum/internal/logging"
)

// Invoker is the tool-invocation boundary to an external reasoning agent.
// The wire format behind it is opaque; implementations must be idempotent-safe
// to retry. The connection behind an Invoker is a shared, pooled resource
// whose lifecycle is owned by the host process: orchestrators receive an
// Invoker as a dependency and never construct transports themselves.
type Invoker interface {
	// Invoke sends a prompt to the identified agent and blocks until the raw
	// output is available, the timeout elapses, or ctx is cancelled.
	Invoke(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
	return f(ctx, identity, prompt, timeout)
}

// ErrNoOutput is returned when an agent completes without producing output.
var ErrNoOutput = errors.New("agent returned no output")

// SubprocessInvoker reaches agents by running a command per invocation with
// the prompt on stdin. The command receives the agent identity as its final
// argument.
type SubprocessInvoker struct {
	// Command is the executable and fixed leading arguments.
	Command []string
}

// Invoke runs the configured command and returns its stdout.
func (s *SubprocessInvoker) Invoke(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
	if len(s.Command) == 0 {
		return "", errors.New("subprocess invoker has no command configured")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append(append([]string{}, s.Command[1:]...), identity)
	cmd := exec.CommandContext(ctx, s.Command[0], args...)
	cmd.Stdin = bytes.NewBufferString(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("agent %s timed out after %s", identity, timeout)
		}
		return "", fmt.Errorf("agent %s subprocess failed: %w (stderr: %s)", identity, err, stderr.String())
	}

	out := stdout.String()
	if out == "" {
		return "", ErrNoOutput
	}
	return out, nil
}

// NativeInvoker reaches each agent through its own CLI: the identity names
// the executable, extra args are fixed, and the prompt goes to stdin. This
// is the direct path; deployments without the agent CLIs installed use
// SubprocessInvoker with a bridge command instead.
type NativeInvoker struct {
	// Args are fixed arguments passed to every agent executable.
	Args []string
}

// Invoke runs the identity's executable and returns its stdout.
func (n *NativeInvoker) Invoke(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
	if identity == "" {
		return "", errors.New("native invoker requires an agent identity")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, identity, n.Args...)
	cmd.Stdin = bytes.NewBufferString(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("agent %s timed out after %s", identity, timeout)
		}
		return "", fmt.Errorf("agent %s failed: %w (stderr: %s)", identity, err, stderr.String())
	}

	out := stdout.String()
	if out == "" {
		return "", ErrNoOutput
	}
	return out, nil
}

// FallbackInvoker tries a native (in-process) invoker first and falls back
// to a subprocess invoker when the native path fails. The two paths present
// the same interface so callers cannot tell which one served a request.
type FallbackInvoker struct {
	Native     Invoker
	Subprocess Invoker
	Logger     *logging.Logger
}

// NewFallbackInvoker builds a FallbackInvoker. A nil logger disables logging.
func NewFallbackInvoker(native, subprocess Invoker, logger *logging.Logger) *FallbackInvoker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &FallbackInvoker{Native: native, Subprocess: subprocess, Logger: logger}
}

// Invoke attempts the native path, then transparently retries the subprocess
// path on native failure. Context cancellation is not treated as a native
// failure: it propagates immediately.
func (f *FallbackInvoker) Invoke(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
	if f.Native != nil {
		out, err := f.Native.Invoke(ctx, identity, prompt, timeout)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		f.Logger.Warn("native invoker failed, falling back to subprocess",
			"agent", identity,
			"error", err,
		)
	}

	if f.Subprocess == nil {
		return "", errors.New("no subprocess invoker available for fallback")
	}
	return f.Subprocess.Invoke(ctx, identity, prompt, timeout)
}
