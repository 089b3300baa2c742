package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Iron-Ham/quorum/internal/stage"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusTimedOut, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTaskSnapshot(t *testing.T) {
	started := time.Now().Add(-2 * time.Second)
	completed := time.Now()
	task := &Task{
		ID:          "task-1",
		Key:         CompletionKey{RunID: "run-1", Stage: stage.StagePlan},
		Agent:       "claude",
		Status:      StatusSucceeded,
		Output:      `{"work_breakdown": []}`,
		Attempt:     2,
		StartedAt:   started,
		CompletedAt: &completed,
	}

	snap := task.Snapshot()
	if snap.Agent != "claude" || snap.Status != StatusSucceeded {
		t.Errorf("snapshot = %+v, want agent/status preserved", snap)
	}
	if snap.Key.RunID != "run-1" || snap.Key.Stage != stage.StagePlan {
		t.Errorf("snapshot key = %+v, want run-1/plan", snap.Key)
	}
	if snap.Duration <= 0 {
		t.Errorf("snapshot duration = %v, want > 0", snap.Duration)
	}

	// Mutating the task after Snapshot must not affect the snapshot.
	task.Output = "changed"
	if snap.Output == "changed" {
		t.Error("snapshot should be immutable once taken")
	}
}

func TestFallbackInvokerPrefersNative(t *testing.T) {
	native := InvokerFunc(func(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
		return "native:" + identity, nil
	})
	subprocess := InvokerFunc(func(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
		t.Error("subprocess should not be reached when native succeeds")
		return "", nil
	})

	f := NewFallbackInvoker(native, subprocess, nil)
	out, err := f.Invoke(context.Background(), "claude", "prompt", time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "native:claude" {
		t.Errorf("out = %q, want native path", out)
	}
}

func TestFallbackInvokerFallsBackOnNativeFailure(t *testing.T) {
	native := InvokerFunc(func(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
		return "", errors.New("native transport unavailable")
	})
	subprocess := InvokerFunc(func(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
		return "subprocess:" + identity, nil
	})

	f := NewFallbackInvoker(native, subprocess, nil)
	out, err := f.Invoke(context.Background(), "gemini", "prompt", time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "subprocess:gemini" {
		t.Errorf("out = %q, want subprocess path", out)
	}
}

func TestFallbackInvokerPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	native := InvokerFunc(func(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	subprocess := InvokerFunc(func(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
		t.Error("cancellation must not trigger fallback")
		return "", nil
	})

	f := NewFallbackInvoker(native, subprocess, nil)
	if _, err := f.Invoke(ctx, "gpt", "prompt", time.Second); err == nil {
		t.Fatal("expected error after cancellation")
	}
}

func TestFallbackInvokerNoSubprocess(t *testing.T) {
	native := InvokerFunc(func(ctx context.Context, identity, prompt string, timeout time.Duration) (string, error) {
		return "", errors.New("broken")
	})

	f := NewFallbackInvoker(native, nil, nil)
	if _, err := f.Invoke(context.Background(), "claude", "prompt", time.Second); err == nil {
		t.Fatal("expected error when no fallback is available")
	}
}

func TestSubprocessInvokerNoCommand(t *testing.T) {
	s := &SubprocessInvoker{}
	if _, err := s.Invoke(context.Background(), "claude", "prompt", time.Second); err == nil {
		t.Fatal("expected error for unconfigured command")
	}
}

func TestNativeInvokerRequiresIdentity(t *testing.T) {
	n := &NativeInvoker{}
	if _, err := n.Invoke(context.Background(), "", "prompt", time.Second); err == nil {
		t.Fatal("expected error for empty identity")
	}
}

func TestNativeInvokerRunsIdentityExecutable(t *testing.T) {
	// The identity names the executable; cat echoes the prompt back.
	n := &NativeInvoker{}
	out, err := n.Invoke(context.Background(), "cat", "hello agent", 5*time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "hello agent" {
		t.Errorf("out = %q, want prompt echoed", out)
	}
}

func TestNativeInvokerMissingExecutable(t *testing.T) {
	n := &NativeInvoker{}
	if _, err := n.Invoke(context.Background(), "no-such-agent-binary", "prompt", time.Second); err == nil {
		t.Fatal("expected error for missing executable")
	}
}

func TestSubprocessInvokerRunsCommand(t *testing.T) {
	// cat echoes the prompt back, exercising the stdin/stdout plumbing.
	// The identity is appended as the final argument and lands in $0.
	s := &SubprocessInvoker{Command: []string{"sh", "-c", "cat"}}
	out, err := s.Invoke(context.Background(), "claude", "hello agent", 5*time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "hello agent" {
		t.Errorf("out = %q, want prompt echoed", out)
	}
}
