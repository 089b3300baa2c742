package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/quorum/internal/stage"
)

const validRosterYAML = `stages:
  plan: [gemini, claude, gpt]
  tasks: [gemini, claude, gpt]
  implement: [gemini, claude, gpt-codex, gpt]
  validate: [gemini, claude, gpt]
  audit: [gemini, claude, gpt]
  unlock: [gemini, claude, gpt]
validators:
  after-specify: [claude, gpt, gemini]
`

// writeRoster writes content to a roster file in a temp dir and returns its path.
func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write roster: %v", err)
	}
	return path
}

func TestDefaultRosterValid(t *testing.T) {
	r := DefaultRoster()
	if errs := r.Validate(); len(errs) > 0 {
		t.Errorf("default roster should validate, got: %v", ValidationErrors(errs))
	}
	if got := len(r.AgentsFor(stage.StageImplement)); got != 4 {
		t.Errorf("implement roster size = %d, want 4", got)
	}
	if got := len(r.AgentsFor(stage.StagePlan)); got != 3 {
		t.Errorf("plan roster size = %d, want 3", got)
	}
}

func TestLoadRoster(t *testing.T) {
	path := writeRoster(t, validRosterYAML)

	r, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}

	agents := r.AgentsFor(stage.StageImplement)
	if len(agents) != 4 {
		t.Errorf("implement agents = %v, want 4 identities", agents)
	}
}

func TestLoadRosterMissingFile(t *testing.T) {
	if _, err := LoadRoster(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRosterMalformedYAML(t *testing.T) {
	path := writeRoster(t, "stages: [this is not\n  a map\n")
	if _, err := LoadRoster(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestRosterValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Roster)
	}{
		{
			name:   "empty roster",
			mutate: func(r *Roster) { r.Stages = nil },
		},
		{
			name:   "unknown stage",
			mutate: func(r *Roster) { r.Stages["deploy"] = []string{"a", "b", "c"} },
		},
		{
			name:   "stage missing",
			mutate: func(r *Roster) { delete(r.Stages, "audit") },
		},
		{
			name:   "too few agents",
			mutate: func(r *Roster) { r.Stages["plan"] = []string{"gemini", "claude"} },
		},
		{
			name: "too many agents",
			mutate: func(r *Roster) {
				r.Stages["plan"] = []string{"a", "b", "c", "d", "e"}
			},
		},
		{
			name:   "duplicate agents",
			mutate: func(r *Roster) { r.Stages["plan"] = []string{"gpt", "gpt", "claude"} },
		},
		{
			name:   "empty identity",
			mutate: func(r *Roster) { r.Stages["plan"] = []string{"gpt", "", "claude"} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRoster()
			tt.mutate(r)
			if errs := r.Validate(); len(errs) == 0 {
				t.Error("expected validation errors")
			}
		})
	}
}

func TestValidatorsForFallback(t *testing.T) {
	path := writeRoster(t, validRosterYAML)
	r, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}

	// Explicit override for after-specify.
	got := r.ValidatorsFor(stage.CheckpointAfterSpecify, stage.StagePlan)
	if len(got) != 3 || got[0] != "claude" {
		t.Errorf("ValidatorsFor(after-specify) = %v, want explicit override", got)
	}

	// No override for after-tasks: falls back to the owning stage.
	got = r.ValidatorsFor(stage.CheckpointAfterTasks, stage.StageTasks)
	want := r.AgentsFor(stage.StageTasks)
	if len(got) != len(want) {
		t.Errorf("ValidatorsFor(after-tasks) = %v, want stage roster %v", got, want)
	}
}

func TestAgentsForReturnsCopy(t *testing.T) {
	r := DefaultRoster()
	agents := r.AgentsFor(stage.StagePlan)
	agents[0] = "mutated"
	if r.AgentsFor(stage.StagePlan)[0] == "mutated" {
		t.Error("AgentsFor must return a defensive copy")
	}
}

func TestRosterWatcherReload(t *testing.T) {
	path := writeRoster(t, validRosterYAML)

	w, err := NewRosterWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewRosterWatcher failed: %v", err)
	}
	defer w.Stop()

	reloaded := make(chan *Roster, 1)
	w.OnChange(func(r *Roster) {
		select {
		case reloaded <- r:
		default:
		}
	})

	updated := `stages:
  plan: [alpha, beta, gamma]
  tasks: [gemini, claude, gpt]
  implement: [gemini, claude, gpt-codex, gpt]
  validate: [gemini, claude, gpt]
  audit: [gemini, claude, gpt]
  unlock: [gemini, claude, gpt]
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to rewrite roster: %v", err)
	}

	select {
	case r := <-reloaded:
		if got := r.AgentsFor(stage.StagePlan); got[0] != "alpha" {
			t.Errorf("reloaded plan roster = %v, want updated agents", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for roster reload")
	}

	if got := w.Roster().AgentsFor(stage.StagePlan); got[0] != "alpha" {
		t.Errorf("Roster() = %v, want reloaded roster", got)
	}
}

func TestRosterWatcherRejectsInvalidReload(t *testing.T) {
	path := writeRoster(t, validRosterYAML)

	w, err := NewRosterWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewRosterWatcher failed: %v", err)
	}
	defer w.Stop()

	// Two agents is below the minimum; the reload must be rejected.
	bad := `stages:
  plan: [only, two]
`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("failed to rewrite roster: %v", err)
	}

	// Give the watcher time to observe and reject the change.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := w.Roster().AgentsFor(stage.StagePlan); len(got) != 3 {
			t.Fatalf("invalid reload was applied: %v", got)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestRosterWatcherStopIdempotent(t *testing.T) {
	path := writeRoster(t, validRosterYAML)
	w, err := NewRosterWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewRosterWatcher failed: %v", err)
	}
	w.Stop()
	w.Stop()
}
