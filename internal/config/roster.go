package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/quorum/internal/stage"
)

// Roster maps each stage to the agent identities expected to participate.
// An empty or partial roster is a configuration error reported before
// dispatch, never a runtime crash.
type Roster struct {
	// Stages maps stage command name to its required agent identities.
	Stages map[string][]string `yaml:"stages"`
	// Validators maps checkpoint name to the agent identities that run
	// quality-gate checks there. Missing checkpoints reuse the owning
	// stage's roster.
	Validators map[string][]string `yaml:"validators,omitempty"`
}

// DefaultRoster returns a roster built from the stage package's default
// tables.
func DefaultRoster() *Roster {
	stages := make(map[string][]string, len(stage.All()))
	for _, s := range stage.All() {
		agents := make([]string, len(stage.DefaultRoster[s]))
		copy(agents, stage.DefaultRoster[s])
		stages[s.String()] = agents
	}
	return &Roster{Stages: stages}
}

// LoadRoster reads and validates a roster YAML file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}

	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("failed to parse roster file %s: %w", path, err)
	}

	if errs := roster.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &roster, nil
}

// AgentsFor returns the agent identities required for a stage.
func (r *Roster) AgentsFor(s stage.Stage) []string {
	agents := r.Stages[s.String()]
	out := make([]string, len(agents))
	copy(out, agents)
	return out
}

// ValidatorsFor returns the agent identities that run a quality checkpoint.
// Falls back to the owning stage's roster when no override is configured.
func (r *Roster) ValidatorsFor(c stage.Checkpoint, owner stage.Stage) []string {
	if agents, ok := r.Validators[c.String()]; ok && len(agents) > 0 {
		out := make([]string, len(agents))
		copy(out, agents)
		return out
	}
	return r.AgentsFor(owner)
}

// Validate checks the roster covers every stage with 3-4 distinct agents.
func (r *Roster) Validate() []ValidationError {
	var errs []ValidationError

	if len(r.Stages) == 0 {
		return []ValidationError{{
			Field:   "roster.stages",
			Value:   nil,
			Message: "roster is empty",
		}}
	}

	for name := range r.Stages {
		if _, err := stage.Parse(name); err != nil {
			errs = append(errs, ValidationError{
				Field:   "roster.stages",
				Value:   name,
				Message: "unknown stage",
			})
		}
	}

	for _, s := range stage.All() {
		agents, ok := r.Stages[s.String()]
		if !ok {
			errs = append(errs, ValidationError{
				Field:   "roster.stages." + s.String(),
				Value:   nil,
				Message: "stage missing from roster",
			})
			continue
		}
		if len(agents) < 3 || len(agents) > 4 {
			errs = append(errs, ValidationError{
				Field:   "roster.stages." + s.String(),
				Value:   len(agents),
				Message: "stage requires 3-4 agent identities",
			})
		}
		seen := make(map[string]bool, len(agents))
		for _, a := range agents {
			if a == "" {
				errs = append(errs, ValidationError{
					Field:   "roster.stages." + s.String(),
					Value:   a,
					Message: "agent identity must not be empty",
				})
				continue
			}
			if seen[a] {
				errs = append(errs, ValidationError{
					Field:   "roster.stages." + s.String(),
					Value:   a,
					Message: "agent identities must be distinct",
				})
			}
			seen[a] = true
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}
