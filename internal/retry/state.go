package retry

import (
	"sync"
)

// State tracks retry attempts for a single subject (one agent dispatch or
// one tool call). It is discarded once the subject terminates.
type State struct {
	SubjectID string `json:"subject_id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Succeeded bool   `json:"succeeded,omitempty"`
}

// Manager manages retry state for subjects under one policy.
// It is thread-safe and can be used concurrently.
type Manager struct {
	mu     sync.RWMutex
	policy Policy
	states map[string]*State
}

// NewManager creates a retry manager for the given policy.
func NewManager(policy Policy) *Manager {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Manager{
		policy: policy,
		states: make(map[string]*State),
	}
}

// Policy returns the policy this manager enforces.
func (m *Manager) Policy() Policy {
	return m.policy
}

// GetOrCreateState returns or creates retry state for a subject.
func (m *Manager) GetOrCreateState(subjectID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[subjectID]
	if !exists {
		state = &State{SubjectID: subjectID}
		m.states[subjectID] = state
	}
	return state
}

// GetState returns the retry state for a subject, or nil if not found.
func (m *Manager) GetState(subjectID string) *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[subjectID]
}

// ShouldRetry reports whether a subject has retry budget remaining.
// A subject that has never been recorded should be attempted, not retried,
// so ShouldRetry returns false for unknown subjects.
func (m *Manager) ShouldRetry(subjectID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[subjectID]
	if !exists {
		return false
	}
	return !state.Succeeded && state.Attempts < m.policy.MaxAttempts
}

// RecordAttempt records the outcome of one attempt. A nil err marks the
// subject succeeded; no more retries will be allowed for it.
func (m *Manager) RecordAttempt(subjectID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[subjectID]
	if !exists {
		state = &State{SubjectID: subjectID}
		m.states[subjectID] = state
	}

	state.Attempts++
	if err == nil {
		state.Succeeded = true
		state.LastError = ""
	} else {
		state.LastError = err.Error()
	}
}

// Exhausted reports whether a subject has consumed its full attempt budget
// without succeeding.
func (m *Manager) Exhausted(subjectID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[subjectID]
	if !exists {
		return false
	}
	return !state.Succeeded && state.Attempts >= m.policy.MaxAttempts
}

// FailedSubjects returns the IDs of all subjects that exhausted their
// retries without succeeding.
func (m *Manager) FailedSubjects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var failed []string
	for id, state := range m.states {
		if !state.Succeeded && state.Attempts >= m.policy.MaxAttempts {
			failed = append(failed, id)
		}
	}
	return failed
}

// Reset clears the retry state for a subject.
func (m *Manager) Reset(subjectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, subjectID)
}
