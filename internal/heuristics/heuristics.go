// Package heuristics is a small scored-bullet cache of lessons learned from
// past checkpoint resolutions. The quality engine consults it as an optional
// confidence boost; it carries no orchestration logic of its own.
package heuristics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bullet is one learned pattern with a usefulness score.
type Bullet struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Text       string    `json:"text"`
	Helpful    bool      `json:"helpful"`
	Confidence float64   `json:"confidence"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a JSON-file-backed bullet cache. All methods are safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	path    string
	bullets []Bullet
}

// Open loads the cache at path, creating an empty one if the file does not
// exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read heuristics file: %w", err)
	}
	if err := json.Unmarshal(data, &s.bullets); err != nil {
		return nil, fmt.Errorf("failed to parse heuristics file %s: %w", path, err)
	}
	return s, nil
}

// Lookup returns the bullets whose topic matches, most confident first.
func (s *Store) Lookup(topic string) []Bullet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topic = strings.ToLower(topic)
	var out []Bullet
	for _, b := range s.bullets {
		if strings.Contains(strings.ToLower(b.Topic), topic) || strings.Contains(topic, strings.ToLower(b.Topic)) {
			out = append(out, b)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Confidence > out[j-1].Confidence; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Record appends a bullet and persists the cache. A missing ID is filled in.
func (s *Store) Record(b Bullet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.bullets = append(s.bullets, b)
	return s.saveLocked()
}

// MarkUsed bumps a bullet's usage count and persists.
func (s *Store) MarkUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.bullets {
		if s.bullets[i].ID == id {
			s.bullets[i].UsageCount++
			return s.saveLocked()
		}
	}
	return fmt.Errorf("unknown bullet id %s", id)
}

// Len returns the number of cached bullets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bullets)
}

// HelpfulMatch reports whether a trusted bullet relates to the issue. Only
// helpful bullets at or above 0.7 confidence count; relatedness is keyword
// overlap or topic similarity.
func (s *Store) HelpfulMatch(topic, description string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topicLower := strings.ToLower(topic)
	descLower := strings.ToLower(description)
	for _, b := range s.bullets {
		if !b.Helpful || b.Confidence < 0.7 {
			continue
		}
		text := strings.ToLower(b.Text)
		if strings.Contains(text, topicLower) {
			return true
		}
		if len(b.Text) > 20 && len(description) > 20 && similarTopics(text, descLower) {
			return true
		}
	}
	return false
}

// similarTopics is a Jaccard word-overlap check with a 0.3 threshold.
func similarTopics(a, b string) bool {
	wordsA := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		wordsA[w] = true
	}
	wordsB := make(map[string]bool)
	for _, w := range strings.Fields(b) {
		wordsB[w] = true
	}
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return false
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return union > 0 && float64(intersection)/float64(union) > 0.3
}

// saveLocked atomically rewrites the backing file. Caller holds the lock.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.bullets, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal heuristics: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create heuristics dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-heuristics-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("failed to write heuristics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("failed to close heuristics: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("failed to finalize heuristics: %w", err)
	}
	return nil
}
