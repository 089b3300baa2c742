// Package evidence persists durable, crash-safe records of agent outputs and
// consensus verdicts. Each work item owns a directory tree under the store's
// base directory; within it, every run id gets its own subdirectory so a new
// run never overwrites another run's records.
//
// Records are JSON envelopes written atomically (write-temp-then-rename) with
// a SHA-256 integrity digest over the payload. Writes take a per-work-item
// advisory lock released on all exit paths; reads never take the lock.
package evidence

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/Iron-Ham/quorum/internal/stage"
)

// Kind distinguishes the record kinds written per run.
type Kind string

const (
	// KindSynthesis holds the merged output plus verdict metadata.
	KindSynthesis Kind = "synthesis"
	// KindVerdict holds the per-agent raw outputs and degraded/missing flags.
	KindVerdict Kind = "verdict"
	// KindCheckpoint holds one quality-gate result, keyed by checkpoint.
	KindCheckpoint Kind = "checkpoint"
)

// ErrRecordExists indicates a record was already written for the same
// (run id, stage, kind). Records are written exactly once and never edited.
var ErrRecordExists = fmt.Errorf("evidence record already exists")

// ErrRecordNotFound indicates no record exists for the requested key.
var ErrRecordNotFound = fmt.Errorf("evidence record not found")

// ErrDigestMismatch indicates a record's payload does not match its digest.
var ErrDigestMismatch = fmt.Errorf("evidence record digest mismatch")

// Record is the durable envelope around one persisted payload.
type Record struct {
	WorkItem   string          `json:"work_item"`
	RunID      string          `json:"run_id"`
	Stage      string          `json:"stage"`
	Checkpoint string          `json:"checkpoint,omitempty"`
	Kind       Kind            `json:"kind"`
	CreatedAt  time.Time       `json:"created_at"`
	Digest     string          `json:"digest"` // hex SHA-256 of Payload
	Payload    json.RawMessage `json:"payload"`
}

// Store owns all on-disk evidence for every work item. No other component
// touches the evidence tree directly; audits go through the query surface.
type Store struct {
	baseDir string
	logger  *logging.Logger
	locks   *lockRegistry
}

// NewStore creates the base directory if needed and returns a Store.
func NewStore(baseDir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence dir: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		logger:  logger,
		locks:   newLockRegistry(),
	}, nil
}

// BaseDir returns the root of the evidence tree.
func (s *Store) BaseDir() string { return s.baseDir }

// runDir returns the directory holding one run's records.
func (s *Store) runDir(workItem, runID string) string {
	return filepath.Join(s.baseDir, workItem, runID)
}

// recordPath returns the on-disk path for a (run id, stage, kind) record,
// e.g. <base>/<workItem>/<runID>/plan_synthesis.json.
func (s *Store) recordPath(workItem, runID string, st stage.Stage, kind Kind) string {
	return filepath.Join(s.runDir(workItem, runID), fmt.Sprintf("%s_%s.json", st, kind))
}

// Write persists one record for (run id, stage, kind). The payload is
// marshaled to JSON and wrapped in an envelope carrying its digest. Writing
// the same key twice returns ErrRecordExists.
func (s *Store) Write(workItem, runID string, st stage.Stage, kind Kind, payload any) (*Record, error) {
	s.locks.acquire(runID, workItem)
	defer func() {
		if err := s.locks.release(workItem); err != nil {
			s.logger.Warn("evidence lock release failed", "work_item", workItem, "error", err)
		}
	}()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence payload: %w", err)
	}

	rec := &Record{
		WorkItem:  workItem,
		RunID:     runID,
		Stage:     st.String(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
		Digest:    digest(raw),
		Payload:   raw,
	}

	path := s.recordPath(workItem, runID, st, kind)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordExists, path)
	}

	if err := s.writeAtomic(path, rec); err != nil {
		return nil, err
	}

	s.logger.Debug("evidence record written",
		"work_item", workItem,
		"run_id", runID,
		"stage", st.String(),
		"kind", string(kind),
	)
	return rec, nil
}

// Read loads one record and verifies its integrity digest.
func (s *Store) Read(workItem, runID string, st stage.Stage, kind Kind) (*Record, error) {
	path := s.recordPath(workItem, runID, st, kind)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, path)
		}
		return nil, fmt.Errorf("failed to read evidence record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse evidence record %s: %w", path, err)
	}
	if digest(rec.Payload) != rec.Digest {
		return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, path)
	}
	return &rec, nil
}

// checkpointPath returns the on-disk path for a checkpoint record, e.g.
// <base>/<workItem>/<runID>/checkpoint_after-specify.json. Checkpoint names
// are unique across the pipeline, so the path needs no stage component.
func (s *Store) checkpointPath(workItem, runID string, cp stage.Checkpoint) string {
	return filepath.Join(s.runDir(workItem, runID), fmt.Sprintf("checkpoint_%s.json", cp))
}

// WriteCheckpoint persists one quality-gate result. Unlike stage records a
// checkpoint may legitimately run again on a replayed stage, so a later
// write replaces the earlier record; the latest gate outcome is the one
// recovery honors.
func (s *Store) WriteCheckpoint(workItem, runID string, owner stage.Stage, cp stage.Checkpoint, payload any) (*Record, error) {
	s.locks.acquire(runID, workItem)
	defer func() {
		if err := s.locks.release(workItem); err != nil {
			s.logger.Warn("evidence lock release failed", "work_item", workItem, "error", err)
		}
	}()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint payload: %w", err)
	}

	rec := &Record{
		WorkItem:   workItem,
		RunID:      runID,
		Stage:      owner.String(),
		Checkpoint: cp.String(),
		Kind:       KindCheckpoint,
		CreatedAt:  time.Now().UTC(),
		Digest:     digest(raw),
		Payload:    raw,
	}

	if err := s.writeAtomic(s.checkpointPath(workItem, runID, cp), rec); err != nil {
		return nil, err
	}

	s.logger.Debug("checkpoint record written",
		"work_item", workItem,
		"run_id", runID,
		"checkpoint", cp.String(),
	)
	return rec, nil
}

// ReadCheckpoint loads a checkpoint record and verifies its digest.
func (s *Store) ReadCheckpoint(workItem, runID string, cp stage.Checkpoint) (*Record, error) {
	path := s.checkpointPath(workItem, runID, cp)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, path)
		}
		return nil, fmt.Errorf("failed to read checkpoint record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint record %s: %w", path, err)
	}
	if digest(rec.Payload) != rec.Digest {
		return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, path)
	}
	return &rec, nil
}

// UnmarshalCheckpoint reads a checkpoint record and decodes its payload.
func (s *Store) UnmarshalCheckpoint(workItem, runID string, cp stage.Checkpoint, out any) error {
	rec, err := s.ReadCheckpoint(workItem, runID, cp)
	if err != nil {
		return err
	}
	return json.Unmarshal(rec.Payload, out)
}

// Unmarshal reads a record and decodes its payload into out.
func (s *Store) Unmarshal(workItem, runID string, st stage.Stage, kind Kind, out any) error {
	rec, err := s.Read(workItem, runID, st, kind)
	if err != nil {
		return err
	}
	return json.Unmarshal(rec.Payload, out)
}

// Runs returns the run ids recorded for a work item, sorted.
func (s *Store) Runs(workItem string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, workItem))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// RecordedStages returns the stages with a durable synthesis record for a
// run, in pipeline order. Recovery resumes after the last entry.
func (s *Store) RecordedStages(workItem, runID string) []stage.Stage {
	var recorded []stage.Stage
	for _, st := range stage.All() {
		if _, err := os.Stat(s.recordPath(workItem, runID, st, KindSynthesis)); err == nil {
			recorded = append(recorded, st)
		}
	}
	return recorded
}

// Records returns all records persisted for one run, in pipeline order with
// synthesis before verdict per stage, followed by checkpoint records.
func (s *Store) Records(workItem, runID string) ([]*Record, error) {
	var out []*Record
	for _, st := range stage.All() {
		for _, kind := range []Kind{KindSynthesis, KindVerdict} {
			rec, err := s.Read(workItem, runID, st, kind)
			if err != nil {
				if errors.Is(err, ErrRecordNotFound) {
					continue
				}
				return nil, err
			}
			out = append(out, rec)
		}
	}
	for _, cp := range stage.AllCheckpoints() {
		rec, err := s.ReadCheckpoint(workItem, runID, cp)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// WriteCostSummary rewrites the work item's cost summary document. Unlike
// evidence records the summary is replaced after every stage, so an existing
// file is not an error.
func (s *Store) WriteCostSummary(workItem string, summary any) error {
	s.locks.acquire("cost-summary", workItem)
	defer func() {
		if err := s.locks.release(workItem); err != nil {
			s.logger.Warn("evidence lock release failed", "work_item", workItem, "error", err)
		}
	}()

	path := filepath.Join(s.baseDir, workItem, "cost_summary.json")
	return s.writeAtomic(path, summary)
}

// LockedWorkItems reports work items with a writer currently holding the
// advisory lock.
func (s *Store) LockedWorkItems() []string {
	return s.locks.held()
}

// writeAtomic marshals v and writes it via a temp file in the target
// directory followed by a rename, so readers never observe a partial record.
func (s *Store) writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create record dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("failed to finalize record: %w", err)
	}
	return nil
}

// digest hashes the payload in compact JSON form so the digest is stable
// regardless of how the surrounding envelope was indented on disk.
func digest(data []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err == nil {
		data = buf.Bytes()
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
