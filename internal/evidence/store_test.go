package evidence

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/quorum/internal/stage"
)

// newTestStore creates a Store rooted in a temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

type testPayload struct {
	Decision string `json:"decision"`
	Degraded bool   `json:"degraded"`
}

func TestWriteAndRead(t *testing.T) {
	s := newTestStore(t)

	want := testPayload{Decision: "approve", Degraded: true}
	rec, err := s.Write("QRM-042", "run-1", stage.StagePlan, KindSynthesis, want)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rec.Digest == "" {
		t.Error("record digest should be populated")
	}
	if rec.Stage != "plan" || rec.Kind != KindSynthesis {
		t.Errorf("record key = %s/%s, want plan/synthesis", rec.Stage, rec.Kind)
	}

	var got testPayload
	if err := s.Unmarshal("QRM-042", "run-1", stage.StagePlan, KindSynthesis, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
}

func TestWriteSameKeyTwiceFails(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write("QRM-042", "run-1", stage.StagePlan, KindVerdict, testPayload{}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	_, err := s.Write("QRM-042", "run-1", stage.StagePlan, KindVerdict, testPayload{})
	if !errors.Is(err, ErrRecordExists) {
		t.Errorf("second write err = %v, want ErrRecordExists", err)
	}
}

func TestNewRunNeverOverwrites(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write("QRM-042", "run-1", stage.StagePlan, KindSynthesis, testPayload{Decision: "first"}); err != nil {
		t.Fatalf("run-1 write failed: %v", err)
	}
	if _, err := s.Write("QRM-042", "run-2", stage.StagePlan, KindSynthesis, testPayload{Decision: "second"}); err != nil {
		t.Fatalf("run-2 write failed: %v", err)
	}

	var first testPayload
	if err := s.Unmarshal("QRM-042", "run-1", stage.StagePlan, KindSynthesis, &first); err != nil {
		t.Fatalf("run-1 read failed: %v", err)
	}
	if first.Decision != "first" {
		t.Errorf("run-1 payload = %+v, want original decision", first)
	}

	runs, err := s.Runs("QRM-042")
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 || runs[0] != "run-1" || runs[1] != "run-2" {
		t.Errorf("Runs = %v, want [run-1 run-2]", runs)
	}
}

func TestReadMissingRecord(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("QRM-042", "run-1", stage.StageAudit, KindVerdict)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestReadDetectsCorruption(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write("QRM-042", "run-1", stage.StagePlan, KindSynthesis, testPayload{Decision: "approve"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Tamper with the payload without updating the digest.
	path := s.recordPath("QRM-042", "run-1", stage.StagePlan, KindSynthesis)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	tampered := strings.Replace(string(data), "approve", "rejectx", 1)
	if tampered == string(data) {
		t.Fatal("tamper had no effect")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("tamper write failed: %v", err)
	}

	if _, err := s.Read("QRM-042", "run-1", stage.StagePlan, KindSynthesis); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("err = %v, want ErrDigestMismatch", err)
	}
}

func TestRecordedStages(t *testing.T) {
	s := newTestStore(t)

	for _, st := range []stage.Stage{stage.StagePlan, stage.StageTasks} {
		if _, err := s.Write("QRM-042", "run-1", st, KindSynthesis, testPayload{}); err != nil {
			t.Fatalf("write %s failed: %v", st, err)
		}
	}
	// A verdict alone does not count as a durable stage.
	if _, err := s.Write("QRM-042", "run-1", stage.StageImplement, KindVerdict, testPayload{}); err != nil {
		t.Fatalf("write verdict failed: %v", err)
	}

	got := s.RecordedStages("QRM-042", "run-1")
	if len(got) != 2 || got[0] != stage.StagePlan || got[1] != stage.StageTasks {
		t.Errorf("RecordedStages = %v, want [plan tasks]", got)
	}
}

func TestRecordsOrdering(t *testing.T) {
	s := newTestStore(t)

	// Write out of order; Records must come back in pipeline order.
	if _, err := s.Write("QRM-042", "run-1", stage.StageTasks, KindVerdict, testPayload{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write("QRM-042", "run-1", stage.StagePlan, KindSynthesis, testPayload{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write("QRM-042", "run-1", stage.StagePlan, KindVerdict, testPayload{}); err != nil {
		t.Fatal(err)
	}

	recs, err := s.Records("QRM-042", "run-1")
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(recs))
	}
	wantKeys := []string{"plan/synthesis", "plan/verdict", "tasks/verdict"}
	for i, rec := range recs {
		key := rec.Stage + "/" + string(rec.Kind)
		if key != wantKeys[i] {
			t.Errorf("record[%d] = %s, want %s", i, key, wantKeys[i])
		}
	}
}

func TestWriteCostSummaryRewrites(t *testing.T) {
	s := newTestStore(t)

	if err := s.WriteCostSummary("QRM-042", map[string]any{"total": 1.5}); err != nil {
		t.Fatalf("first summary write failed: %v", err)
	}
	if err := s.WriteCostSummary("QRM-042", map[string]any{"total": 3.0}); err != nil {
		t.Fatalf("second summary write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.BaseDir(), "QRM-042", "cost_summary.json"))
	if err != nil {
		t.Fatalf("read summary failed: %v", err)
	}
	var summary map[string]float64
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("parse summary failed: %v", err)
	}
	if summary["total"] != 3.0 {
		t.Errorf("total = %v, want rewritten value 3.0", summary["total"])
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write("QRM-042", "run-1", stage.StagePlan, KindSynthesis, testPayload{}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.BaseDir(), "QRM-042", "run-1"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestConcurrentWritersSerialize(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, len(stage.All()))
	for _, st := range stage.All() {
		wg.Add(1)
		go func(st stage.Stage) {
			defer wg.Done()
			if _, err := s.Write("QRM-042", "run-1", st, KindSynthesis, testPayload{Decision: st.String()}); err != nil {
				errs <- err
			}
		}(st)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write failed: %v", err)
	}

	if got := s.RecordedStages("QRM-042", "run-1"); len(got) != len(stage.All()) {
		t.Errorf("RecordedStages = %v, want all stages", got)
	}
	if held := s.LockedWorkItems(); len(held) != 0 {
		t.Errorf("locks still held after writes: %v", held)
	}
}

func TestLockRegistryRelease(t *testing.T) {
	r := newLockRegistry()
	r.acquire("run-1", "QRM-042")
	if held := r.held(); len(held) != 1 || held[0] != "QRM-042" {
		t.Errorf("held = %v, want [QRM-042]", held)
	}
	if err := r.release("QRM-042"); err != nil {
		t.Errorf("release failed: %v", err)
	}
	if err := r.release("QRM-042"); !errors.Is(err, ErrNotLocked) {
		t.Errorf("double release err = %v, want ErrNotLocked", err)
	}
}

func TestCheckpointWriteAndRead(t *testing.T) {
	s := newTestStore(t)

	want := testPayload{Decision: "awaiting-human"}
	rec, err := s.WriteCheckpoint("QRM-042", "run-1", stage.StagePlan, stage.CheckpointAfterSpecify, want)
	if err != nil {
		t.Fatalf("WriteCheckpoint failed: %v", err)
	}
	if rec.Kind != KindCheckpoint || rec.Checkpoint != "after-specify" || rec.Stage != "plan" {
		t.Errorf("record key = %s/%s/%s, want plan/after-specify/checkpoint", rec.Stage, rec.Checkpoint, rec.Kind)
	}

	got, err := s.ReadCheckpoint("QRM-042", "run-1", stage.CheckpointAfterSpecify)
	if err != nil {
		t.Fatalf("ReadCheckpoint failed: %v", err)
	}
	if got.Digest != rec.Digest {
		t.Errorf("digest = %s, want %s", got.Digest, rec.Digest)
	}

	var payload testPayload
	if err := s.UnmarshalCheckpoint("QRM-042", "run-1", stage.CheckpointAfterSpecify, &payload); err != nil {
		t.Fatalf("UnmarshalCheckpoint failed: %v", err)
	}
	if payload != want {
		t.Errorf("payload = %+v, want %+v", payload, want)
	}
}

func TestCheckpointRewriteReplaces(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.WriteCheckpoint("QRM-042", "run-1", stage.StagePlan, stage.CheckpointBeforeSpecify, testPayload{Decision: "awaiting-human"}); err != nil {
		t.Fatalf("first WriteCheckpoint failed: %v", err)
	}
	if _, err := s.WriteCheckpoint("QRM-042", "run-1", stage.StagePlan, stage.CheckpointBeforeSpecify, testPayload{Decision: "auto-applied"}); err != nil {
		t.Fatalf("second WriteCheckpoint failed: %v", err)
	}

	var got testPayload
	if err := s.UnmarshalCheckpoint("QRM-042", "run-1", stage.CheckpointBeforeSpecify, &got); err != nil {
		t.Fatalf("UnmarshalCheckpoint failed: %v", err)
	}
	if got.Decision != "auto-applied" {
		t.Errorf("decision = %s, want the replacing record", got.Decision)
	}
}

func TestCheckpointMissingRecord(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ReadCheckpoint("QRM-042", "run-1", stage.CheckpointAfterTasks); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestRecordsIncludeCheckpoints(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Write("QRM-042", "run-1", stage.StagePlan, KindSynthesis, testPayload{Decision: "plan"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := s.WriteCheckpoint("QRM-042", "run-1", stage.StagePlan, stage.CheckpointAfterSpecify, testPayload{Decision: "clean"}); err != nil {
		t.Fatalf("WriteCheckpoint failed: %v", err)
	}

	recs, err := s.Records("QRM-042", "run-1")
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[1].Kind != KindCheckpoint {
		t.Errorf("last record kind = %s, want checkpoint", recs[1].Kind)
	}
}
