package heuristics

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "heuristics.json"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestRecordPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heuristics.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Record(Bullet{Topic: "ambiguity", Text: "prefer explicit task counts", Helpful: true, Confidence: 0.9}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Len() != 1 {
		t.Fatalf("Len after reopen = %d, want 1", reopened.Len())
	}
	got := reopened.Lookup("ambiguity")
	if len(got) != 1 || got[0].ID == "" {
		t.Errorf("Lookup = %v, want one bullet with generated id", got)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heuristics.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLookupSortsByConfidence(t *testing.T) {
	s := newTestStore(t)
	for _, b := range []Bullet{
		{Topic: "scope", Text: "a", Confidence: 0.5},
		{Topic: "scope", Text: "b", Confidence: 0.9},
		{Topic: "scope", Text: "c", Confidence: 0.7},
		{Topic: "other", Text: "d", Confidence: 1.0},
	} {
		if err := s.Record(b); err != nil {
			t.Fatal(err)
		}
	}

	got := s.Lookup("scope")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Text != "b" || got[1].Text != "c" || got[2].Text != "a" {
		t.Errorf("order = %s %s %s, want b c a", got[0].Text, got[1].Text, got[2].Text)
	}
}

func TestHelpfulMatch(t *testing.T) {
	s := newTestStore(t)
	if err := s.Record(Bullet{
		Topic:      "missing acceptance criteria",
		Text:       "tasks stage issues about missing acceptance criteria are safe to auto-fix",
		Helpful:    true,
		Confidence: 0.8,
	}); err != nil {
		t.Fatal(err)
	}
	// Low-confidence and unhelpful bullets never count.
	if err := s.Record(Bullet{Topic: "timeouts", Text: "agent timeout issues recur on implement", Helpful: true, Confidence: 0.3}); err != nil {
		t.Fatal(err)
	}

	if !s.HelpfulMatch("acceptance criteria", "the task list has no acceptance criteria defined") {
		t.Error("expected a match on keyword overlap")
	}
	if s.HelpfulMatch("timeouts", "agents keep timing out") {
		t.Error("low-confidence bullet should not match")
	}
	if s.HelpfulMatch("licensing", "dependency license is unclear") {
		t.Error("unrelated topic should not match")
	}
}

func TestMarkUsed(t *testing.T) {
	s := newTestStore(t)
	if err := s.Record(Bullet{ID: "b-1", Topic: "scope", Text: "x", Confidence: 0.9}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkUsed("b-1"); err != nil {
		t.Fatalf("MarkUsed failed: %v", err)
	}
	if got := s.Lookup("scope"); got[0].UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", got[0].UsageCount)
	}
	if err := s.MarkUsed("nope"); err == nil {
		t.Error("expected error for unknown id")
	}
}
