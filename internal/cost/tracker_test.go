package cost

import (
	"math"
	"sync"
	"testing"

	"github.com/Iron-Ham/quorum/internal/stage"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPricingFor(t *testing.T) {
	tests := []struct {
		model string
		want  Pricing
	}{
		{"claude-sonnet", Pricing{3.0, 15.0}},
		{"claude", Pricing{3.0, 15.0}},     // alias
		{"gpt-codex", Pricing{1.25, 10.0}}, // alias
		{"gemini", Pricing{1.25, 10.0}},    // alias
		{"unknown-model", defaultPricing},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := PricingFor(tt.model); got != tt.want {
				t.Errorf("PricingFor(%s) = %+v, want %+v", tt.model, got, tt.want)
			}
		})
	}
}

func TestPricingCalculate(t *testing.T) {
	p := Pricing{InputPerMillion: 3.0, OutputPerMillion: 15.0}
	got := p.Calculate(1_000_000, 2_000_000)
	if !almostEqual(got, 33.0) {
		t.Errorf("Calculate = %v, want 33.0", got)
	}
	if got := p.Calculate(0, 0); got != 0 {
		t.Errorf("Calculate(0, 0) = %v, want 0", got)
	}
}

func TestRecordAccumulates(t *testing.T) {
	tr := NewTracker("QRM-042", 0, nil)

	tr.Record(stage.StagePlan, "claude", 1.5)
	tr.Record(stage.StagePlan, "gpt", 2.0)
	tr.Record(stage.StageTasks, "claude", 0.5)

	if got := tr.Total(); !almostEqual(got, 4.0) {
		t.Errorf("Total = %v, want 4.0", got)
	}
	if got := tr.StageCost(stage.StagePlan); !almostEqual(got, 3.5) {
		t.Errorf("StageCost(plan) = %v, want 3.5", got)
	}
	if got := tr.AgentCost("claude"); !almostEqual(got, 2.0) {
		t.Errorf("AgentCost(claude) = %v, want 2.0", got)
	}
}

func TestBudgetAlerts(t *testing.T) {
	tests := []struct {
		name  string
		spend float64
		want  AlertLevel
	}{
		{"under threshold", 5.0, AlertNone},
		{"warning at 80%", 8.0, AlertWarning},
		{"critical at 90%", 9.0, AlertCritical},
		{"exceeded at 100%", 10.0, AlertExceeded},
		{"over budget", 12.0, AlertExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("QRM-042", 10.0, nil)
			alert := tr.Record(stage.StagePlan, "claude", tt.spend)
			if tt.want == AlertNone {
				if alert != nil {
					t.Errorf("alert = %+v, want none", alert)
				}
				return
			}
			if alert == nil {
				t.Fatal("expected an alert")
			}
			if alert.Level != tt.want {
				t.Errorf("alert level = %v, want %v", alert.Level, tt.want)
			}
		})
	}
}

func TestNoBudgetNoAlerts(t *testing.T) {
	tr := NewTracker("QRM-042", 0, nil)
	if alert := tr.Record(stage.StagePlan, "claude", 1_000_000); alert != nil {
		t.Errorf("alert = %+v, want none with no budget", alert)
	}
	if tr.Exceeded() {
		t.Error("Exceeded should be false with no budget")
	}
}

func TestExceededGatesDispatch(t *testing.T) {
	tr := NewTracker("QRM-042", 1.0, nil)
	if tr.Exceeded() {
		t.Error("fresh tracker should not be exceeded")
	}
	tr.Record(stage.StagePlan, "claude", 1.0)
	if !tr.Exceeded() {
		t.Error("tracker at budget should be exceeded")
	}
}

func TestSummarySnapshot(t *testing.T) {
	tr := NewTracker("QRM-042", 10.0, nil)
	tr.Record(stage.StagePlan, "claude", 1.0)
	tr.Record(stage.StageTasks, "gpt", 2.0)

	s := tr.Summary()
	if s.WorkItem != "QRM-042" {
		t.Errorf("WorkItem = %s, want QRM-042", s.WorkItem)
	}
	if !almostEqual(s.Total, 3.0) || s.CallCount != 2 {
		t.Errorf("Total/CallCount = %v/%d, want 3.0/2", s.Total, s.CallCount)
	}

	// Mutating the snapshot must not leak back into the tracker.
	s.PerStage["plan"] = 99
	if got := tr.StageCost(stage.StagePlan); !almostEqual(got, 1.0) {
		t.Errorf("StageCost after snapshot mutation = %v, want 1.0", got)
	}
}

func TestRecordCallUsesPricing(t *testing.T) {
	tr := NewTracker("QRM-042", 0, nil)
	tr.RecordCall(stage.StagePlan, "claude", 1_000_000, 1_000_000)
	// claude resolves to claude-sonnet: 3.0 in + 15.0 out.
	if got := tr.Total(); !almostEqual(got, 18.0) {
		t.Errorf("Total = %v, want 18.0", got)
	}
}

func TestConcurrentRecords(t *testing.T) {
	tr := NewTracker("QRM-042", 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(stage.StagePlan, "claude", 0.01)
		}()
	}
	wg.Wait()

	if got := tr.Total(); !almostEqual(got, 1.0) {
		t.Errorf("Total = %v, want 1.0", got)
	}
	if s := tr.Summary(); s.CallCount != 100 {
		t.Errorf("CallCount = %d, want 100", s.CallCount)
	}
}
