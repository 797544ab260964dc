package analysis

import (
	"math"
	"testing"

	"github.com/xtxerr/tracelens/internal/trace"
)

func TestDistribution_Basic(t *testing.T) {
	d, err := NewDistribution(0.01)
	if err != nil {
		t.Fatalf("NewDistribution: %v", err)
	}

	stats := d.Stats()
	if stats.Count != 0 || stats.HasPercentiles() {
		t.Error("new distribution should be empty")
	}

	for i := 1; i <= 100; i++ {
		d.Add(float64(i))
	}

	stats = d.Stats()
	if stats.Count != 100 {
		t.Errorf("expected count=100, got %d", stats.Count)
	}
	if stats.Min != 1 || stats.Max != 100 {
		t.Errorf("expected min=1 max=100, got %f/%f", stats.Min, stats.Max)
	}
	if math.Abs(stats.Avg-50.5) > 0.001 {
		t.Errorf("expected avg=50.5, got %f", stats.Avg)
	}
	if !stats.HasPercentiles() {
		t.Fatal("expected percentiles")
	}

	// DDSketch has 1% relative accuracy.
	if math.Abs(*stats.P50-50)/50 > 0.02 {
		t.Errorf("expected p50 ~50, got %f", *stats.P50)
	}
	if math.Abs(*stats.P99-99)/99 > 0.02 {
		t.Errorf("expected p99 ~99, got %f", *stats.P99)
	}
}

func TestDistribution_Merge(t *testing.T) {
	a, _ := NewDistribution(0.01)
	b, _ := NewDistribution(0.01)

	a.Add(1)
	a.Add(2)
	b.Add(10)

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := a.Merge(nil); err != nil {
		t.Fatalf("Merge(nil): %v", err)
	}

	stats := a.Stats()
	if stats.Count != 3 || stats.Max != 10 || stats.Sum != 13 {
		t.Errorf("unexpected merged stats %+v", stats)
	}
}

func TestNewDistribution_InvalidAccuracy(t *testing.T) {
	if _, err := NewDistribution(0); err == nil {
		t.Error("expected error for accuracy 0")
	}
}

func TestSummarize(t *testing.T) {
	events := []trace.IoEvent{
		ev(0, 0, 8, 1),
		ev(1_000, 0, 16, 1),
		ev(3_000, 0, 8, 1),
		ev(500, 0, 4, 0),
	}

	s, err := Summarize(events, 0.01)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if s.Read.SizeSectors.Count != 3 {
		t.Errorf("expected 3 read sizes, got %d", s.Read.SizeSectors.Count)
	}
	if s.Read.InterArrivalUs.Count != 2 {
		t.Errorf("expected 2 read gaps, got %d", s.Read.InterArrivalUs.Count)
	}
	if s.Read.InterArrivalUs.Max != 2 {
		t.Errorf("expected max gap 2us, got %f", s.Read.InterArrivalUs.Max)
	}
	if s.Write.InterArrivalUs.Count != 0 || s.Write.InterArrivalUs.HasPercentiles() {
		t.Error("single write must have no gaps")
	}
	if s.Write.SizeSectors.Max != 4 {
		t.Errorf("expected write size 4, got %f", s.Write.SizeSectors.Max)
	}
}
