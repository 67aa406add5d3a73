package rewrite

import (
	"testing"
	"time"
)

func TestStats_EmptySnapshot(t *testing.T) {
	s := NewStats(time.Hour)
	snap := s.Snapshot()
	if snap.Count != 0 || snap.MinMs != 0 || snap.MaxMs != 0 || snap.AvgMs != 0 {
		t.Errorf("empty snapshot = %+v", snap)
	}
}

func TestStats_Aggregates(t *testing.T) {
	s := NewStats(time.Hour)
	for _, ms := range []int64{100, 200, 300, 400, 500} {
		s.Record(ms, true)
	}

	snap := s.Snapshot()
	if snap.Count != 5 {
		t.Errorf("count = %d, want 5", snap.Count)
	}
	if snap.Failures != 0 {
		t.Errorf("failures = %d, want 0", snap.Failures)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Errorf("min/max = %d/%d, want 100/500", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Errorf("avg = %v, want 300", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Errorf("p50 = %v, want 300", snap.P50Ms)
	}
	// Rank interpolation: index 3.8 between 400 and 500.
	if snap.P95Ms != 480 {
		t.Errorf("p95 = %v, want 480", snap.P95Ms)
	}
}

func TestStats_CountsFailedCalls(t *testing.T) {
	s := NewStats(time.Hour)
	s.Record(100, true)
	s.Record(30000, false)
	s.Record(200, true)

	snap := s.Snapshot()
	if snap.Count != 3 {
		t.Errorf("count = %d, want 3 (failures still counted)", snap.Count)
	}
	if snap.Failures != 1 {
		t.Errorf("failures = %d, want 1", snap.Failures)
	}
	if snap.MaxMs != 30000 {
		t.Errorf("max = %d, failed call latency must be included", snap.MaxMs)
	}
}

func TestStats_NegativeDurationClamped(t *testing.T) {
	s := NewStats(time.Hour)
	s.Record(-5, true)
	snap := s.Snapshot()
	if snap.Count != 1 || snap.MinMs != 0 {
		t.Errorf("snapshot = %+v, want a single zero sample", snap)
	}
}

func TestStats_WindowPrunesOldSamples(t *testing.T) {
	s := NewStats(50 * time.Millisecond)
	s.Record(100, false)
	time.Sleep(60 * time.Millisecond)
	s.Record(200, true)

	snap := s.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("count = %d, want 1 after pruning", snap.Count)
	}
	if snap.MinMs != 200 {
		t.Errorf("surviving sample = %d, want 200", snap.MinMs)
	}
	if snap.Failures != 0 {
		t.Errorf("pruned failure still counted: %d", snap.Failures)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []int64{10, 20, 30, 40}
	tests := []struct {
		pct  float64
		want float64
	}{
		{0, 10},
		{50, 25},
		{100, 40},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.pct); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.pct, got, tt.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile(nil) = %v, want 0", got)
	}
}
