package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe(StageTransportOpen, 500*time.Millisecond)
	w.Observe(StageTransportOpen, 700*time.Millisecond)
	w.Observe(StageTransportOpen, 900*time.Millisecond)
	w.ObserveIndicator("degraded_mode")
	w.ObserveIndicator("degraded_mode")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageTransportOpen {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageTransportOpen)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 {
		t.Fatalf("TargetP95MS = %.2f, want 1500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want degraded_mode x2", snap.Indicators)
	}
}

func TestStageWindowWrapsAtCapacity(t *testing.T) {
	w := NewStageWindow(2)
	for _, ms := range []int{100, 200, 300} {
		w.Observe(StageRegister, time.Duration(ms)*time.Millisecond)
	}
	snap := w.Snapshot()
	if snap.Stages[0].Samples != 2 {
		t.Fatalf("Samples = %d, want 2", snap.Stages[0].Samples)
	}
	if snap.Stages[0].AvgMS != 250 {
		t.Fatalf("AvgMS = %.2f, want 250 after wrap", snap.Stages[0].AvgMS)
	}
}

func TestNilStageWindowIsSafe(t *testing.T) {
	var w *StageWindow
	w.Observe(StageRegister, time.Second)
	w.ObserveIndicator("x")
	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) = %d, want 0", got)
	}
}
