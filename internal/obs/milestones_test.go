package obs

import (
	"testing"
	"time"
)

func TestLatencyStats(t *testing.T) {
	var stats LatencyStats
	stats.Observe(10 * time.Millisecond)
	stats.Observe(30 * time.Millisecond)
	stats.Observe(20 * time.Millisecond)

	snapshot := stats.Snapshot()
	if snapshot.Count != 3 {
		t.Fatalf("count mismatch: got %d", snapshot.Count)
	}
	if snapshot.Min != 10*time.Millisecond {
		t.Fatalf("min mismatch: got %s", snapshot.Min)
	}
	if snapshot.Max != 30*time.Millisecond {
		t.Fatalf("max mismatch: got %s", snapshot.Max)
	}
	if snapshot.Avg != 20*time.Millisecond {
		t.Fatalf("avg mismatch: got %s", snapshot.Avg)
	}
}

func TestMilestonesZeroValueIsNoop(t *testing.T) {
	var m Milestones
	if m.Active() {
		t.Fatal("zero-value milestones should be inactive")
	}
	m.Measure(CheckpointDataRaise)
}

func TestAccumCollectsCheckpoints(t *testing.T) {
	accum := NewAccum()
	m := accum.Start()
	if !m.Active() {
		t.Fatal("milestones from accum should be active")
	}
	m.Measure(CheckpointDataEnqueue)
	m.Measure(CheckpointDataRaise)
	m.Measure(CheckpointDataRaise)

	if got := accum.Stat(CheckpointDataEnqueue).Count; got != 1 {
		t.Fatalf("enqueue count mismatch: got %d", got)
	}
	if got := accum.Stat(CheckpointDataRaise).Count; got != 2 {
		t.Fatalf("raise count mismatch: got %d", got)
	}
	if got := accum.Stat(CheckpointOrderSend).Count; got != 0 {
		t.Fatalf("order send count should be empty: got %d", got)
	}
}
