package utils

import (
	"errors"
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(16)
	for _, d := range []time.Duration{
		5 * time.Millisecond, 15 * time.Millisecond, 25 * time.Millisecond,
		35 * time.Millisecond, 45 * time.Millisecond,
	} {
		tracker.Observe(d)
	}

	if tracker.Count() != 5 {
		t.Fatalf("expected 5 samples, got %d", tracker.Count())
	}
	if p95 := tracker.Percentile(95); p95 < 35*time.Millisecond {
		t.Fatalf("expected p95 >= 35ms, got %v", p95)
	}
	if tracker.Percentile(0) != 5*time.Millisecond {
		t.Fatalf("expected minimum at p0")
	}
}

func TestLatencyTrackerEvictsOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker capped at 3, got %d", tracker.Count())
	}
	// Only the most recent samples remain.
	if min := tracker.Percentile(0); min != 8*time.Millisecond {
		t.Fatalf("expected oldest samples evicted, p0=%v", min)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(4)
	if tracker.Percentile(95) != 0 {
		t.Fatalf("expected zero percentile without samples")
	}
}

func TestAppErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAppError("repo.QueryRange", "metric source query", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be visible")
	}
	if err.Error() == "" {
		t.Fatalf("expected formatted message")
	}
}
