package engine

import (
	"math"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/models"
)

func TestEvaluateRaisesAboveThreshold(t *testing.T) {
	detector := NewDetector(3.0)
	baseline := models.Baseline{Mean: 250, StdDev: 50, SampleCount: 100}
	now := time.Now()

	anomaly, found := detector.Evaluate("payments-api", "latency_p95_ms", baseline, windowWith(240, 260, 1250.5), now)
	if !found {
		t.Fatalf("expected anomaly")
	}
	if anomaly.CurrentValue != 1250.5 {
		t.Fatalf("expected representative value 1250.5, got %f", anomaly.CurrentValue)
	}
	if math.Abs(anomaly.SigmaDeviation-20.01) > 1e-9 {
		t.Fatalf("expected 20.01 sigma, got %f", anomaly.SigmaDeviation)
	}
	if anomaly.Severity != models.SeverityCritical {
		t.Fatalf("expected %s, got %s", models.SeverityCritical, anomaly.Severity)
	}
	if anomaly.Type != models.AnomalyTypeStatistical {
		t.Fatalf("unexpected anomaly type %s", anomaly.Type)
	}
}

func TestEvaluateThresholdIsStrict(t *testing.T) {
	detector := NewDetector(3.0)
	baseline := models.Baseline{Mean: 0, StdDev: 1, SampleCount: 10}

	// Exactly at the threshold is still normal.
	if _, found := detector.Evaluate("svc", "m", baseline, windowWith(3.0), time.Now()); found {
		t.Fatalf("deviation equal to threshold must not raise")
	}
	if _, found := detector.Evaluate("svc", "m", baseline, windowWith(3.0001), time.Now()); !found {
		t.Fatalf("deviation just above threshold must raise")
	}
}

func TestEvaluateSeverityBounds(t *testing.T) {
	detector := NewDetector(3.0)
	baseline := models.Baseline{Mean: 0, StdDev: 1, SampleCount: 10}

	cases := []struct {
		value float64
		want  models.Severity
	}{
		{5.0, models.SeverityCritical},
		{4.999, models.SeverityHigh},
		{4.0, models.SeverityHigh},
		{3.5, models.SeverityMedium},
	}
	for _, tc := range cases {
		anomaly, found := detector.Evaluate("svc", "m", baseline, windowWith(tc.value), time.Now())
		if !found {
			t.Fatalf("value %f: expected anomaly", tc.value)
		}
		if anomaly.Severity != tc.want {
			t.Fatalf("value %f: expected %s, got %s", tc.value, tc.want, anomaly.Severity)
		}
	}
}

func TestEvaluateNegativeDeviation(t *testing.T) {
	detector := NewDetector(3.0)
	baseline := models.Baseline{Mean: 100, StdDev: 10, SampleCount: 10}

	// A drop is as anomalous as a spike when its magnitude clears the threshold.
	anomaly, found := detector.Evaluate("svc", "m", baseline, windowWith(20), time.Now())
	if !found {
		t.Fatalf("expected anomaly for large drop")
	}
	if anomaly.SigmaDeviation != 8 {
		t.Fatalf("expected 8 sigma, got %f", anomaly.SigmaDeviation)
	}
}

func TestEvaluateGuardsDegenerateInput(t *testing.T) {
	detector := NewDetector(3.0)

	if _, found := detector.Evaluate("svc", "m", models.Baseline{Mean: 1, StdDev: 0}, windowWith(100), time.Now()); found {
		t.Fatalf("zero stddev baseline must not raise")
	}
	if _, found := detector.Evaluate("svc", "m", models.Baseline{Mean: 1, StdDev: 1}, models.MetricWindow{}, time.Now()); found {
		t.Fatalf("empty current window must not raise")
	}
}
