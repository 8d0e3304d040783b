package engine

import (
	"math"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/models"
)

// Detector compares a short current window against a baseline and decides
// whether the deviation is statistically significant.
type Detector struct {
	threshold float64
}

// NewDetector creates a detector raising anomalies strictly above threshold
// sigma deviations.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = 3.0
	}
	return &Detector{threshold: threshold}
}

// Threshold returns the configured sigma threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Evaluate returns an Anomaly when the current window's representative value
// (its maximum) deviates more than the threshold from the baseline mean.
// The comparison is strict: a deviation exactly at the threshold is normal.
func (d *Detector) Evaluate(service, metric string, baseline models.Baseline, current models.MetricWindow, detectedAt time.Time) (models.Anomaly, bool) {
	if len(current.Samples) == 0 || baseline.StdDev == 0 {
		return models.Anomaly{}, false
	}

	max := current.Samples[0].Value
	sum := 0.0
	for _, sample := range current.Samples {
		if sample.Value > max {
			max = sample.Value
		}
		sum += sample.Value
	}
	avg := sum / float64(len(current.Samples))

	sigma := math.Abs(max-baseline.Mean) / baseline.StdDev
	if sigma <= d.threshold {
		return models.Anomaly{}, false
	}

	return models.Anomaly{
		Service:        service,
		Metric:         metric,
		DetectedAt:     detectedAt.UTC(),
		CurrentValue:   max,
		CurrentAvg:     avg,
		BaselineMean:   baseline.Mean,
		BaselineStdDev: baseline.StdDev,
		SigmaDeviation: sigma,
		Severity:       severityFor(sigma),
		Type:           models.AnomalyTypeStatistical,
	}, true
}

// severityFor maps a sigma deviation to a severity label. Highest matching
// bound wins; callers only pass values already above the detection threshold.
func severityFor(sigma float64) models.Severity {
	switch {
	case sigma >= 5.0:
		return models.SeverityCritical
	case sigma >= 4.0:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}
