package models

import "time"

// Sample is a single observed value of a time-series.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricWindow holds the ordered samples for one (service, metric) pair over a
// requested interval. Produced per query by the metric source; never mutated.
type MetricWindow struct {
	Service string    `json:"service"`
	Metric  string    `json:"metric"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Samples []Sample  `json:"samples"`
}

// Baseline captures the trailing-window statistics a detection pass compares
// against. It is recomputed from a fresh MetricWindow on every tick.
type Baseline struct {
	Mean        float64       `json:"mean"`
	StdDev      float64       `json:"std_dev"`
	SampleCount int           `json:"sample_count"`
	WindowSpan  time.Duration `json:"window_span"`
}

// AnomalyType tags the detection method that produced an anomaly.
const AnomalyTypeStatistical = "statistical_anomaly"

// Severity labels an anomaly's impact level.
type Severity string

const (
	SeverityCritical Severity = "Sev-1"
	SeverityHigh     Severity = "Sev-2"
	SeverityMedium   Severity = "Sev-3"
)

// AtLeast reports whether s is as severe as floor. An empty or unknown floor
// matches everything.
func (s Severity) AtLeast(floor Severity) bool {
	return severityRank(s) >= severityRank(floor)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// Anomaly records a statistically significant deviation for one
// (service, metric) pair. Immutable once created.
type Anomaly struct {
	Service        string    `json:"service"`
	Metric         string    `json:"metric"`
	DetectedAt     time.Time `json:"detected_at"`
	CurrentValue   float64   `json:"current_value"`
	CurrentAvg     float64   `json:"current_avg"`
	BaselineMean   float64   `json:"baseline_mean"`
	BaselineStdDev float64   `json:"baseline_std"`
	SigmaDeviation float64   `json:"sigma_deviation"`
	Severity       Severity  `json:"severity"`
	Type           string    `json:"type"`
}

// Fingerprint identifies the signal an anomaly belongs to; workflow dedup
// operates per fingerprint.
func (a Anomaly) Fingerprint() string {
	return a.Service + "/" + a.Metric
}
