package engine

import (
	"errors"
	"math"

	"github.com/sentinelstack/sentinel-observer/internal/models"
)

// ErrInsufficientBaseline signals that a window cannot support detection this
// tick: too few samples, or zero variance. A skip condition, not a failure.
var ErrInsufficientBaseline = errors.New("insufficient baseline signal")

// Estimator derives trailing-window baseline statistics. Baselines are always
// computed fresh from a full window; there is no incremental state to drift.
type Estimator struct {
	minSamples int
}

// NewEstimator creates an estimator requiring at least minSamples per window.
func NewEstimator(minSamples int) *Estimator {
	if minSamples < 2 {
		minSamples = 2
	}
	return &Estimator{minSamples: minSamples}
}

// Estimate computes mean and standard deviation over the window's samples.
// Returns ErrInsufficientBaseline when the sample count is below the minimum
// or the deviation is zero (no anomaly is possible against a flat baseline).
func (e *Estimator) Estimate(window models.MetricWindow) (models.Baseline, error) {
	if len(window.Samples) < e.minSamples {
		return models.Baseline{}, ErrInsufficientBaseline
	}

	mean := 0.0
	for _, sample := range window.Samples {
		mean += sample.Value
	}
	mean /= float64(len(window.Samples))

	variance := 0.0
	for _, sample := range window.Samples {
		variance += math.Pow(sample.Value-mean, 2)
	}
	variance /= float64(len(window.Samples))
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return models.Baseline{}, ErrInsufficientBaseline
	}

	return models.Baseline{
		Mean:        mean,
		StdDev:      stdDev,
		SampleCount: len(window.Samples),
		WindowSpan:  window.To.Sub(window.From),
	}, nil
}
