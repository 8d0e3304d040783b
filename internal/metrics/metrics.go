package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
)

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observer",
			Name:      "ticks_total",
			Help:      "Total number of detection ticks, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "observer",
			Name:      "tick_seconds",
			Help:      "Detection tick latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observer",
			Name:      "anomalies_total",
			Help:      "Total anomalies detected, partitioned by severity.",
		},
		[]string{"severity"},
	)

	workflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observer",
			Name:      "workflow_transitions_total",
			Help:      "Workflow state transitions, partitioned by target status.",
		},
		[]string{"status"},
	)

	remediationStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "observer",
			Name:      "remediation_steps_total",
			Help:      "Remediation step executions, partitioned by action and outcome.",
		},
		[]string{"action", "outcome"},
	)
)

// Register attaches observer collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		tickDurationSeconds,
		anomaliesTotal,
		workflowTransitionsTotal,
		remediationStepsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records a detection pass duration and outcome label.
func ObserveTick(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	ticksTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
}

// CountAnomaly records one detected anomaly by severity.
func CountAnomaly(severity string) {
	anomaliesTotal.WithLabelValues(severity).Inc()
}

// CountTransition records one workflow transition into the given status.
func CountTransition(status string) {
	workflowTransitionsTotal.WithLabelValues(status).Inc()
}

// CountRemediationStep records one remediation step attempt.
func CountRemediationStep(action string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	remediationStepsTotal.WithLabelValues(action, outcome).Inc()
}
