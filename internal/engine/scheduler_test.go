package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/models"
	"github.com/sentinelstack/sentinel-observer/internal/repo"
)

// fakeMetricSource serves canned windows: the wider query gets the baseline
// samples, the short one the current samples.
type fakeMetricSource struct {
	baseline map[string][]float64
	current  map[string][]float64
	failFor  string
}

func (f *fakeMetricSource) QueryRange(ctx context.Context, service, metric string, from, to time.Time) (models.MetricWindow, error) {
	if service == f.failFor {
		return models.MetricWindow{}, fmt.Errorf("metric source query failed: %w", repo.ErrSourceUnavailable)
	}

	key := service + "/" + metric
	values := f.current[key]
	if to.Sub(from) > 2*time.Hour {
		values = f.baseline[key]
	}
	if len(values) == 0 {
		return models.MetricWindow{}, fmt.Errorf("no samples for %s: %w", key, repo.ErrEmptyResult)
	}

	window := models.MetricWindow{Service: service, Metric: metric, From: from, To: to}
	for i, v := range values {
		window.Samples = append(window.Samples, models.Sample{
			Timestamp: from.Add(time.Duration(i) * time.Minute),
			Value:     v,
		})
	}
	return window, nil
}

type fakeCommitSource struct {
	commits []models.CommitRef
	err     error
}

func (f *fakeCommitSource) RecentCommits(ctx context.Context, from, to time.Time) ([]models.CommitRef, error) {
	return f.commits, f.err
}

type fakePublisher struct {
	published []models.Anomaly
	err       error
}

func (f *fakePublisher) PublishAnomaly(ctx context.Context, anomaly models.Anomaly) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, anomaly)
	return nil
}

func newTestScheduler(metricSrc MetricSource, commitSrc CommitSource, remediation Remediation, autoApprove bool, publisher AnomalyPublisher) (*Scheduler, *Orchestrator) {
	orchestrator := NewOrchestrator(nil, remediation, nil, time.Hour)
	scheduler := NewScheduler(Options{
		Metrics:        metricSrc,
		Commits:        commitSrc,
		Estimator:      NewEstimator(2),
		Detector:       NewDetector(3.0),
		Correlator:     NewCorrelator(2 * time.Hour),
		Orchestrator:   orchestrator,
		Publisher:      publisher,
		Pairs:          []Pair{{Service: "payments-api", Metric: "latency_p95_ms"}},
		TickInterval:   time.Hour,
		BaselineWindow: 24 * time.Hour,
		CurrentWindow:  time.Hour,
		AutoApprove:    autoApprove,
	})
	return scheduler, orchestrator
}

func spikySource() *fakeMetricSource {
	return &fakeMetricSource{
		baseline: map[string][]float64{
			"payments-api/latency_p95_ms": {100, 110, 90, 105, 95},
		},
		current: map[string][]float64{
			"payments-api/latency_p95_ms": {102, 480},
		},
	}
}

func TestTickProposesWorkflowOnAnomaly(t *testing.T) {
	scheduler, orchestrator := newTestScheduler(spikySource(), nil, &fakeRemediation{}, false, nil)

	scheduler.RunTick(context.Background())

	anomalies := scheduler.RecentAnomalies()
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].CurrentValue != 480 {
		t.Fatalf("expected representative value 480, got %f", anomalies[0].CurrentValue)
	}

	pending := orchestrator.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending workflow, got %d", len(pending))
	}
	if pending[0].Status != models.StatusPending {
		t.Fatalf("expected pending status, got %s", pending[0].Status)
	}
}

func TestTickDedupsAcrossTicks(t *testing.T) {
	scheduler, orchestrator := newTestScheduler(spikySource(), nil, &fakeRemediation{}, false, nil)

	scheduler.RunTick(context.Background())
	scheduler.RunTick(context.Background())

	if got := len(orchestrator.Pending()); got != 1 {
		t.Fatalf("cooldown must suppress the repeat proposal, got %d pending", got)
	}
	// Both detections are still buffered.
	if got := len(scheduler.RecentAnomalies()); got != 2 {
		t.Fatalf("expected 2 buffered anomalies, got %d", got)
	}
}

func TestTickIsolatesFailingPair(t *testing.T) {
	source := spikySource()
	source.baseline["search-api/error_rate"] = []float64{1, 2, 1, 2, 1}
	source.current["search-api/error_rate"] = []float64{1}
	source.failFor = "search-api"

	orchestrator := NewOrchestrator(nil, &fakeRemediation{}, nil, time.Hour)
	scheduler := NewScheduler(Options{
		Metrics:      source,
		Estimator:    NewEstimator(2),
		Detector:     NewDetector(3.0),
		Orchestrator: orchestrator,
		Pairs: []Pair{
			{Service: "search-api", Metric: "error_rate"},
			{Service: "payments-api", Metric: "latency_p95_ms"},
		},
		BaselineWindow: 24 * time.Hour,
		CurrentWindow:  time.Hour,
	})

	scheduler.RunTick(context.Background())

	// The failing pair must not shadow the healthy one.
	if got := len(orchestrator.Pending()); got != 1 {
		t.Fatalf("expected 1 pending workflow despite pair failure, got %d", got)
	}
}

func TestTickSkipsFlatBaseline(t *testing.T) {
	source := &fakeMetricSource{
		baseline: map[string][]float64{"payments-api/latency_p95_ms": {100, 100, 100}},
		current:  map[string][]float64{"payments-api/latency_p95_ms": {500}},
	}
	scheduler, orchestrator := newTestScheduler(source, nil, &fakeRemediation{}, false, nil)

	scheduler.RunTick(context.Background())

	if len(scheduler.RecentAnomalies()) != 0 {
		t.Fatalf("flat baseline must not raise anomalies")
	}
	if len(orchestrator.Pending()) != 0 {
		t.Fatalf("flat baseline must not propose workflows")
	}
}

func TestAutoApproveRunsRemediation(t *testing.T) {
	remediation := &fakeRemediation{}
	scheduler, orchestrator := newTestScheduler(spikySource(), nil, remediation, true, nil)

	scheduler.RunTick(context.Background())

	if len(orchestrator.Pending()) != 0 {
		t.Fatalf("auto-approved workflow must not stay pending")
	}
	if len(remediation.calls) != 5 {
		t.Fatalf("expected full remediation sequence, got %v", remediation.calls)
	}
}

func TestTickAttachesSuspectCommits(t *testing.T) {
	detected := time.Now().UTC()
	commits := &fakeCommitSource{commits: []models.CommitRef{
		{SHA: "abc123", Author: "dev", AuthoredAt: detected.Add(-20 * time.Minute), Files: []string{"db.go"}},
	}}
	scheduler, orchestrator := newTestScheduler(spikySource(), commits, &fakeRemediation{}, false, nil)

	scheduler.RunTick(context.Background())

	pending := orchestrator.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending workflow, got %d", len(pending))
	}
	if len(pending[0].SuspectCommits) != 1 || pending[0].SuspectCommits[0].SHA != "abc123" {
		t.Fatalf("expected suspect commit attached, got %+v", pending[0].SuspectCommits)
	}
}

func TestCommitLookupFailureDegradesToNoSuspects(t *testing.T) {
	commits := &fakeCommitSource{err: errors.New("source down")}
	scheduler, orchestrator := newTestScheduler(spikySource(), commits, &fakeRemediation{}, false, nil)

	scheduler.RunTick(context.Background())

	pending := orchestrator.Pending()
	if len(pending) != 1 {
		t.Fatalf("detection must survive a commit source failure, got %d pending", len(pending))
	}
	if len(pending[0].SuspectCommits) != 0 {
		t.Fatalf("expected no suspects, got %+v", pending[0].SuspectCommits)
	}
}

func TestPublishFailureDoesNotBlockDetection(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker down")}
	scheduler, orchestrator := newTestScheduler(spikySource(), nil, &fakeRemediation{}, false, publisher)

	scheduler.RunTick(context.Background())

	if len(orchestrator.Pending()) != 1 {
		t.Fatalf("publish failure must not block the workflow proposal")
	}
}

func TestProposeFloorFiltersLowSeverity(t *testing.T) {
	orchestrator := NewOrchestrator(nil, &fakeRemediation{}, nil, time.Hour)
	scheduler := NewScheduler(Options{
		Metrics:      spikySource(),
		Estimator:    NewEstimator(2),
		Detector:     NewDetector(3.0),
		Orchestrator: orchestrator,
		Pairs:        []Pair{{Service: "payments-api", Metric: "latency_p95_ms"}},
		ProposeFloor: models.SeverityCritical,
	})

	scheduler.RunTick(context.Background())

	// The spike clears the floor, so the proposal goes through.
	if got := len(orchestrator.Pending()); got != 1 {
		t.Fatalf("critical anomaly must clear a Sev-1 floor, got %d pending", got)
	}
}

func TestProposeFloorBlocksBelowFloor(t *testing.T) {
	// Spike at ~3.5 sigma: detected but Sev-3, below a Sev-2 floor.
	source := &fakeMetricSource{
		baseline: map[string][]float64{"payments-api/latency_p95_ms": {98, 102, 100, 101, 99}},
		current:  map[string][]float64{"payments-api/latency_p95_ms": {105}},
	}
	orchestrator := NewOrchestrator(nil, &fakeRemediation{}, nil, time.Hour)
	scheduler := NewScheduler(Options{
		Metrics:      source,
		Estimator:    NewEstimator(2),
		Detector:     NewDetector(3.0),
		Orchestrator: orchestrator,
		Pairs:        []Pair{{Service: "payments-api", Metric: "latency_p95_ms"}},
		ProposeFloor: models.SeverityHigh,
	})

	scheduler.RunTick(context.Background())

	if got := len(scheduler.RecentAnomalies()); got != 1 {
		t.Fatalf("anomaly below the floor must still be buffered, got %d", got)
	}
	if got := len(orchestrator.Pending()); got != 0 {
		t.Fatalf("anomaly below the floor must not propose a workflow, got %d pending", got)
	}
}

// blockingMetricSource parks the first query until released, counting calls.
type blockingMetricSource struct {
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingMetricSource) QueryRange(ctx context.Context, service, metric string, from, to time.Time) (models.MetricWindow, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()

	if first {
		close(b.entered)
		<-b.release
	}
	return models.MetricWindow{}, fmt.Errorf("no samples: %w", repo.ErrEmptyResult)
}

func (b *blockingMetricSource) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	source := &blockingMetricSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	orchestrator := NewOrchestrator(nil, &fakeRemediation{}, nil, time.Hour)
	scheduler := NewScheduler(Options{
		Metrics:      source,
		Estimator:    NewEstimator(2),
		Detector:     NewDetector(3.0),
		Orchestrator: orchestrator,
		Pairs:        []Pair{{Service: "payments-api", Metric: "latency_p95_ms"}},
	})

	done := make(chan struct{})
	go func() {
		scheduler.RunTick(context.Background())
		close(done)
	}()
	<-source.entered

	// The first tick is parked inside the metric query; a second tick must
	// return immediately without touching the source.
	scheduler.RunTick(context.Background())
	if got := source.callCount(); got != 1 {
		t.Fatalf("overlapping tick must be skipped, source saw %d calls", got)
	}

	close(source.release)
	<-done

	// With the first tick drained, the next one evaluates again.
	scheduler.RunTick(context.Background())
	if got := source.callCount(); got != 2 {
		t.Fatalf("expected a fresh evaluation after drain, source saw %d calls", got)
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	scheduler, _ := newTestScheduler(spikySource(), nil, &fakeRemediation{}, false, nil)

	scheduler.Start()
	scheduler.Start()
	if scheduler.Status().State != "running" {
		t.Fatalf("expected running state")
	}

	scheduler.Stop()
	scheduler.Stop()
	if scheduler.Status().State != "stopped" {
		t.Fatalf("expected stopped state")
	}
}

func TestStatusSnapshot(t *testing.T) {
	scheduler, _ := newTestScheduler(spikySource(), nil, &fakeRemediation{}, false, nil)

	scheduler.RunTick(context.Background())
	status := scheduler.Status()

	if status.State != "stopped" {
		t.Fatalf("expected stopped, got %s", status.State)
	}
	if status.LastTick.IsZero() {
		t.Fatalf("expected last tick to be recorded")
	}
	if status.SigmaThreshold != 3.0 {
		t.Fatalf("expected threshold 3.0, got %f", status.SigmaThreshold)
	}
	if len(status.RecentAnomalies) != 1 {
		t.Fatalf("expected 1 recent anomaly in status")
	}
	if len(status.PendingWorkflows) != 1 {
		t.Fatalf("expected 1 pending workflow in status")
	}
}

func TestAnomalyBufferIsBounded(t *testing.T) {
	orchestrator := NewOrchestrator(nil, &fakeRemediation{}, nil, time.Nanosecond)
	scheduler := NewScheduler(Options{
		Metrics:      spikySource(),
		Estimator:    NewEstimator(2),
		Detector:     NewDetector(3.0),
		Orchestrator: orchestrator,
		Pairs:        []Pair{{Service: "payments-api", Metric: "latency_p95_ms"}},
		BufferSize:   3,
	})

	for i := 0; i < 5; i++ {
		scheduler.RunTick(context.Background())
	}
	if got := len(scheduler.RecentAnomalies()); got != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", got)
	}
}
