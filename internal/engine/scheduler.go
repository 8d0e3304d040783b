package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/metrics"
	"github.com/sentinelstack/sentinel-observer/internal/models"
	"github.com/sentinelstack/sentinel-observer/internal/repo"
	"github.com/sentinelstack/sentinel-observer/internal/utils"
)

// MetricSource provides time-series samples for a (service, metric) pair.
type MetricSource interface {
	QueryRange(ctx context.Context, service, metric string, from, to time.Time) (models.MetricWindow, error)
}

// CommitSource lists commits authored within a time range. A nil slice with a
// nil error means the source is not configured.
type CommitSource interface {
	RecentCommits(ctx context.Context, from, to time.Time) ([]models.CommitRef, error)
}

// AnomalyPublisher emits detected anomalies to an external stream. Publishing
// is best effort and never blocks detection.
type AnomalyPublisher interface {
	PublishAnomaly(ctx context.Context, anomaly models.Anomaly) error
}

// ActivityFeed is the scheduler's view of the activity aggregator.
type ActivityFeed interface {
	Record(category models.ActivityCategory, summary, status, refURL string)
	Recent(limit int) []models.ActivityLogEntry
}

// Pair names one watched (service, metric) combination.
type Pair struct {
	Service string
	Metric  string
}

// Options wires the scheduler's collaborators and tuning knobs.
type Options struct {
	Logger         *slog.Logger
	Metrics        MetricSource
	Commits        CommitSource
	Estimator      *Estimator
	Detector       *Detector
	Correlator     *Correlator
	Orchestrator   *Orchestrator
	Activity       ActivityFeed
	Publisher      AnomalyPublisher
	Pairs          []Pair
	TickInterval   time.Duration
	BaselineWindow time.Duration
	CurrentWindow  time.Duration
	BufferSize     int
	ProposeFloor   models.Severity
	AutoApprove    bool
}

// Scheduler drives the observation loop: on each tick it evaluates every
// watched pair, proposes workflows for anomalies, and tracks tick latency.
// Start is idempotent; Stop drains the in-flight tick before returning.
type Scheduler struct {
	logger       *slog.Logger
	metricSrc    MetricSource
	commitSrc    CommitSource
	estimator    *Estimator
	detector     *Detector
	correlator   *Correlator
	orchestrator *Orchestrator
	activity     ActivityFeed
	publisher    AnomalyPublisher
	pairs        []Pair
	interval     time.Duration
	baselineSpan time.Duration
	currentSpan  time.Duration
	proposeFloor models.Severity
	autoApprove  bool

	latency *utils.LatencyTracker

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
	lastTick time.Time

	// tickMu serializes ticks; a tick still running when the next fires
	// makes the new one a no-op instead of piling up.
	tickMu sync.Mutex

	bufMu     sync.RWMutex
	anomalies []models.Anomaly
	bufSize   int
}

// NewScheduler constructs a scheduler from its options. Nil optional
// collaborators (commits, publisher) disable the corresponding behavior.
func NewScheduler(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	baselineSpan := opts.BaselineWindow
	if baselineSpan <= 0 {
		baselineSpan = 7 * 24 * time.Hour
	}
	currentSpan := opts.CurrentWindow
	if currentSpan <= 0 {
		currentSpan = time.Hour
	}
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = 50
	}

	return &Scheduler{
		logger:       logger,
		metricSrc:    opts.Metrics,
		commitSrc:    opts.Commits,
		estimator:    opts.Estimator,
		detector:     opts.Detector,
		correlator:   opts.Correlator,
		orchestrator: opts.Orchestrator,
		activity:     opts.Activity,
		publisher:    opts.Publisher,
		pairs:        opts.Pairs,
		interval:     interval,
		baselineSpan: baselineSpan,
		currentSpan:  currentSpan,
		proposeFloor: opts.ProposeFloor,
		autoApprove:  opts.AutoApprove,
		latency:      utils.NewLatencyTracker(256),
		bufSize:      bufSize,
	}
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op; the loop keeps its cadence.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Debug("start requested while already running")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(s.stop, s.done)
	s.logger.Info("observer started",
		slog.Duration("tick_interval", s.interval),
		slog.Int("watched_pairs", len(s.pairs)))
}

// Stop halts the tick loop and waits for any in-flight tick to finish. An
// executing workflow is never interrupted: decisions run synchronously in
// their caller's goroutine, outside the loop. Stopping a stopped scheduler
// is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.logger.Info("observer stopped")
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// First evaluation happens immediately rather than one interval in.
	s.RunTick(context.Background())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.RunTick(context.Background())
		}
	}
}

// RunTick evaluates every watched pair once. If another tick is in flight the
// call returns immediately without evaluating anything.
func (s *Scheduler) RunTick(ctx context.Context) {
	if !s.tickMu.TryLock() {
		s.logger.Debug("tick skipped, previous still running")
		return
	}
	defer s.tickMu.Unlock()

	started := time.Now()
	now := started.UTC()
	outcome := "ok"

	for _, pair := range s.pairs {
		if err := s.evaluatePair(ctx, pair, now); err != nil {
			outcome = "error"
			s.logger.Warn("pair evaluation failed",
				slog.String("service", pair.Service),
				slog.String("metric", pair.Metric),
				slog.Any("error", err))
		}
	}

	elapsed := time.Since(started)
	s.latency.Observe(elapsed)
	metrics.ObserveTick(elapsed, outcome)

	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()
}

// evaluatePair runs the detection pipeline for one (service, metric) pair.
// Skip conditions (no data, insufficient baseline) return nil; only source
// failures propagate as errors so one bad pair never hides the others.
func (s *Scheduler) evaluatePair(ctx context.Context, pair Pair, now time.Time) error {
	baselineWin, err := s.metricSrc.QueryRange(ctx, pair.Service, pair.Metric, now.Add(-s.baselineSpan), now.Add(-s.currentSpan))
	if err != nil {
		if errors.Is(err, repo.ErrEmptyResult) {
			s.logger.Debug("no baseline data", slog.String("service", pair.Service), slog.String("metric", pair.Metric))
			return nil
		}
		return err
	}

	baseline, err := s.estimator.Estimate(baselineWin)
	if err != nil {
		if errors.Is(err, ErrInsufficientBaseline) {
			s.logger.Debug("baseline not usable this tick",
				slog.String("service", pair.Service), slog.String("metric", pair.Metric))
			return nil
		}
		return err
	}

	currentWin, err := s.metricSrc.QueryRange(ctx, pair.Service, pair.Metric, now.Add(-s.currentSpan), now)
	if err != nil {
		if errors.Is(err, repo.ErrEmptyResult) {
			return nil
		}
		return err
	}

	anomaly, found := s.detector.Evaluate(pair.Service, pair.Metric, baseline, currentWin, now)
	if !found {
		return nil
	}

	metrics.CountAnomaly(string(anomaly.Severity))
	s.bufferAnomaly(anomaly)
	if s.activity != nil {
		s.activity.Record(models.CategoryDetector,
			formatAnomalySummary(anomaly), "detected", "")
	}
	s.logger.Info("anomaly detected",
		slog.String("service", anomaly.Service),
		slog.String("metric", anomaly.Metric),
		slog.Float64("sigma", anomaly.SigmaDeviation),
		slog.String("severity", string(anomaly.Severity)))

	if s.publisher != nil {
		if err := s.publisher.PublishAnomaly(ctx, anomaly); err != nil {
			s.logger.Warn("anomaly publish failed", slog.Any("error", err))
		}
	}

	if !anomaly.Severity.AtLeast(s.proposeFloor) {
		// Recorded and buffered, but below the proposal floor.
		return nil
	}

	suspects := s.correlateCommits(ctx, anomaly)

	wf, created := s.orchestrator.Propose(anomaly, suspects)
	if !created {
		return nil
	}

	if s.autoApprove {
		if _, err := s.orchestrator.Approve(ctx, wf.ID, "auto-approved by configuration"); err != nil {
			s.logger.Warn("auto-approval failed", slog.String("workflow_id", wf.ID), slog.Any("error", err))
		}
	}
	return nil
}

// correlateCommits ranks recent commits against the anomaly. Failures here
// degrade to an empty suspect list; detection already happened.
func (s *Scheduler) correlateCommits(ctx context.Context, anomaly models.Anomaly) []models.SuspectCommit {
	if s.commitSrc == nil || s.correlator == nil {
		return nil
	}
	commits, err := s.commitSrc.RecentCommits(ctx, anomaly.DetectedAt.Add(-s.correlator.window), anomaly.DetectedAt)
	if err != nil {
		s.logger.Warn("commit lookup failed", slog.Any("error", err))
		return nil
	}
	return s.correlator.Rank(anomaly, commits)
}

func (s *Scheduler) bufferAnomaly(anomaly models.Anomaly) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	// Newest first, bounded.
	s.anomalies = append([]models.Anomaly{anomaly}, s.anomalies...)
	if len(s.anomalies) > s.bufSize {
		s.anomalies = s.anomalies[:s.bufSize]
	}
}

// RecentAnomalies returns buffered anomalies, newest first.
func (s *Scheduler) RecentAnomalies() []models.Anomaly {
	s.bufMu.RLock()
	defer s.bufMu.RUnlock()
	out := make([]models.Anomaly, len(s.anomalies))
	copy(out, s.anomalies)
	return out
}

// PendingWorkflows lists workflows awaiting a decision.
func (s *Scheduler) PendingWorkflows() []models.Workflow {
	return s.orchestrator.Pending()
}

// Approve forwards an operator approval to the orchestrator. The remediation
// sequence runs synchronously in the caller's goroutine, so a scheduler Stop
// never interrupts it.
func (s *Scheduler) Approve(ctx context.Context, id, reason string) (models.Workflow, error) {
	return s.orchestrator.Approve(ctx, id, reason)
}

// Reject forwards an operator rejection to the orchestrator.
func (s *Scheduler) Reject(id, reason string) (models.Workflow, error) {
	return s.orchestrator.Reject(id, reason)
}

// ActivityLog returns the most recent merged feed entries.
func (s *Scheduler) ActivityLog(limit int) []models.ActivityLogEntry {
	if s.activity == nil {
		return nil
	}
	return s.activity.Recent(limit)
}

// Status assembles the point-in-time snapshot for the status query.
func (s *Scheduler) Status() models.ObserverStatus {
	s.mu.Lock()
	state := "stopped"
	if s.running {
		state = "running"
	}
	lastTick := s.lastTick
	s.mu.Unlock()

	return models.ObserverStatus{
		State:            state,
		LastTick:         lastTick,
		TickInterval:     s.interval,
		SigmaThreshold:   s.detector.Threshold(),
		TickP95:          s.latency.Percentile(95),
		RecentAnomalies:  s.RecentAnomalies(),
		PendingWorkflows: s.PendingWorkflows(),
		Activity:         s.ActivityLog(20),
	}
}

func formatAnomalySummary(a models.Anomaly) string {
	return fmt.Sprintf("%s anomaly on %s: current %.2f vs baseline %.2f (%.1f sigma)",
		a.Severity, a.Fingerprint(), a.CurrentValue, a.BaselineMean, a.SigmaDeviation)
}
