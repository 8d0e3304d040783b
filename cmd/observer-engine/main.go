package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelstack/sentinel-observer/internal/activity"
	"github.com/sentinelstack/sentinel-observer/internal/api"
	"github.com/sentinelstack/sentinel-observer/internal/config"
	"github.com/sentinelstack/sentinel-observer/internal/engine"
	"github.com/sentinelstack/sentinel-observer/internal/metrics"
	"github.com/sentinelstack/sentinel-observer/internal/models"
	"github.com/sentinelstack/sentinel-observer/internal/notify"
	"github.com/sentinelstack/sentinel-observer/internal/repo"
	"github.com/sentinelstack/sentinel-observer/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting observer-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var sink activity.Sink
	if cfg.Activity.SQLitePath != "" {
		sqliteSink, err := activity.NewSQLiteSink(cfg.Activity.SQLitePath)
		if err != nil {
			logger.Warn("activity sink unavailable", slog.Any("error", err))
		} else {
			sink = sqliteSink
			defer sqliteSink.Close()
		}
	}
	feed := activity.NewFeed(logger, cfg.Activity.BufferSize, sink)

	var publisher engine.AnomalyPublisher
	if cfg.Events.Enabled {
		kafkaPublisher := notify.NewKafkaPublisher(logger, cfg.Events.Brokers, cfg.Events.Topic)
		publisher = kafkaPublisher
		defer kafkaPublisher.Close()
	}

	metricsClient := repo.NewMetricsClient(
		cfg.Clients.Metrics.BaseURL,
		cfg.Clients.Metrics.Path,
		cfg.Clients.Metrics.Timeout,
		cfg.Clients.Metrics.MaxRetries,
	)
	commitsClient := repo.NewCommitsClient(
		cfg.Clients.Commits.BaseURL,
		cfg.Clients.Commits.Path,
		cfg.Clients.Commits.Timeout,
		cfg.Clients.Commits.MaxRetries,
	)
	remediationClient := repo.NewRemediationClient(
		cfg.Clients.Remediation.BaseURL,
		repo.RemediationPaths{
			Incidents:    cfg.Clients.Remediation.IncidentsPath,
			CodeSearch:   cfg.Clients.Remediation.CodeSearchPath,
			FixRequests:  cfg.Clients.Remediation.FixRequestsPath,
			Notification: cfg.Clients.Remediation.NotificationPath,
			Tickets:      cfg.Clients.Remediation.TicketsPath,
		},
		cfg.Clients.Remediation.Timeout,
	)

	orchestrator := engine.NewOrchestrator(logger, remediationClient, feed, cfg.Observer.CooldownWindow)

	pairs := make([]engine.Pair, 0, len(cfg.Watch))
	for _, pair := range cfg.Watch {
		pairs = append(pairs, engine.Pair{Service: pair.Service, Metric: pair.Metric})
	}

	scheduler := engine.NewScheduler(engine.Options{
		Logger:         logger,
		Metrics:        metricsClient,
		Commits:        commitsClient,
		Estimator:      engine.NewEstimator(cfg.Observer.MinBaselineSamples),
		Detector:       engine.NewDetector(cfg.Observer.SigmaThreshold),
		Correlator:     engine.NewCorrelator(cfg.Observer.CorrelationWindow),
		Orchestrator:   orchestrator,
		Activity:       feed,
		Publisher:      publisher,
		Pairs:          pairs,
		TickInterval:   cfg.Observer.TickInterval,
		BaselineWindow: cfg.Observer.BaselineWindow,
		CurrentWindow:  cfg.Observer.CurrentWindow,
		BufferSize:     cfg.Observer.AnomalyBufferSize,
		ProposeFloor:   models.Severity(cfg.Observer.ProposeFloor),
		AutoApprove:    cfg.Observer.AutoApprove,
	})

	handlers := api.NewHandlers(logger, scheduler)
	server := api.NewServer(cfg.Server, logger, handlers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	// The loop stays idle until started via the API unless pairs are watched
	// from the start.
	if len(pairs) > 0 {
		scheduler.Start()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("observer-engine stopped")
}
