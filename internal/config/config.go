package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the observer engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Observer ObserverConfig `yaml:"observer"`
	Watch    []WatchPair    `yaml:"watch"`
	Clients  ClientsConfig  `yaml:"clients"`
	Activity ActivityConfig `yaml:"activity"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP control surface and metrics listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ObserverConfig holds the detection and orchestration tunables.
type ObserverConfig struct {
	TickInterval       time.Duration `yaml:"tickInterval"`
	SigmaThreshold     float64       `yaml:"sigmaThreshold"`
	BaselineWindow     time.Duration `yaml:"baselineWindow"`
	CurrentWindow      time.Duration `yaml:"currentWindow"`
	CooldownWindow     time.Duration `yaml:"cooldownWindow"`
	CorrelationWindow  time.Duration `yaml:"correlationWindow"`
	MinBaselineSamples int           `yaml:"minBaselineSamples"`
	AnomalyBufferSize  int           `yaml:"anomalyBufferSize"`
	ProposeFloor       string        `yaml:"proposeFloor"`
	AutoApprove        bool          `yaml:"autoApprove"`
}

// WatchPair names one (service, metric) time-series to evaluate each tick.
type WatchPair struct {
	Service string `yaml:"service"`
	Metric  string `yaml:"metric"`
}

// ClientsConfig groups the external adapter endpoints.
type ClientsConfig struct {
	Metrics     AdapterConfig     `yaml:"metrics"`
	Commits     AdapterConfig     `yaml:"commits"`
	Remediation RemediationConfig `yaml:"remediation"`
}

// AdapterConfig configures one HTTP source adapter.
type AdapterConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	Path       string        `yaml:"path"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// RemediationConfig configures the five remediation integration endpoints.
type RemediationConfig struct {
	BaseURL          string        `yaml:"baseURL"`
	Timeout          time.Duration `yaml:"timeout"`
	IncidentsPath    string        `yaml:"incidentsPath"`
	CodeSearchPath   string        `yaml:"codeSearchPath"`
	FixRequestsPath  string        `yaml:"fixRequestsPath"`
	NotificationPath string        `yaml:"notificationPath"`
	TicketsPath      string        `yaml:"ticketsPath"`
}

// ActivityConfig controls the feed buffer and optional durable sink.
type ActivityConfig struct {
	BufferSize int    `yaml:"bufferSize"`
	SQLitePath string `yaml:"sqlitePath"`
}

// EventsConfig controls the optional Kafka anomaly event publisher.
type EventsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("OBSERVER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Observer: ObserverConfig{
			TickInterval:       60 * time.Second,
			SigmaThreshold:     3.0,
			BaselineWindow:     7 * 24 * time.Hour,
			CurrentWindow:      time.Hour,
			CooldownWindow:     30 * time.Minute,
			CorrelationWindow:  2 * time.Hour,
			MinBaselineSamples: 2,
			AnomalyBufferSize:  50,
		},
		Clients: ClientsConfig{
			Metrics: AdapterConfig{
				Path:       "/api/v1/metrics/query_range",
				Timeout:    5 * time.Second,
				MaxRetries: 2,
			},
			Commits: AdapterConfig{
				Path:       "/api/v1/commits",
				Timeout:    5 * time.Second,
				MaxRetries: 2,
			},
			Remediation: RemediationConfig{
				Timeout:          30 * time.Second,
				IncidentsPath:    "/api/incidents/register",
				CodeSearchPath:   "/api/code/search",
				FixRequestsPath:  "/api/fixes/open",
				NotificationPath: "/api/notify",
				TicketsPath:      "/api/tickets/create",
			},
		},
		Activity: ActivityConfig{BufferSize: 200},
		Logging:  LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	if cfg.Observer.TickInterval <= 0 {
		return fmt.Errorf("observer.tickInterval must be positive")
	}
	if cfg.Observer.SigmaThreshold <= 0 {
		return fmt.Errorf("observer.sigmaThreshold must be positive")
	}
	if cfg.Observer.MinBaselineSamples < 2 {
		cfg.Observer.MinBaselineSamples = 2
	}
	if cfg.Observer.AnomalyBufferSize <= 0 {
		cfg.Observer.AnomalyBufferSize = 50
	}
	for _, pair := range cfg.Watch {
		if pair.Service == "" || pair.Metric == "" {
			return fmt.Errorf("watch entries require both service and metric")
		}
	}
	if cfg.Events.Enabled && (len(cfg.Events.Brokers) == 0 || cfg.Events.Topic == "") {
		return fmt.Errorf("events.brokers and events.topic are required when events are enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OBSERVER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("OBSERVER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("OBSERVER_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Observer.TickInterval = d
		}
	}
	if v := os.Getenv("OBSERVER_SIGMA_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observer.SigmaThreshold = f
		}
	}
	if v := os.Getenv("OBSERVER_COOLDOWN_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Observer.CooldownWindow = d
		}
	}
	if v := os.Getenv("OBSERVER_AUTO_APPROVE"); v != "" {
		cfg.Observer.AutoApprove = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OBSERVER_METRIC_SOURCE_URL"); v != "" {
		cfg.Clients.Metrics.BaseURL = v
	}
	if v := os.Getenv("OBSERVER_COMMIT_SOURCE_URL"); v != "" {
		cfg.Clients.Commits.BaseURL = v
	}
	if v := os.Getenv("OBSERVER_REMEDIATION_URL"); v != "" {
		cfg.Clients.Remediation.BaseURL = v
	}
	if v := os.Getenv("OBSERVER_ACTIVITY_SQLITE_PATH"); v != "" {
		cfg.Activity.SQLitePath = v
	}
	if v := os.Getenv("OBSERVER_EVENTS_BROKERS"); v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
		cfg.Events.Enabled = true
	}
	if v := os.Getenv("OBSERVER_EVENTS_TOPIC"); v != "" {
		cfg.Events.Topic = v
	}
	if v := os.Getenv("OBSERVER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OBSERVER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
