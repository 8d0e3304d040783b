package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/models"
	"github.com/sentinelstack/sentinel-observer/internal/utils"
)

// MetricsClient queries the external metric source for time-series windows.
type MetricsClient struct {
	baseURL    string
	queryPath  string
	maxRetries int
	httpClient *http.Client
}

// NewMetricsClient constructs a client targeting the configured metric source.
func NewMetricsClient(baseURL, queryPath string, timeout time.Duration, maxRetries int) *MetricsClient {
	return &MetricsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		queryPath:  queryPath,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// QueryRange fetches samples for one (service, metric) pair over [from, to].
// Returns ErrSourceUnavailable on transport failure and ErrEmptyResult when
// the window holds no samples.
func (c *MetricsClient) QueryRange(ctx context.Context, service, metric string, from, to time.Time) (models.MetricWindow, error) {
	if c == nil || c.baseURL == "" {
		return models.MetricWindow{}, utils.NewAppError("metrics.QueryRange", "metric source not configured", ErrSourceUnavailable)
	}

	payload := map[string]any{
		"service": service,
		"metric":  metric,
		"from":    from.Format(time.RFC3339),
		"to":      to.Format(time.RFC3339),
	}

	var response struct {
		Samples []struct {
			Timestamp time.Time `json:"timestamp"`
			Value     float64   `json:"value"`
		} `json:"samples"`
	}

	endpoint := resolvePath(c.baseURL, c.queryPath)
	if err := doJSONRetry(ctx, c.httpClient, http.MethodPost, endpoint, payload, &response, c.maxRetries); err != nil {
		return models.MetricWindow{}, fmt.Errorf("metric source query failed: %w", err)
	}

	window := models.MetricWindow{
		Service: service,
		Metric:  metric,
		From:    from,
		To:      to,
		Samples: make([]models.Sample, 0, len(response.Samples)),
	}
	for _, s := range response.Samples {
		window.Samples = append(window.Samples, models.Sample{Timestamp: s.Timestamp, Value: s.Value})
	}
	if len(window.Samples) == 0 {
		return models.MetricWindow{}, fmt.Errorf("metric source returned no samples for %s/%s: %w", service, metric, ErrEmptyResult)
	}
	return window, nil
}
