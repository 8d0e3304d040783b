package repo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/models"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestMetricsClientQueryRange(t *testing.T) {
	client := NewMetricsClient("http://metrics.local", "/api/v1/metrics/query_range", time.Second, 0)
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", req.Method)
		}
		return jsonResponse(http.StatusOK, `{"samples":[
			{"timestamp":"2026-03-14T11:00:00Z","value":101.5},
			{"timestamp":"2026-03-14T11:01:00Z","value":99.2}
		]}`), nil
	})

	window, err := client.QueryRange(context.Background(), "payments-api", "latency_p95_ms", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(window.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(window.Samples))
	}
	if window.Samples[0].Value != 101.5 {
		t.Fatalf("unexpected sample value %f", window.Samples[0].Value)
	}
	if window.Service != "payments-api" || window.Metric != "latency_p95_ms" {
		t.Fatalf("window identity not preserved: %+v", window)
	}
}

func TestMetricsClientEmptyWindow(t *testing.T) {
	client := NewMetricsClient("http://metrics.local", "/query", time.Second, 0)
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"samples":[]}`), nil
	})

	_, err := client.QueryRange(context.Background(), "svc", "m", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestMetricsClientServerError(t *testing.T) {
	client := NewMetricsClient("http://metrics.local", "/query", time.Second, 0)
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `{}`), nil
	})

	_, err := client.QueryRange(context.Background(), "svc", "m", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestMetricsClientUnconfigured(t *testing.T) {
	client := NewMetricsClient("", "/query", time.Second, 0)
	if _, err := client.QueryRange(context.Background(), "svc", "m", time.Now(), time.Now()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestCommitsClientRecentCommits(t *testing.T) {
	client := NewCommitsClient("http://commits.local", "/api/v1/commits", time.Second, 0)
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		query := req.URL.Query()
		if query.Get("since") == "" || query.Get("until") == "" {
			t.Fatalf("expected since/until query params, got %s", req.URL.RawQuery)
		}
		return jsonResponse(http.StatusOK, `{"commits":[
			{"sha":"abc123","author":"dev","message":"tune pool size\n\nlonger body","authored_at":"2026-03-14T11:30:00Z","files":["db.go"],"url":"https://git.example.com/abc123"}
		]}`), nil
	})

	commits, err := client.RecentCommits(context.Background(), time.Now().Add(-2*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(commits))
	}
	if commits[0].Message != "tune pool size" {
		t.Fatalf("expected message truncated to first line, got %q", commits[0].Message)
	}
}

func TestCommitsClientUnconfigured(t *testing.T) {
	client := NewCommitsClient("", "/api/v1/commits", time.Second, 0)
	commits, err := client.RecentCommits(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("unconfigured source must not error: %v", err)
	}
	if commits != nil {
		t.Fatalf("expected nil commits, got %v", commits)
	}
}

func TestRemediationClientRegisterIncident(t *testing.T) {
	client := NewRemediationClient("http://remediation.local", RemediationPaths{Incidents: "/api/incidents/register"}, time.Second)
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/incidents/register" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"incident_id":"INC-1001"}`), nil
	})

	ref, err := client.RegisterIncident(context.Background(), models.RegisterIncidentInput{Title: "t", Service: "svc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.ID != "INC-1001" {
		t.Fatalf("unexpected incident id %s", ref.ID)
	}
}

func TestRemediationClientRejectsEmptyIncidentID(t *testing.T) {
	client := NewRemediationClient("http://remediation.local", RemediationPaths{Incidents: "/register"}, time.Second)
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	})

	if _, err := client.RegisterIncident(context.Background(), models.RegisterIncidentInput{}); err == nil {
		t.Fatalf("expected error for missing incident id")
	}
}

func TestRemediationClientSearchCode(t *testing.T) {
	client := NewRemediationClient("http://remediation.local", RemediationPaths{CodeSearch: "/api/code/search"}, time.Second)
	client.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.URL.Query().Get("pattern"); got != "*latency*" {
			t.Fatalf("expected pattern query param, got %q", got)
		}
		return jsonResponse(http.StatusOK, `{"files":["internal/payments/db.go"]}`), nil
	})

	files, err := client.SearchCode(context.Background(), "*latency*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0] != "internal/payments/db.go" {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestRemediationClientUnconfigured(t *testing.T) {
	client := NewRemediationClient("", RemediationPaths{}, time.Second)
	if _, err := client.RegisterIncident(context.Background(), models.RegisterIncidentInput{}); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}
