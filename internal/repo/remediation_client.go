package repo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/models"
	"github.com/sentinelstack/sentinel-observer/internal/utils"
)

// RemediationClient invokes the five external remediation integrations. Each
// capability returns a reference identifier or a typed failure; the
// orchestrator treats any error as the failing step's reason.
type RemediationClient struct {
	baseURL          string
	incidentsPath    string
	codeSearchPath   string
	fixRequestsPath  string
	notificationPath string
	ticketsPath      string
	httpClient       *http.Client
}

// RemediationPaths names the endpoint for each capability.
type RemediationPaths struct {
	Incidents    string
	CodeSearch   string
	FixRequests  string
	Notification string
	Tickets      string
}

// NewRemediationClient constructs a client for the remediation integrations.
func NewRemediationClient(baseURL string, paths RemediationPaths, timeout time.Duration) *RemediationClient {
	return &RemediationClient{
		baseURL:          strings.TrimRight(baseURL, "/"),
		incidentsPath:    paths.Incidents,
		codeSearchPath:   paths.CodeSearch,
		fixRequestsPath:  paths.FixRequests,
		notificationPath: paths.Notification,
		ticketsPath:      paths.Tickets,
		httpClient:       &http.Client{Timeout: timeout},
	}
}

// RegisterIncident files a new incident record and returns its identifier.
func (c *RemediationClient) RegisterIncident(ctx context.Context, in models.RegisterIncidentInput) (models.IncidentRef, error) {
	var response struct {
		IncidentID string `json:"incident_id"`
	}
	if err := c.post(ctx, "remediation.RegisterIncident", c.incidentsPath, in, &response); err != nil {
		return models.IncidentRef{}, err
	}
	if response.IncidentID == "" {
		return models.IncidentRef{}, utils.NewAppError("remediation.RegisterIncident", "integration returned no incident id", nil)
	}
	return models.IncidentRef{ID: response.IncidentID}, nil
}

// SearchCode looks up repository files matching the given path pattern.
// An empty result is valid; later steps fall back to earlier guesses.
func (c *RemediationClient) SearchCode(ctx context.Context, pattern string) ([]string, error) {
	endpoint := resolvePath(c.baseURL, c.codeSearchPath)
	query := url.Values{}
	query.Set("pattern", pattern)
	endpoint += "?" + query.Encode()

	var response struct {
		Files []string `json:"files"`
	}
	if err := doJSON(ctx, c.httpClient, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, utils.NewAppError("remediation.SearchCode", fmt.Sprintf("pattern %q", pattern), err)
	}
	return response.Files, nil
}

// OpenFixRequest opens a code-review request for the proposed fix.
func (c *RemediationClient) OpenFixRequest(ctx context.Context, in models.OpenFixRequestInput) (models.FixRequestRef, error) {
	var response struct {
		Number int    `json:"number"`
		URL    string `json:"url"`
	}
	if err := c.post(ctx, "remediation.OpenFixRequest", c.fixRequestsPath, in, &response); err != nil {
		return models.FixRequestRef{}, err
	}
	return models.FixRequestRef{Number: response.Number, URL: response.URL, FilePath: in.FilePath}, nil
}

// NotifyTeam posts a chat notification about the incident.
func (c *RemediationClient) NotifyTeam(ctx context.Context, in models.NotifyTeamInput) (models.NotificationRef, error) {
	var response struct {
		Channel string `json:"channel"`
	}
	if err := c.post(ctx, "remediation.NotifyTeam", c.notificationPath, in, &response); err != nil {
		return models.NotificationRef{}, err
	}
	return models.NotificationRef{Channel: response.Channel}, nil
}

// CreateTicket files a tracking ticket for the incident.
func (c *RemediationClient) CreateTicket(ctx context.Context, in models.CreateTicketInput) (models.TicketRef, error) {
	var response struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	if err := c.post(ctx, "remediation.CreateTicket", c.ticketsPath, in, &response); err != nil {
		return models.TicketRef{}, err
	}
	return models.TicketRef{Key: response.Key, URL: response.URL}, nil
}

func (c *RemediationClient) post(ctx context.Context, op, p string, payload, out any) error {
	if c == nil || c.baseURL == "" {
		return utils.NewAppError(op, "remediation integration not configured", ErrSourceUnavailable)
	}
	endpoint := resolvePath(c.baseURL, p)
	if err := doJSON(ctx, c.httpClient, http.MethodPost, endpoint, payload, out); err != nil {
		return utils.NewAppError(op, "integration call failed", err)
	}
	return nil
}
