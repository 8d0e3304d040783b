package repo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sentinelstack/sentinel-observer/internal/models"
)

// CommitsClient queries the external commit source for recently observed
// code changes.
type CommitsClient struct {
	baseURL     string
	commitsPath string
	maxRetries  int
	httpClient  *http.Client
}

// NewCommitsClient constructs a client targeting the configured commit source.
func NewCommitsClient(baseURL, commitsPath string, timeout time.Duration, maxRetries int) *CommitsClient {
	return &CommitsClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		commitsPath: commitsPath,
		maxRetries:  maxRetries,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// RecentCommits lists commits authored in [from, to]. An empty list is a
// valid outcome, not an error.
func (c *CommitsClient) RecentCommits(ctx context.Context, from, to time.Time) ([]models.CommitRef, error) {
	if c == nil || c.baseURL == "" {
		// No commit source configured: correlation degrades to "no suspects".
		return nil, nil
	}

	endpoint := resolvePath(c.baseURL, c.commitsPath)
	query := url.Values{}
	query.Set("since", from.Format(time.RFC3339))
	query.Set("until", to.Format(time.RFC3339))
	endpoint += "?" + query.Encode()

	var response struct {
		Commits []struct {
			SHA        string    `json:"sha"`
			Author     string    `json:"author"`
			Message    string    `json:"message"`
			AuthoredAt time.Time `json:"authored_at"`
			Files      []string  `json:"files"`
			URL        string    `json:"url"`
		} `json:"commits"`
	}

	if err := doJSONRetry(ctx, c.httpClient, http.MethodGet, endpoint, nil, &response, c.maxRetries); err != nil {
		return nil, fmt.Errorf("commit source query failed: %w", err)
	}

	commits := make([]models.CommitRef, 0, len(response.Commits))
	for _, commit := range response.Commits {
		commits = append(commits, models.CommitRef{
			SHA:        commit.SHA,
			Author:     commit.Author,
			Message:    firstLine(commit.Message),
			AuthoredAt: commit.AuthoredAt,
			Files:      commit.Files,
			URL:        commit.URL,
		})
	}
	return commits, nil
}

func firstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return message[:idx]
	}
	return message
}
