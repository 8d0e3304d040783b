package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
)

var (
	// ErrSourceUnavailable signals an adapter I/O failure. The scheduler skips
	// the affected pair for the tick and retries on the next one.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrEmptyResult signals a query that yielded no samples.
	ErrEmptyResult = errors.New("empty result")
)

// resolvePath joins a base URL and endpoint path.
func resolvePath(baseURL, p string) string {
	if baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return strings.TrimRight(baseURL, "/") + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

// doJSON performs one HTTP exchange with a JSON body and decodes the response.
func doJSON(ctx context.Context, client *http.Client, method, endpoint string, payload, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: endpoint returned %s", ErrSourceUnavailable, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doJSONRetry wraps doJSON in a bounded exponential-backoff retry.
func doJSONRetry(ctx context.Context, client *http.Client, method, endpoint string, payload, out any, maxRetries int) error {
	attempts := uint(maxRetries + 1)
	if attempts == 0 {
		attempts = 1
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	)

	return r.Do(func() error {
		return doJSON(ctx, client, method, endpoint, payload, out)
	})
}
