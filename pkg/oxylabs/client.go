// Package oxylabs provides a client for the Oxylabs realtime scraper API.
package oxylabs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Oxylabs realtime operations.
type Client interface {
	// Query fetches a URL through the scraper network and returns the first
	// result's content.
	Query(ctx context.Context, q Query) (*Result, error)
}

// Query describes a single realtime scrape.
type Query struct {
	Source string `json:"source"`
	URL    string `json:"url"`
	Render string `json:"render,omitempty"`
	Parse  bool   `json:"parse"`
	GeoLoc string `json:"geo_location,omitempty"`
}

// Result is one scraped page.
type Result struct {
	Content    string `json:"content"`
	StatusCode int    `json:"status_code"`
	URL        string `json:"url"`
	JobID      string `json:"job_id"`
}

type queryResponse struct {
	Results []Result `json:"results"`
}

// Option configures the Oxylabs client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound queries per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	username string
	password string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a new Oxylabs client using basic auth credentials.
func NewClient(username, password string, opts ...Option) Client {
	c := &httpClient{
		username: username,
		password: password,
		baseURL:  "https://realtime.oxylabs.io/v1",
		http:     &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (c *httpClient) Query(ctx context.Context, q Query) (*Result, error) {
	if q.Source == "" {
		q.Source = "universal"
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, eris.Wrap(err, "oxylabs: marshal query")
	}

	const maxAttempts = 3
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "oxylabs: rate limit wait")
			}
		}

		body, status, err := c.post(ctx, payload)
		switch {
		case err != nil:
			lastErr = err
		case retryableStatus(status):
			lastErr = eris.Errorf("oxylabs: status %d: %s", status, truncate(body))
		case status != http.StatusOK:
			return nil, eris.Errorf("oxylabs: unexpected status %d: %s", status, truncate(body))
		default:
			var resp queryResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, eris.Wrap(err, "oxylabs: unmarshal response")
			}
			if len(resp.Results) == 0 || resp.Results[0].Content == "" {
				return nil, eris.New("oxylabs: no content in response")
			}
			return &resp.Results[0], nil
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, eris.Wrap(lastErr, "oxylabs: query failed")
}

func (c *httpClient) post(ctx context.Context, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/queries", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, eris.Wrap(err, "oxylabs: create request")
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "oxylabs: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "oxylabs: read response body")
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200])
	}
	return string(b)
}
