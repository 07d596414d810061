// Package poller is the client side of the progress protocol: it submits
// jobs to the sightline API and polls their progress by task id.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Task statuses reported by the API.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrNotFound is returned for an unknown or expired task id.
var ErrNotFound = eris.New("poller: task not found")

// Progress is one progress reading.
type Progress struct {
	TaskID        string `json:"taskId"`
	Status        string `json:"status"`
	Stage         string `json:"stage"`
	Percent       int    `json:"percent"`
	CorrelationID string `json:"correlationId,omitempty"`
	ErrorKind     string `json:"errorKind,omitempty"`
	Error         string `json:"error,omitempty"`
	// Simulated is set on locally estimated readings.
	Simulated bool `json:"-"`
}

// Terminal reports whether polling can stop.
func (p *Progress) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// Summary is the part of a stored summary the client shows.
type Summary struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Artifact struct {
		Title     string   `json:"title,omitempty"`
		Channel   string   `json:"channel,omitempty"`
		SourceURL string   `json:"source_url,omitempty"`
		Content   string   `json:"content"`
		KeyPoints []string `json:"key_points,omitempty"`
	} `json:"artifact"`
}

// SubmitRequest starts a job.
type SubmitRequest struct {
	URL string `json:"url"`
	// TaskID is the provisional id the client is already showing.
	TaskID string `json:"taskId,omitempty"`
}

// SubmitResponse carries the canonical task id.
type SubmitResponse struct {
	TaskID        string   `json:"taskId"`
	ProvisionalID string   `json:"provisionalId,omitempty"`
	Cached        bool     `json:"cached,omitempty"`
	Summary       *Summary `json:"summary,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	Code       string `json:"code,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("poller: status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("poller: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the sightline API.
type Client interface {
	// Submit starts an async job.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	// GetProgress reads the progress record for taskID.
	GetProgress(ctx context.Context, taskID string) (*Progress, error)
	// GetSummary reads the caller's stored summary for a video.
	GetSummary(ctx context.Context, sourceID string) (*Summary, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithToken authenticates as a signed-in user.
func WithToken(token string) Option {
	return func(c *httpClient) {
		c.token = token
	}
}

// WithFingerprint identifies an anonymous client.
func WithFingerprint(fp string) Option {
	return func(c *httpClient) {
		c.fingerprint = fp
	}
}

type httpClient struct {
	baseURL     string
	token       string
	fingerprint string
	http        *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "poller: marshal submit request")
	}
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/summarize?async=true", payload, &out); err != nil {
		return nil, eris.Wrap(err, "poller: submit")
	}
	return &out, nil
}

func (c *httpClient) GetProgress(ctx context.Context, taskID string) (*Progress, error) {
	var out Progress
	if err := c.do(ctx, http.MethodGet, "/api/progress/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) GetSummary(ctx context.Context, sourceID string) (*Summary, error) {
	var out Summary
	if err := c.do(ctx, http.MethodGet, "/api/summaries/"+url.PathEscape(sourceID), nil, &out); err != nil {
		return nil, eris.Wrapf(err, "poller: get summary %s", sourceID)
	}
	return &out, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return eris.Wrap(err, "poller: create request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.fingerprint != "" {
		req.Header.Set("X-Fingerprint", c.fingerprint)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "poller: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "poller: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jerr := json.Unmarshal(body, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "poller: unmarshal response")
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
