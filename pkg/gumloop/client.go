// Package gumloop provides a client for the Gumloop pipeline API.
package gumloop

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Run states reported by get_pl_run.
const (
	StateRunning    = "RUNNING"
	StateDone       = "DONE"
	StateFailed     = "FAILED"
	StateTerminated = "TERMINATED"
)

// Client defines the Gumloop pipeline operations.
type Client interface {
	// StartPipeline launches a saved flow with the given named inputs.
	StartPipeline(ctx context.Context, flowID string, inputs map[string]string) (*StartResponse, error)
	// GetRun fetches the current state of a pipeline run.
	GetRun(ctx context.Context, runID string) (*Run, error)
}

// StartResponse is returned by start_pipeline.
type StartResponse struct {
	RunID string `json:"run_id"`
	URL   string `json:"url"`
}

// Run is a pipeline run's status and outputs.
type Run struct {
	RunID   string         `json:"run_id"`
	State   string         `json:"state"`
	Outputs map[string]any `json:"outputs"`
	Log     []string       `json:"log"`
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	switch r.State {
	case StateDone, StateFailed, StateTerminated:
		return true
	}
	return false
}

// Text returns the first non-empty string output, checking the usual keys
// before falling back to any string value.
func (r *Run) Text() string {
	for _, key := range []string{"transcript", "text", "content", "summary", "result", "output"} {
		if s := stringOf(r.Outputs[key]); s != "" {
			return s
		}
	}
	for _, v := range r.Outputs {
		if s := stringOf(v); s != "" {
			return s
		}
	}
	return ""
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		if len(t) > 0 {
			return stringOf(t[0])
		}
	}
	return ""
}

type pipelineInput struct {
	InputName string `json:"input_name"`
	Value     string `json:"value"`
}

type startRequest struct {
	UserID         string          `json:"user_id"`
	SavedItemID    string          `json:"saved_item_id"`
	PipelineInputs []pipelineInput `json:"pipeline_inputs"`
}

// Option configures the Gumloop client.
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

// WithRateLimit caps requests per second. Zero disables limiting.
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
	apiKey  string
	userID  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Gumloop client.
func NewClient(apiKey, userID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		userID:  userID,
		baseURL: "https://api.gumloop.com/api/v1",
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(2, 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) StartPipeline(ctx context.Context, flowID string, inputs map[string]string) (*StartResponse, error) {
	reqBody := startRequest{UserID: c.userID, SavedItemID: flowID}
	for name, value := range inputs {
		reqBody.PipelineInputs = append(reqBody.PipelineInputs, pipelineInput{InputName: name, Value: value})
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "gumloop: marshal start request")
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/start_pipeline", payload)
	if err != nil {
		return nil, eris.Wrapf(err, "gumloop: start pipeline %s", flowID)
	}

	var out StartResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "gumloop: unmarshal start response")
	}
	if out.RunID == "" {
		return nil, eris.New("gumloop: start response missing run_id")
	}
	return &out, nil
}

func (c *httpClient) GetRun(ctx context.Context, runID string) (*Run, error) {
	q := url.Values{}
	q.Set("run_id", runID)
	q.Set("user_id", c.userID)

	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/get_pl_run?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "gumloop: get run %s", runID)
	}

	var out Run
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "gumloop: unmarshal run")
	}
	return &out, nil
}

func (c *httpClient) do(ctx context.Context, method, reqURL string, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "gumloop: rate limit wait")
		}
	}

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
	if err != nil {
		return nil, eris.Wrap(err, "gumloop: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "gumloop: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "gumloop: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, eris.Errorf("gumloop: unexpected status %d: %s", resp.StatusCode, snippet)
	}
	return body, nil
}
