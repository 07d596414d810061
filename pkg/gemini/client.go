// Package gemini wraps the Google Gen AI SDK for text generation with API
// key rotation on rate limits.
package gemini

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Client defines the Gemini operations used for summarization.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest is a single-prompt generation request.
type GenerateRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int32
}

// GenerateResponse carries the generated text and token usage.
type GenerateResponse struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Option configures the Gemini client.
type Option func(*config)

type config struct {
	baseURL string
}

// WithBaseURL points the SDK at a custom endpoint (for testing).
func WithBaseURL(u string) Option {
	return func(c *config) {
		c.baseURL = u
	}
}

type sdkClient struct {
	mu      sync.Mutex
	clients []*genai.Client
	current int
}

// NewClient creates a Gemini client. Several API keys may be supplied; a
// rate-limited key is rotated out in favor of the next one.
func NewClient(ctx context.Context, apiKeys []string, opts ...Option) (Client, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &sdkClient{}
	for _, key := range apiKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		cc := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
		if cfg.baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
		}
		gc, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, eris.Wrap(err, "gemini: create client")
		}
		c.clients = append(c.clients, gc)
	}
	if len(c.clients) == 0 {
		return nil, eris.New("gemini: at least one api key is required")
	}
	return c, nil
}

// SplitKeys splits a comma-separated key list.
func SplitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func (c *sdkClient) pick() (*genai.Client, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[c.current], c.current
}

func (c *sdkClient) rotate(from int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == from {
		c.current = (c.current + 1) % len(c.clients)
	}
}

func (c *sdkClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	genCfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = req.MaxTokens
	}

	var lastErr error
	for range len(c.clients) {
		client, idx := c.pick()
		result, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), genCfg)
		if err != nil {
			if rateLimited(err) && len(c.clients) > 1 {
				zap.L().Warn("gemini: key rate limited, rotating", zap.Int("key_index", idx))
				c.rotate(idx)
				lastErr = err
				continue
			}
			return nil, eris.Wrap(err, "gemini: generate content")
		}
		return fromResult(req.Model, result)
	}
	return nil, eris.Wrap(lastErr, "gemini: all api keys exhausted")
}

func fromResult(model string, result *genai.GenerateContentResponse) (*GenerateResponse, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, eris.New("gemini: empty response")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, eris.New("gemini: response has no text")
	}
	out := &GenerateResponse{Text: sb.String(), Model: model}
	if u := result.UsageMetadata; u != nil {
		out.InputTokens = int64(u.PromptTokenCount)
		out.OutputTokens = int64(u.CandidatesTokenCount)
	}
	return out, nil
}

func rateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "quota")
}
