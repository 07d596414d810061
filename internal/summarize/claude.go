package summarize

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sightline/internal/cost"
	"github.com/sells-group/sightline/pkg/anthropic"
)

// Claude summarizes with the Anthropic Messages API.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	maxChars  int
	costs     *cost.Calculator
}

// NewClaude creates a Claude summarizer. costs may be nil.
func NewClaude(client anthropic.Client, modelName string, maxTokens int64, maxChars int, costs *cost.Calculator) *Claude {
	return &Claude{client: client, model: modelName, maxTokens: maxTokens, maxChars: maxChars, costs: costs}
}

// Name implements Summarizer.
func (c *Claude) Name() string { return "claude" }

// Summarize implements Summarizer.
func (c *Claude) Summarize(ctx context.Context, in Input) (*Output, error) {
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.SystemBlock{{Text: systemPrompt, Cacheable: true}},
		Messages:  []anthropic.Message{{Role: "user", Content: userPrompt(in, c.maxChars)}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "summarize: claude")
	}

	if c.costs != nil {
		u := cost.Usage{
			Input:      resp.Usage.InputTokens,
			Output:     resp.Usage.OutputTokens,
			CacheWrite: resp.Usage.CacheCreationInputTokens,
			CacheRead:  resp.Usage.CacheReadInputTokens,
		}
		cost.Log("anthropic", c.model, "summarize", u, c.costs.Claude(c.model, u))
	}

	if resp.StopReason == "max_tokens" {
		return nil, eris.Errorf("summarize: claude hit max_tokens (%d)", c.maxTokens)
	}
	return finish(c.Name(), c.model, resp.Text())
}
