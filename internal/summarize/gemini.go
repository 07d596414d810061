package summarize

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sightline/internal/cost"
	"github.com/sells-group/sightline/pkg/gemini"
)

// Gemini summarizes with Google's Gemini models.
type Gemini struct {
	client    gemini.Client
	model     string
	maxTokens int32
	maxChars  int
	costs     *cost.Calculator
}

// NewGemini creates a Gemini summarizer. costs may be nil.
func NewGemini(client gemini.Client, modelName string, maxTokens int32, maxChars int, costs *cost.Calculator) *Gemini {
	return &Gemini{client: client, model: modelName, maxTokens: maxTokens, maxChars: maxChars, costs: costs}
}

// Name implements Summarizer.
func (g *Gemini) Name() string { return "gemini" }

// Summarize implements Summarizer.
func (g *Gemini) Summarize(ctx context.Context, in Input) (*Output, error) {
	resp, err := g.client.Generate(ctx, gemini.GenerateRequest{
		Model:     g.model,
		System:    systemPrompt,
		Prompt:    userPrompt(in, g.maxChars),
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return nil, eris.Wrap(err, "summarize: gemini")
	}

	if g.costs != nil {
		u := cost.Usage{Input: resp.InputTokens, Output: resp.OutputTokens}
		cost.Log("gemini", g.model, "summarize", u, g.costs.Gemini(g.model, u))
	}
	return finish(g.Name(), g.model, resp.Text)
}
