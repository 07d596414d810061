package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/sightline/internal/config"
)

func TestClaude(t *testing.T) {
	c := NewCalculator(DefaultRates())

	got := c.Claude("claude-haiku-4-5-20251001", Usage{Input: 1_000_000, Output: 100_000})
	assert.InDelta(t, 1.00+0.50, got, 1e-9)

	got = c.Claude("claude-haiku-4-5-20251001", Usage{CacheWrite: 1_000_000, CacheRead: 1_000_000})
	assert.InDelta(t, 1.25+0.10, got, 1e-9)

	assert.Zero(t, c.Claude("unknown-model", Usage{Input: 1_000_000}))
}

func TestGemini(t *testing.T) {
	c := NewCalculator(DefaultRates())

	got := c.Gemini("gemini-2.5-flash", Usage{Input: 2_000_000, Output: 1_000_000})
	assert.InDelta(t, 0.60+2.50, got, 1e-9)
	assert.Zero(t, c.Gemini("gemini-unknown", Usage{Input: 1}))
}

func TestOxylabs(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.InDelta(t, 1.35, c.Oxylabs(1000), 1e-9)
	assert.InDelta(t, 0.0027, c.Oxylabs(2), 1e-9)
}

func TestFromConfig_Overlay(t *testing.T) {
	r := FromConfig(config.PricingConfig{
		Anthropic: map[string]config.ModelPricing{
			"claude-custom": {Input: 2, Output: 8},
		},
		Gemini: map[string]config.ModelPricing{
			"gemini-2.5-flash": {Input: 0.5, Output: 3},
		},
		Oxylabs: config.OxylabsPricing{PerThousand: 2},
	})

	assert.Contains(t, r.Anthropic, "claude-haiku-4-5-20251001")
	assert.Equal(t, ModelRate{Input: 2, Output: 8}, r.Anthropic["claude-custom"])
	assert.Equal(t, 0.5, r.Gemini["gemini-2.5-flash"].Input)
	assert.Equal(t, 2.0, r.Oxylabs.PerThousand)
}

func TestFromConfig_Empty(t *testing.T) {
	r := FromConfig(config.PricingConfig{})
	assert.Equal(t, DefaultRates().Oxylabs, r.Oxylabs)
	assert.Len(t, r.Gemini, 2)
}

func TestLog_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Log("anthropic", "claude-haiku-4-5-20251001", "summarize", Usage{Input: 10}, 0.01)
	})
}
