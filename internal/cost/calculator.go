// Package cost attributes USD cost to LLM and proxy calls.
package cost

import (
	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/config"
)

// Rates holds per-provider pricing.
type Rates struct {
	Anthropic map[string]ModelRate
	Gemini    map[string]ModelRate
	Oxylabs   OxylabsRate
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64
	Output        float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// OxylabsRate holds realtime proxy pricing.
type OxylabsRate struct {
	PerThousand float64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Usage is the token accounting for one LLM call.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Claude computes the cost of an Anthropic call. Unknown models cost 0.
func (c *Calculator) Claude(model string, u Usage) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return tokenCost(rate, u)
}

// Gemini computes the cost of a Gemini call. Unknown models cost 0.
func (c *Calculator) Gemini(model string, u Usage) float64 {
	rate, ok := c.rates.Gemini[model]
	if !ok {
		return 0
	}
	return tokenCost(rate, u)
}

// Oxylabs computes the cost of n proxy requests.
func (c *Calculator) Oxylabs(n int) float64 {
	return float64(n) / 1000 * c.rates.Oxylabs.PerThousand
}

func tokenCost(rate ModelRate, u Usage) float64 {
	in := float64(u.Input) / 1e6 * rate.Input
	out := float64(u.Output) / 1e6 * rate.Output
	cw := float64(u.CacheWrite) / 1e6 * rate.Input * rate.CacheWriteMul
	cr := float64(u.CacheRead) / 1e6 * rate.Input * rate.CacheReadMul
	return in + out + cw + cr
}

// Log emits a structured cost attribution record.
func Log(provider, model, phase string, u Usage, usd float64) {
	zap.L().Info("cost attribution",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", usd),
	)
}

// DefaultRates returns the built-in pricing.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
		},
		Oxylabs: OxylabsRate{PerThousand: 1.35},
	}
}

// FromConfig overlays configured pricing on the defaults.
func FromConfig(cfg config.PricingConfig) Rates {
	r := DefaultRates()
	for m, p := range cfg.Anthropic {
		r.Anthropic[m] = ModelRate(p)
	}
	for m, p := range cfg.Gemini {
		r.Gemini[m] = ModelRate(p)
	}
	if cfg.Oxylabs.PerThousand > 0 {
		r.Oxylabs.PerThousand = cfg.Oxylabs.PerThousand
	}
	return r
}
