package transcript

import (
	"context"

	"github.com/sells-group/sightline/internal/resilience"
)

// Guarded wraps a provider with a circuit breaker. Not-found results do
// not count against the breaker.
type Guarded struct {
	Provider
	breaker *resilience.Breaker
}

// Guard wraps p with the breaker registered under its name.
func Guard(p Provider, reg *resilience.Registry) *Guarded {
	return &Guarded{Provider: p, breaker: reg.Get(p.Name())}
}

// Available implements Availability. An open breaker or an unavailable
// inner provider makes the wrapper unavailable.
func (g *Guarded) Available() bool {
	return g.breaker.Allows() && available(g.Provider)
}

// Fetch implements Provider.
func (g *Guarded) Fetch(ctx context.Context, sourceID string) (string, error) {
	return resilience.Call(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.Provider.Fetch(ctx, sourceID)
	})
}

// BreakerCounts is a resilience.BreakerConfig.Counts filter that ignores
// missing-caption outcomes, which say nothing about provider health.
func BreakerCounts(err error) bool {
	return err != nil && reason(err) != "not_found"
}
