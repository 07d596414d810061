package transcript

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/model"
)

// ErrChainExhausted is returned when every provider failed.
var ErrChainExhausted = eris.New("transcript: all providers failed")

const (
	defaultTimeout  = 30 * time.Second
	defaultMinChars = 100
)

// Attempt records the outcome of one provider call.
type Attempt struct {
	Provider string
	Duration time.Duration
	Err      error
}

// ExhaustedError lists every failed attempt of an exhausted chain.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Provider+": "+a.Err.Error())
	}
	return ErrChainExhausted.Error() + " (" + strings.Join(parts, "; ") + ")"
}

// Is matches ErrChainExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrChainExhausted
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithTimeout sets the default per-provider timeout.
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithProviderTimeout overrides the timeout for one provider.
func WithProviderTimeout(name string, d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.timeouts[name] = d
		}
	}
}

// WithMinChars sets the shortest cleaned transcript accepted as valid.
func WithMinChars(n int) ChainOption {
	return func(c *Chain) {
		c.minChars = n
	}
}

// Chain tries providers in a fixed priority order, one at a time, and
// returns the first usable transcript.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	timeouts  map[string]time.Duration
	minChars  int
}

// NewChain creates a Chain. Providers are tried in the order given.
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		timeout:   defaultTimeout,
		timeouts:  make(map[string]time.Duration),
		minChars:  defaultMinChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the provider names in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

func (c *Chain) timeoutFor(name string) time.Duration {
	if d, ok := c.timeouts[name]; ok {
		return d
	}
	return c.timeout
}

// Acquire runs the chain for sourceID. Provider failures are logged and
// swallowed; only exhaustion of the whole chain is returned, as an
// *ExhaustedError matching ErrChainExhausted.
func (c *Chain) Acquire(ctx context.Context, sourceID string) (*model.TranscriptResult, error) {
	log := zap.L().With(zap.String("source_id", sourceID))
	exhausted := &ExhaustedError{}

	for i, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "transcript: acquire cancelled")
		}

		name := p.Name()
		if !available(p) {
			log.Debug("transcript: provider unavailable, skipping", zap.String("provider", name))
			exhausted.Attempts = append(exhausted.Attempts, Attempt{Provider: name, Err: ErrUnavailable})
			continue
		}

		start := time.Now()
		text, err := c.attempt(ctx, p, sourceID)
		elapsed := time.Since(start)
		if err == nil {
			log.Info("transcript: acquired",
				zap.String("provider", name),
				zap.Int("attempt", i+1),
				zap.Int("chars", len(text)),
				zap.Duration("elapsed", elapsed),
			)
			return &model.TranscriptResult{
				Provider:              name,
				Text:                  text,
				AttemptsBeforeSuccess: i + 1,
			}, nil
		}

		soft := model.TransientProvider(name, err)
		log.Warn("transcript: provider failed, trying next",
			zap.String("provider", name),
			zap.String("reason", reason(err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(soft),
		)
		exhausted.Attempts = append(exhausted.Attempts, Attempt{Provider: name, Duration: elapsed, Err: err})
	}

	return nil, exhausted
}

func (c *Chain) attempt(ctx context.Context, p Provider, sourceID string) (string, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeoutFor(p.Name()))
	defer cancel()

	raw, err := p.Fetch(actx, sourceID)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", eris.Wrapf(context.DeadlineExceeded, "transcript: %s timed out", p.Name())
		}
		return "", err
	}

	text := Clean(raw)
	if len(text) < c.minChars {
		return "", eris.Errorf("transcript: %s returned %d chars, need %d", p.Name(), len(text), c.minChars)
	}
	return text, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNoTranscript):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
