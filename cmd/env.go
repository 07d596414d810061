package main

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/coordinator"
	"github.com/sells-group/sightline/internal/cost"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/quota"
	"github.com/sells-group/sightline/internal/resilience"
	"github.com/sells-group/sightline/internal/store"
	"github.com/sells-group/sightline/internal/summarize"
	"github.com/sells-group/sightline/internal/transcript"
	anthropicpkg "github.com/sells-group/sightline/pkg/anthropic"
	"github.com/sells-group/sightline/pkg/gemini"
	"github.com/sells-group/sightline/pkg/gumloop"
	"github.com/sells-group/sightline/pkg/oxylabs"
	"github.com/sells-group/sightline/pkg/youtube"
)

// serverEnv holds everything the serve command wires together.
type serverEnv struct {
	Store       store.Store
	Progress    progress.Store
	Redis       *redis.Client // nil unless progress.backend is redis
	Engine      *quota.Engine
	Breakers    *resilience.Registry
	Coordinator *coordinator.Coordinator
}

// Close releases resources held by the environment.
func (e *serverEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store. Callers run Migrate themselves.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sightline.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initProgress builds the progress backend. The redis client is returned
// so the caller can close it.
func initProgress(ctx context.Context, st store.Store) (progress.Store, *redis.Client, error) {
	ttl := time.Duration(cfg.Progress.TTLHours) * time.Hour
	switch cfg.Progress.Backend {
	case "", "memory":
		return progress.NewMemoryStore(ttl), nil, nil
	case "sql":
		return progress.NewSQLStore(st, ttl), nil, nil
	case "redis":
		client, err := progress.ConnectRedis(ctx, cfg.Redis.URL, cfg.Redis.Password)
		if err != nil {
			return nil, nil, err
		}
		return progress.NewRedisStore(client, cfg.Redis.KeyPrefix, ttl), client, nil
	default:
		return nil, nil, eris.Errorf("unsupported progress backend: %s", cfg.Progress.Backend)
	}
}

// initEngine builds the quota engine over the store's ledger.
func initEngine(st store.Store) (*quota.Engine, error) {
	loc, err := cfg.Quota.Location()
	if err != nil {
		return nil, err
	}
	return quota.NewEngine(st,
		quota.WithLocation(loc),
		quota.WithHoldTTL(time.Duration(cfg.Quota.HoldTTLMins)*time.Minute),
		quota.WithLimits(cfg.Quota.Limits),
		quota.WithOriginMatch(cfg.Quota.AnonymousMatchOrigin),
	), nil
}

// initBreakers creates the provider breaker registry. Missing captions do
// not count as provider failures.
func initBreakers() *resilience.Registry {
	bc := resilience.NewBreakerConfig(cfg.Transcript.Breaker.FailureThreshold, cfg.Transcript.Breaker.ResetTimeoutSecs)
	bc.Counts = transcript.BreakerCounts
	return resilience.NewRegistry(bc)
}

// initChain builds the transcript chain in the configured order.
func initChain(yt youtube.Client, reg *resilience.Registry, costs *cost.Calculator) (*transcript.Chain, error) {
	langs := cfg.Transcript.Languages
	opts := []transcript.ChainOption{
		transcript.WithTimeout(cfg.Transcript.ProviderTimeout("")),
	}
	if cfg.Transcript.MinChars > 0 {
		opts = append(opts, transcript.WithMinChars(cfg.Transcript.MinChars))
	}

	var providers []transcript.Provider
	for _, name := range cfg.Transcript.Providers {
		var p transcript.Provider
		switch name {
		case "timedtext":
			p = transcript.NewTimedText(yt, langs)
		case "watchpage":
			p = transcript.NewWatchPage(yt, langs)
		case "oxylabs":
			client := oxylabs.NewClient(cfg.Oxylabs.Username, cfg.Oxylabs.Password,
				oxylabs.WithBaseURL(cfg.Oxylabs.BaseURL),
				oxylabs.WithRateLimit(cfg.Oxylabs.RPS),
			)
			p = transcript.NewOxylabs(client, cfg.Oxylabs.Username != "", langs, costs)
		case "gumloop":
			client := gumloop.NewClient(cfg.Gumloop.Key, cfg.Gumloop.UserID,
				gumloop.WithBaseURL(cfg.Gumloop.BaseURL),
				gumloop.WithRateLimit(cfg.Gumloop.RPS),
			)
			p = transcript.NewGumloop(client, cfg.Gumloop.FlowID)
		default:
			return nil, eris.Errorf("unknown transcript provider %q", name)
		}
		providers = append(providers, transcript.Guard(p, reg))
		if _, ok := cfg.Transcript.Timeouts[name]; ok {
			opts = append(opts, transcript.WithProviderTimeout(name, cfg.Transcript.ProviderTimeout(name)))
		}
	}

	zap.L().Info("transcript chain configured", zap.Strings("providers", cfg.Transcript.Providers))
	return transcript.NewChain(providers, opts...), nil
}

// initSummarizer builds the summarizer fallback in the configured order,
// skipping summarizers without credentials.
func initSummarizer(ctx context.Context, costs *cost.Calculator) (summarize.Summarizer, error) {
	var list []summarize.Summarizer
	for _, name := range cfg.Summarize.Order {
		switch name {
		case "claude":
			if cfg.Anthropic.Key == "" {
				continue
			}
			client := anthropicpkg.NewClient(cfg.Anthropic.Key)
			list = append(list, summarize.NewClaude(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, cfg.Summarize.MaxInputChars, costs))
		case "gemini":
			if cfg.Gemini.Key == "" {
				continue
			}
			client, err := gemini.NewClient(ctx, strings.Split(cfg.Gemini.Key, ","))
			if err != nil {
				return nil, eris.Wrap(err, "init gemini")
			}
			list = append(list, summarize.NewGemini(client, cfg.Gemini.Model, cfg.Gemini.MaxTokens, cfg.Summarize.MaxInputChars, costs))
		default:
			return nil, eris.Errorf("unknown summarizer %q", name)
		}
	}
	if len(list) == 0 {
		return nil, eris.New("no summarizer has credentials configured")
	}
	return summarize.NewFallback(list...).WithTimeout(time.Duration(cfg.Summarize.TimeoutSecs) * time.Second), nil
}

// initServer sets up the store, progress backend, quota engine, providers
// and coordinator. Callers should defer env.Close().
func initServer(ctx context.Context) (*serverEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	env := &serverEnv{}
	fail := func(err error) (*serverEnv, error) {
		env.Close()
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	ps, rdb, err := initProgress(ctx, st)
	if err != nil {
		return fail(err)
	}
	env.Progress, env.Redis = ps, rdb

	if env.Engine, err = initEngine(st); err != nil {
		return fail(err)
	}

	costs := cost.NewCalculator(cost.FromConfig(cfg.Pricing))
	yt := youtube.NewClient(cfg.YouTube.APIKey,
		youtube.WithBaseURL(cfg.YouTube.BaseURL),
		youtube.WithDataBaseURL(cfg.YouTube.DataBaseURL),
	)

	env.Breakers = initBreakers()
	chain, err := initChain(yt, env.Breakers, costs)
	if err != nil {
		return fail(err)
	}
	sum, err := initSummarizer(ctx, costs)
	if err != nil {
		return fail(err)
	}

	meta, err := initMetadata(yt)
	if err != nil {
		return fail(err)
	}

	env.Coordinator = coordinator.New(st, env.Engine, chain, sum, ps,
		coordinator.WithMetadata(meta),
		coordinator.WithMaxDuration(time.Duration(cfg.Coordinator.MaxDurationMins)*time.Minute),
		coordinator.WithJobTimeout(time.Duration(cfg.Coordinator.JobTimeoutSecs)*time.Second),
	)
	return env, nil
}

// initMetadata builds the metadata lookup. Without an API key the Data API
// budget is zero and every lookup uses oEmbed.
func initMetadata(yt youtube.Client) (*coordinator.YouTubeMetadata, error) {
	loc, err := cfg.YouTube.Location()
	if err != nil {
		return nil, err
	}
	units := cfg.YouTube.DailyUnits
	if cfg.YouTube.APIKey == "" {
		units = 0
	}
	return coordinator.NewYouTubeMetadata(yt,
		coordinator.WithDailyUnits(units, loc),
		coordinator.WithMetadataTTL(time.Duration(cfg.YouTube.MetadataCacheMins)*time.Minute),
		coordinator.WithLookupTimeout(time.Duration(cfg.YouTube.MetadataTimeoutSecs)*time.Second),
	), nil
}
