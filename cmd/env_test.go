package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sightline/internal/config"
	"github.com/sells-group/sightline/internal/cost"
	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/store"
	"github.com/sells-group/sightline/pkg/youtube"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "test.db")},
		Progress: config.ProgressConfig{Backend: "memory", TTLHours: 4},
		Quota:    config.QuotaConfig{MonthTimezone: "UTC", HoldTTLMins: 30, AnonymousMatchOrigin: true},
		Transcript: config.TranscriptConfig{
			Providers:   []string{"timedtext", "watchpage", "oxylabs", "gumloop"},
			TimeoutSecs: 30,
			Timeouts:    map[string]int{"gumloop": 90},
			MinChars:    100,
			Languages:   []string{"en"},
		},
	}
}

func TestServerEnv_CloseNil(t *testing.T) {
	env := &serverEnv{}
	assert.NotPanics(t, env.Close)
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = sqliteConfig(t)
	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Ping(context.Background()))
}

func TestInitStore_BadDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}
	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitProgress(t *testing.T) {
	cfg = sqliteConfig(t)
	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	ps, rdb, err := initProgress(context.Background(), st)
	require.NoError(t, err)
	assert.Nil(t, rdb)
	assert.IsType(t, &progress.MemoryStore{}, ps)

	cfg.Progress.Backend = "sql"
	ps, _, err = initProgress(context.Background(), st)
	require.NoError(t, err)
	assert.IsType(t, &progress.SQLStore{}, ps)

	mr := miniredis.RunT(t)
	cfg.Progress.Backend = "redis"
	cfg.Redis = config.RedisConfig{URL: "redis://" + mr.Addr(), KeyPrefix: "test:"}
	ps, rdb, err = initProgress(context.Background(), st)
	require.NoError(t, err)
	require.NotNil(t, rdb)
	defer rdb.Close() //nolint:errcheck
	require.NoError(t, ps.Put(context.Background(), model.Progress{TaskID: "t1", Status: model.TaskStatusQueued}))
	assert.True(t, mr.Exists("test:t1"))

	cfg.Progress.Backend = "carrier-pigeon"
	_, _, err = initProgress(context.Background(), st)
	assert.Error(t, err)
}

func TestInitEngine(t *testing.T) {
	cfg = sqliteConfig(t)
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	cfg.Quota.Limits = map[string]int{"free": 7}
	engine, err := initEngine(st)
	require.NoError(t, err)
	assert.Equal(t, 7, engine.Policy(model.IdentityFree).Limit)

	cfg.Quota.MonthTimezone = "Mars/Olympus_Mons"
	_, err = initEngine(st)
	assert.Error(t, err)
}

func TestInitChain(t *testing.T) {
	cfg = sqliteConfig(t)
	yt := youtube.NewClient("")
	reg := initBreakers()

	chain, err := initChain(yt, reg, cost.NewCalculator(cost.DefaultRates()))
	require.NoError(t, err)
	assert.Equal(t, []string{"timedtext", "watchpage", "oxylabs", "gumloop"}, chain.Providers())
	assert.Len(t, reg.Snapshot(), 4)

	cfg.Transcript.Providers = []string{"timedtext", "telepathy"}
	_, err = initChain(yt, reg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")
}

func TestInitSummarizer(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Summarize = config.SummarizeConfig{Order: []string{"claude", "gemini"}, TimeoutSecs: 30}

	_, err := initSummarizer(context.Background(), nil)
	require.Error(t, err, "no credentials")

	cfg.Anthropic = config.AnthropicConfig{Key: "sk-test", Model: "claude-haiku-4-5-20251001", MaxTokens: 1024}
	s, err := initSummarizer(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", s.Name())

	cfg.Summarize.Order = []string{"claude", "llama"}
	_, err = initSummarizer(context.Background(), nil)
	assert.Error(t, err)
}

func TestInitServer_ValidationFails(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Server.Port = 8000
	_, err := initServer(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key or gemini.key")
}

func TestInitServer(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Server.Port = 8000
	cfg.Anthropic = config.AnthropicConfig{Key: "sk-test", Model: "claude-haiku-4-5-20251001", MaxTokens: 1024}
	cfg.Summarize = config.SummarizeConfig{Order: []string{"claude"}}
	cfg.Coordinator = config.CoordinatorConfig{MaxDurationMins: 360, JobTimeoutSecs: 600}

	env, err := initServer(context.Background())
	require.NoError(t, err)
	defer env.Close()
	assert.NotNil(t, env.Coordinator)
	assert.NotNil(t, env.Engine)
	assert.IsType(t, &progress.MemoryStore{}, env.Progress)
}

func TestInitMetadata(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.YouTube = config.YouTubeConfig{DailyUnits: 10000, MetadataCacheMins: 60}

	m, err := initMetadata(youtube.NewClient(""))
	require.NoError(t, err)
	assert.Zero(t, m.DataAPIUnitsUsed())

	cfg.YouTube.QuotaTimezone = "Mars/Olympus_Mons"
	_, err = initMetadata(youtube.NewClient("key"))
	assert.Error(t, err)
}
