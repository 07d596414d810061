package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Redis       RedisConfig       `yaml:"redis" mapstructure:"redis"`
	Progress    ProgressConfig    `yaml:"progress" mapstructure:"progress"`
	Quota       QuotaConfig       `yaml:"quota" mapstructure:"quota"`
	Transcript  TranscriptConfig  `yaml:"transcript" mapstructure:"transcript"`
	YouTube     YouTubeConfig     `yaml:"youtube" mapstructure:"youtube"`
	Oxylabs     OxylabsConfig     `yaml:"oxylabs" mapstructure:"oxylabs"`
	Gumloop     GumloopConfig     `yaml:"gumloop" mapstructure:"gumloop"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini      GeminiConfig      `yaml:"gemini" mapstructure:"gemini"`
	Summarize   SummarizeConfig   `yaml:"summarize" mapstructure:"summarize"`
	Pricing     PricingConfig     `yaml:"pricing" mapstructure:"pricing"`
	Auth        AuthConfig        `yaml:"auth" mapstructure:"auth"`
	Coordinator CoordinatorConfig `yaml:"coordinator" mapstructure:"coordinator"`
	Sweeper     SweeperConfig     `yaml:"sweeper" mapstructure:"sweeper"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the durable database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig holds Redis connection settings for the progress store.
type RedisConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	Password  string `yaml:"password" mapstructure:"password"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// ProgressConfig selects the progress store backend and record TTL.
type ProgressConfig struct {
	Backend  string `yaml:"backend" mapstructure:"backend"` // memory, redis, sql
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the progress record lifetime.
func (p ProgressConfig) TTL() time.Duration {
	return time.Duration(p.TTLHours) * time.Hour
}

// QuotaConfig configures the usage policy engine.
type QuotaConfig struct {
	// MonthTimezone is the IANA zone used for the subscriber month window.
	MonthTimezone        string         `yaml:"month_timezone" mapstructure:"month_timezone"`
	HoldTTLMins          int            `yaml:"hold_ttl_mins" mapstructure:"hold_ttl_mins"`
	AnonymousMatchOrigin bool           `yaml:"anonymous_match_origin" mapstructure:"anonymous_match_origin"`
	Limits               map[string]int `yaml:"limits" mapstructure:"limits"`
}

// TranscriptConfig configures the acquisition chain.
type TranscriptConfig struct {
	Providers   []string       `yaml:"providers" mapstructure:"providers"`
	TimeoutSecs int            `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Timeouts    map[string]int `yaml:"timeouts" mapstructure:"timeouts"`
	MinChars    int            `yaml:"min_chars" mapstructure:"min_chars"`
	Languages   []string       `yaml:"languages" mapstructure:"languages"`
	Breaker     BreakerConfig  `yaml:"breaker" mapstructure:"breaker"`
}

// BreakerConfig sets circuit breaker thresholds for remote providers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// YouTubeConfig holds YouTube endpoints and the optional Data API key.
type YouTubeConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	DataBaseURL string `yaml:"data_base_url" mapstructure:"data_base_url"`
	// DailyUnits is the Data API budget per day; 0 disables the Data API.
	DailyUnits int `yaml:"daily_units" mapstructure:"daily_units"`
	// QuotaTimezone is where the Data API day rolls over.
	QuotaTimezone       string `yaml:"quota_timezone" mapstructure:"quota_timezone"`
	MetadataCacheMins   int    `yaml:"metadata_cache_mins" mapstructure:"metadata_cache_mins"`
	MetadataTimeoutSecs int    `yaml:"metadata_timeout_secs" mapstructure:"metadata_timeout_secs"`
}

// OxylabsConfig holds Oxylabs realtime proxy credentials.
type OxylabsConfig struct {
	Username string  `yaml:"username" mapstructure:"username"`
	Password string  `yaml:"password" mapstructure:"password"`
	BaseURL  string  `yaml:"base_url" mapstructure:"base_url"`
	RPS      float64 `yaml:"rps" mapstructure:"rps"`
}

// GumloopConfig holds Gumloop flow settings.
type GumloopConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	UserID  string  `yaml:"user_id" mapstructure:"user_id"`
	FlowID  string  `yaml:"flow_id" mapstructure:"flow_id"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeminiConfig holds Google Gemini settings for the fallback summarizer.
type GeminiConfig struct {
	// Key may hold several comma-separated keys; a rate-limited key is
	// rotated out.
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int32  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SummarizeConfig configures the derivation step.
type SummarizeConfig struct {
	// Order lists summarizers by priority ("claude", "gemini").
	Order         []string `yaml:"order" mapstructure:"order"`
	MaxInputChars int      `yaml:"max_input_chars" mapstructure:"max_input_chars"`
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    map[string]ModelPricing `yaml:"gemini" mapstructure:"gemini"`
	Oxylabs   OxylabsPricing          `yaml:"oxylabs" mapstructure:"oxylabs"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// OxylabsPricing holds proxy request pricing.
type OxylabsPricing struct {
	PerThousand float64 `yaml:"per_thousand" mapstructure:"per_thousand"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string `yaml:"issuer" mapstructure:"issuer"`
	// TierClaim names the JWT claim carrying the plan ("free", "pro", ...).
	TierClaim string `yaml:"tier_claim" mapstructure:"tier_claim"`
}

// CoordinatorConfig configures job orchestration.
type CoordinatorConfig struct {
	MaxDurationMins int `yaml:"max_duration_mins" mapstructure:"max_duration_mins"`
	JobTimeoutSecs  int `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
}

// SweeperConfig configures the expired-record purge loop.
type SweeperConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Only safe behind a proxy that sets them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SIGHTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sightline.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "sightline:progress:")
	v.SetDefault("progress.backend", "memory")
	v.SetDefault("progress.ttl_hours", 4)
	v.SetDefault("quota.month_timezone", "UTC")
	v.SetDefault("quota.hold_ttl_mins", 30)
	v.SetDefault("quota.anonymous_match_origin", true)
	v.SetDefault("quota.limits", map[string]int{
		"anonymous":  1,
		"free":       3,
		"subscriber": 25,
	})
	v.SetDefault("transcript.providers", []string{"timedtext", "watchpage", "oxylabs", "gumloop"})
	v.SetDefault("transcript.timeout_secs", 30)
	v.SetDefault("transcript.timeouts", map[string]int{"gumloop": 90})
	v.SetDefault("transcript.min_chars", 100)
	v.SetDefault("transcript.languages", []string{"en", "en-US"})
	v.SetDefault("transcript.breaker.failure_threshold", 3)
	v.SetDefault("transcript.breaker.reset_timeout_secs", 45)
	v.SetDefault("youtube.base_url", "https://www.youtube.com")
	v.SetDefault("youtube.data_base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("youtube.daily_units", 10000)
	v.SetDefault("youtube.quota_timezone", "UTC")
	v.SetDefault("youtube.metadata_cache_mins", 1440)
	v.SetDefault("youtube.metadata_timeout_secs", 15)
	v.SetDefault("oxylabs.base_url", "https://realtime.oxylabs.io/v1")
	v.SetDefault("oxylabs.rps", 5)
	v.SetDefault("gumloop.base_url", "https://api.gumloop.com/api/v1")
	v.SetDefault("gumloop.rps", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.max_tokens", 2048)
	v.SetDefault("summarize.order", []string{"claude", "gemini"})
	v.SetDefault("summarize.max_input_chars", 120000)
	v.SetDefault("summarize.timeout_secs", 90)
	v.SetDefault("pricing.oxylabs.per_thousand", 1.35)
	v.SetDefault("auth.tier_claim", "tier")
	v.SetDefault("coordinator.max_duration_mins", 360)
	v.SetDefault("coordinator.job_timeout_secs", 600)
	v.SetDefault("sweeper.interval_secs", 300)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.trust_proxy_headers", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Secrets have no default but must be known keys for env overrides.
	for _, key := range []string{
		"redis.password",
		"youtube.api_key",
		"oxylabs.username",
		"oxylabs.password",
		"gumloop.key",
		"gumloop.user_id",
		"gumloop.flow_id",
		"anthropic.key",
		"gemini.key",
		"auth.jwt_secret",
		"auth.issuer",
	} {
		v.SetDefault(key, "")
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given run mode ("serve",
// "store" or "client") and reports every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	checkStore := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}

	switch mode {
	case "serve":
		checkStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		switch c.Progress.Backend {
		case "memory", "sql":
		case "redis":
			if c.Redis.URL == "" {
				errs = append(errs, "redis.url is required for the redis progress backend")
			}
		default:
			errs = append(errs, "progress.backend must be memory, redis or sql")
		}
		if c.Progress.TTLHours <= 0 {
			errs = append(errs, "progress.ttl_hours must be > 0")
		}
		if _, err := c.Quota.Location(); err != nil {
			errs = append(errs, "quota.month_timezone is not a valid IANA zone")
		}
		// A hold must outlive the job it reserves for.
		if c.Coordinator.JobTimeoutSecs <= 0 {
			errs = append(errs, "coordinator.job_timeout_secs must be > 0")
		} else if c.Quota.HoldTTLMins*60 <= c.Coordinator.JobTimeoutSecs {
			errs = append(errs, "quota.hold_ttl_mins must exceed coordinator.job_timeout_secs")
		}
		if _, err := c.YouTube.Location(); err != nil {
			errs = append(errs, "youtube.quota_timezone is not a valid IANA zone")
		}
		if len(c.Transcript.Providers) == 0 {
			errs = append(errs, "transcript.providers must not be empty")
		}
		if c.Anthropic.Key == "" && c.Gemini.Key == "" {
			errs = append(errs, "anthropic.key or gemini.key is required")
		}
	case "store":
		checkStore()
	case "client":
		if c.Server.BaseURL == "" {
			errs = append(errs, "server.base_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location resolves MonthTimezone, defaulting to UTC.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.MonthTimezone == "" || strings.EqualFold(q.MonthTimezone, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(q.MonthTimezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load quota.month_timezone %q", q.MonthTimezone)
	}
	return loc, nil
}

// Location resolves QuotaTimezone, defaulting to UTC.
func (y YouTubeConfig) Location() (*time.Location, error) {
	if y.QuotaTimezone == "" || strings.EqualFold(y.QuotaTimezone, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(y.QuotaTimezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load youtube.quota_timezone %q", y.QuotaTimezone)
	}
	return loc, nil
}

// ProviderTimeout returns the per-attempt timeout for a named provider.
func (t TranscriptConfig) ProviderTimeout(name string) time.Duration {
	if secs, ok := t.Timeouts[name]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t.TimeoutSecs > 0 {
		return time.Duration(t.TimeoutSecs) * time.Second
	}
	return 30 * time.Second
}

// Dump renders the effective configuration as YAML with secrets masked.
func (c *Config) Dump() ([]byte, error) {
	masked := *c
	masked.Redis.Password = mask(masked.Redis.Password)
	masked.Oxylabs.Password = mask(masked.Oxylabs.Password)
	masked.Gumloop.Key = mask(masked.Gumloop.Key)
	masked.Anthropic.Key = mask(masked.Anthropic.Key)
	masked.Gemini.Key = mask(masked.Gemini.Key)
	masked.YouTube.APIKey = mask(masked.YouTube.APIKey)
	masked.Auth.JWTSecret = mask(masked.Auth.JWTSecret)

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, eris.Wrap(err, "config: marshal yaml")
	}
	return out, nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
