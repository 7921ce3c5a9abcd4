package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Apify      ApifyConfig      `yaml:"apify" mapstructure:"apify"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Planner    PlannerConfig    `yaml:"planner" mapstructure:"planner"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ApifyConfig holds scrape-actor service settings.
type ApifyConfig struct {
	Token       string `yaml:"token" mapstructure:"token"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	// RequestsPerSecond paces calls to the actor service; 0 disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	VisionModel string `yaml:"vision_model" mapstructure:"vision_model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// LLMConfig selects the extraction provider.
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// PricingConfig holds billing rates.
type PricingConfig struct {
	OrchestrationFee float64                 `yaml:"orchestration_fee" mapstructure:"orchestration_fee"`
	Models           map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PlannerConfig configures query planning.
type PlannerConfig struct {
	ActorCatalogPath  string `yaml:"actor_catalog_path" mapstructure:"actor_catalog_path"`
	DefaultSampleSize int    `yaml:"default_sample_size" mapstructure:"default_sample_size"`
	DefaultPostLimit  int    `yaml:"default_post_limit" mapstructure:"default_post_limit"`
	Platform          string `yaml:"platform" mapstructure:"platform"`
}

// SchedulerConfig configures the job polling loop.
type SchedulerConfig struct {
	TickMs         int `yaml:"tick_ms" mapstructure:"tick_ms"`
	MaxStatusPolls int `yaml:"max_status_polls" mapstructure:"max_status_polls"`
}

// ExtractConfig configures LLM extraction.
type ExtractConfig struct {
	TokenBudget      int  `yaml:"token_budget" mapstructure:"token_budget"`
	MaxOutputTokens  int  `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	RetryAttempts    int  `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs   int  `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	VisionBatchSize  int  `yaml:"vision_batch_size" mapstructure:"vision_batch_size"`
	VisionIntervalMs int  `yaml:"vision_interval_ms" mapstructure:"vision_interval_ms"`
	EnableSearch     bool `yaml:"enable_search" mapstructure:"enable_search"`
}

// EnrichConfig configures background enrichment.
type EnrichConfig struct {
	ProfileActorID string `yaml:"profile_actor_id" mapstructure:"profile_actor_id"`
	PollIntervalMs int    `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxPolls       int    `yaml:"max_polls" mapstructure:"max_polls"`
	MaxHandles     int    `yaml:"max_handles" mapstructure:"max_handles"`
}

// ResilienceConfig configures retries and circuit breakers for outbound calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures job health checks run by the worker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// CostThresholdUSD alerts when quoted spend in the window exceeds it; 0 disables.
	CostThresholdUSD float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FANDOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional.
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

func setDefaults(v *viper.Viper) {
	// Secrets get empty defaults so AutomaticEnv can bind them on Unmarshal.
	for _, key := range []string{"apify.token", "gemini.key", "anthropic.key", "planner.actor_catalog_path"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "fandom.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.timeout_secs", 60)
	v.SetDefault("apify.requests_per_second", 5)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.vision_model", "gemini-2.5-flash")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("pricing.orchestration_fee", 0.50)
	v.SetDefault("planner.default_sample_size", 100)
	v.SetDefault("planner.default_post_limit", 0)
	v.SetDefault("planner.platform", "instagram")
	v.SetDefault("scheduler.tick_ms", 2000)
	v.SetDefault("scheduler.max_status_polls", 15)
	v.SetDefault("extract.token_budget", 900000)
	v.SetDefault("extract.max_output_tokens", 16384)
	v.SetDefault("extract.retry_attempts", 4)
	v.SetDefault("extract.retry_backoff_ms", 1000)
	v.SetDefault("extract.vision_batch_size", 10)
	v.SetDefault("extract.vision_interval_ms", 4000)
	v.SetDefault("extract.enable_search", false)
	v.SetDefault("enrich.profile_actor_id", "apify~instagram-profile-scraper")
	v.SetDefault("enrich.poll_interval_ms", 2000)
	v.SetDefault("enrich.max_polls", 15)
	v.SetDefault("enrich.max_handles", 200)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 30000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
}

// Validate checks that the keys a command needs are present and that
// numeric settings are in range. Mode is one of "plan", "run", "worker" or "graph".
func (c *Config) Validate(mode string) error {
	var errs []string
	requireKey := func(val, key string) {
		if val == "" {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case "plan":
	case "run", "worker":
		requireKey(c.Store.DatabaseURL, "store.database_url")
		requireKey(c.Apify.Token, "apify.token")
		switch c.LLM.Provider {
		case "gemini":
			requireKey(c.Gemini.Key, "gemini.key")
		case "anthropic":
			requireKey(c.Anthropic.Key, "anthropic.key")
		default:
			errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
		}
	case "graph":
		requireKey(c.Store.DatabaseURL, "store.database_url")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode != "plan" && c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Scheduler.MaxStatusPolls < 1 || c.Scheduler.MaxStatusPolls > 1000 {
		errs = append(errs, "scheduler.max_status_polls must be between 1 and 1000")
	}
	if c.Scheduler.TickMs < 1 {
		errs = append(errs, "scheduler.tick_ms must be > 0")
	}
	if c.Extract.VisionBatchSize < 1 || c.Extract.VisionBatchSize > 10 {
		errs = append(errs, "extract.vision_batch_size must be between 1 and 10")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if c.Pricing.OrchestrationFee < 0 {
		errs = append(errs, "pricing.orchestration_fee must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
