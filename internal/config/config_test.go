package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "fandom.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://api.apify.com/v2", cfg.Apify.BaseURL)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
	assert.Equal(t, 2000, cfg.Scheduler.TickMs)
	assert.Equal(t, 15, cfg.Scheduler.MaxStatusPolls)
	assert.Equal(t, 4, cfg.Extract.RetryAttempts)
	assert.Equal(t, 1000, cfg.Extract.RetryBackoffMs)
	assert.Equal(t, 10, cfg.Extract.VisionBatchSize)
	assert.Equal(t, 4000, cfg.Extract.VisionIntervalMs)
	assert.InDelta(t, 0.50, cfg.Pricing.OrchestrationFee, 0.001)
	assert.Equal(t, "instagram", cfg.Planner.Platform)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/fandom
log:
  level: debug
  format: console
scheduler:
  max_status_polls: 30
llm:
  provider: anthropic
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/fandom", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 30, cfg.Scheduler.MaxStatusPolls)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	// Defaults still apply for unset values.
	assert.Equal(t, 2000, cfg.Scheduler.TickMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("FANDOM_STORE_DRIVER", "postgres")
	t.Setenv("FANDOM_LOG_LEVEL", "warn")
	t.Setenv("FANDOM_APIFY_TOKEN", "apify_api_x")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "apify_api_x", cfg.Apify.Token)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.LLM.Provider = "gemini"
	cfg.Scheduler.TickMs = 2000
	cfg.Scheduler.MaxStatusPolls = 15
	cfg.Extract.VisionBatchSize = 10
	cfg.Pricing.OrchestrationFee = 0.5
	return cfg
}

func TestValidatePlanNeedsNoKeys(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validDefaults().Validate("plan"))
}

func TestValidateRun(t *testing.T) {
	t.Parallel()

	cfg := validDefaults()
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "apify.token is required")
	assert.Contains(t, err.Error(), "gemini.key is required")

	cfg.Store.DatabaseURL = "fandom.db"
	cfg.Apify.Token = "tok"
	cfg.Gemini.Key = "key"
	assert.NoError(t, cfg.Validate("run"))
	assert.NoError(t, cfg.Validate("worker"))
}

func TestValidateAnthropicProvider(t *testing.T) {
	t.Parallel()

	cfg := validDefaults()
	cfg.Store.DatabaseURL = "fandom.db"
	cfg.Apify.Token = "tok"
	cfg.LLM.Provider = "anthropic"

	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.LLM.Provider = "mistral"
	err = cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `llm.provider "mistral" is not supported`)
}

func TestValidateUnknownMode(t *testing.T) {
	t.Parallel()

	err := validDefaults().Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBounds(t *testing.T) {
	t.Parallel()

	cfg := validDefaults()
	cfg.Store.DatabaseURL = "fandom.db"

	cfg.Scheduler.MaxStatusPolls = 0
	err := cfg.Validate("graph")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_status_polls must be between 1 and 1000")

	cfg.Scheduler.MaxStatusPolls = 15
	cfg.Extract.VisionBatchSize = 11
	err = cfg.Validate("graph")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vision_batch_size must be between 1 and 10")

	cfg.Extract.VisionBatchSize = 10
	cfg.Store.Driver = "mysql"
	err = cfg.Validate("graph")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql" is not supported`)

	cfg.Store.Driver = "sqlite"
	cfg.Monitoring.FailureRateThreshold = 1.5
	err = cfg.Validate("graph")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_rate_threshold must be between 0 and 1")
}
