package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-openai-key")
	t.Setenv("PERPLEXITY_API_KEY", "test-perplexity-key")
	t.Setenv("SERPAPI_API_KEY", "test-serp-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.HTTP.IdleTimeout)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, "test-openai-key", cfg.Completion.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Completion.Model)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", cfg.Completion.BaseURL)

	assert.Equal(t, "sonar", cfg.WebAnswer.Model)
	assert.Equal(t, 1000, cfg.WebAnswer.MaxTokens)
	assert.Equal(t, "https://api.perplexity.ai/chat/completions", cfg.WebAnswer.BaseURL)

	assert.Equal(t, "https://serpapi.com/search", cfg.Search.BaseURL)
	assert.Equal(t, 20*time.Second, cfg.Search.Timeout)

	assert.Empty(t, cfg.Redis.URL, "session memory is opt-in")
	assert.Equal(t, 24*time.Hour, cfg.Redis.SessionTTL)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("COMPLETION_MODEL", "gpt-4o")
	t.Setenv("COMPLETION_TIMEOUT", "45s")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("REDIS_SESSION_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "gpt-4o", cfg.Completion.Model)
	assert.Equal(t, 45*time.Second, cfg.Completion.Timeout)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, time.Hour, cfg.Redis.SessionTTL)
}

func TestLoadMissingRequiredKeys(t *testing.T) {
	cases := []string{"OPENAI_API_KEY", "PERPLEXITY_API_KEY", "SERPAPI_API_KEY"}

	for _, missing := range cases {
		t.Run(missing, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(missing, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
		})
	}
}

func TestLoadInvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "99999")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "not-a-number")
	t.Setenv("COMPLETION_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port, "unparseable values fall back to defaults")
	assert.Equal(t, 30*time.Second, cfg.Completion.Timeout)
}
