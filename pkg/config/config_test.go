package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abbyhq/abby/pkg/config"
)

var allVars = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT", "STORAGE_BACKEND", "DATA_DIR", "DATABASE_URL",
	"REDIS_ADDR", "REDIS_DB", "LLM_PROVIDER", "LLM_MODEL", "LLM_TIMEOUT",
	"APPROVAL_TOKEN_TTL", "ARTIFACT_STORAGE_TYPE", "OTEL_ENABLED",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults: the server must boot with no configuration at all.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ApprovalTokenTTL)
	assert.Equal(t, "fs", cfg.ArtifactStorage)
	assert.InDelta(t, 5.0, cfg.RateLimitRPS, 1e-9)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.False(t, cfg.OTelEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://abby@db:5432/abby")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "0.5")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.StorageBackend, "DATABASE_URL implies postgres")
	assert.Equal(t, "gemini", cfg.LLMProvider)
	assert.Equal(t, 5*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.OTelEnabled)
	assert.InDelta(t, 0.5, cfg.RateLimitRPS, 1e-9)
}

func TestLoad_Malformed(t *testing.T) {
	for key, val := range map[string]string{
		"LLM_TIMEOUT":        "soon",
		"APPROVAL_TOKEN_TTL": "-1m",
		"REDIS_DB":           "zero",
		"RATE_LIMIT_RPS":     "fast",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := config.Load()
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestLoadRiskRules(t *testing.T) {
	rules, err := config.LoadRiskRules("")
	require.NoError(t, err)
	assert.Nil(t, rules)

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: many-items
    when: 'size(params) > 10'
    message: "This adds a lot of items at once."
`), 0o600))

	rules, err = config.LoadRiskRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "many-items", rules[0].ID)
	assert.Equal(t, "size(params) > 10", rules[0].When)

	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte("rules:\n  - {id: a, when: 'true', message: x}\n  - {id: a, when: 'true', message: y}\n"), 0o600))
	_, err = config.LoadRiskRules(dup)
	assert.ErrorContains(t, err, "duplicate")

	_, err = config.LoadRiskRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
