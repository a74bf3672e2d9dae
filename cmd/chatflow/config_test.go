package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.MaxConcurrentNodes)
	assert.Equal(t, "5m", cfg.DefaultNodeTimeout)
	assert.Equal(t, "1h", cfg.ExecutionRetention)
	assert.False(t, cfg.Scheduler)
	assert.Contains(t, cfg.DBPath, ".chatflow")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CHATFLOW_DB_PATH", "/tmp/override.db")
	t.Setenv("CHATFLOW_LOG_LEVEL", "debug")
	t.Setenv("CHATFLOW_MAX_CONCURRENT_NODES", "9")
	t.Setenv("CHATFLOW_SCHEDULER", "true")
	t.Setenv("CHATFLOW_DEFAULT_MODEL", "local-model")

	cfg := loadConfig()
	assert.Equal(t, "/tmp/override.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9, cfg.MaxConcurrentNodes)
	assert.True(t, cfg.Scheduler)
	assert.Equal(t, "local-model", cfg.DefaultModel)
}

func TestLoadConfig_APIKeyFallback(t *testing.T) {
	t.Setenv("CHATFLOW_OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-generic")

	cfg := loadConfig()
	assert.Equal(t, "sk-generic", cfg.OpenAIAPIKey)

	t.Setenv("CHATFLOW_OPENAI_API_KEY", "sk-specific")
	cfg = loadConfig()
	assert.Equal(t, "sk-specific", cfg.OpenAIAPIKey)
}

func TestLoadConfig_BadNumberIgnored(t *testing.T) {
	t.Setenv("CHATFLOW_MAX_CONCURRENT_NODES", "lots")
	cfg := loadConfig()
	assert.Equal(t, 5, cfg.MaxConcurrentNodes)
}
