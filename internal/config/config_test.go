package config

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DATABASE_URL", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
		"LLM_TIMEOUT", "LEDGER_MODE", "MAX_LIST_ALL", "POLICY_FILE", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load(context.Background(), quietLogger)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "expenses.db", cfg.DatabaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 200, cfg.MaxListAll)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Mode)
	assert.Empty(t, cfg.PolicyFile)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("OPENAI_MODEL", "llama3")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("LEDGER_MODE", "MOCK")
	t.Setenv("MAX_LIST_ALL", "50")

	cfg := Load(context.Background(), quietLogger)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://ledger@localhost/ledger", cfg.DatabaseURL)
	assert.Equal(t, "MOCK", cfg.Mode)
	assert.Equal(t, 50, cfg.MaxListAll)

	llmCfg := cfg.LLM()
	assert.Equal(t, "sk-test", llmCfg.APIKey)
	assert.Equal(t, "http://localhost:11434/v1", llmCfg.BaseURL)
	assert.Equal(t, "llama3", llmCfg.Model)
	assert.Equal(t, 5*time.Second, llmCfg.Timeout)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_TIMEOUT", "soon")
	t.Setenv("MAX_LIST_ALL", "lots")

	cfg := Load(context.Background(), quietLogger)

	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 200, cfg.MaxListAll)
}

func TestLoadTimeoutInSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_TIMEOUT", "12")

	cfg := Load(context.Background(), quietLogger)
	assert.Equal(t, 12*time.Second, cfg.LLMTimeout)
}
