// Package config provides configuration for the expense agent.
package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"expense-agent/internal/llm"
)

const (
	defaultPort        = "8080"
	defaultDatabaseURL = "expenses.db"
	defaultModel       = "gpt-4o-mini"
	defaultLLMTimeout  = 30 * time.Second
	defaultMaxListAll  = 200
	defaultLogLevel    = "info"
)

// Config holds the agent configuration.
type Config struct {
	// Server settings
	Port string

	// Storage
	DatabaseURL string

	// Model
	APIKey     string
	BaseURL    string
	Model      string
	LLMTimeout time.Duration
	Mode       string

	// Operations
	MaxListAll int
	PolicyFile string

	// Logging
	LogLevel string
}

// Load reads an optional .env file, then configuration from environment variables.
func Load(ctx context.Context, logger *slog.Logger) *Config {
	if err := godotenv.Load(); err != nil {
		logger.DebugContext(ctx, "No .env file loaded", "error", err)
	}

	return &Config{
		Port:        getEnv(ctx, logger, "PORT", defaultPort),
		DatabaseURL: getEnv(ctx, logger, "DATABASE_URL", defaultDatabaseURL),
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		BaseURL:     getEnv(ctx, logger, "OPENAI_BASE_URL", ""),
		Model:       getEnv(ctx, logger, "OPENAI_MODEL", defaultModel),
		LLMTimeout:  getEnvDuration(ctx, logger, "LLM_TIMEOUT", defaultLLMTimeout),
		Mode:        getEnv(ctx, logger, "LEDGER_MODE", ""),
		MaxListAll:  getEnvInt(ctx, logger, "MAX_LIST_ALL", defaultMaxListAll),
		PolicyFile:  getEnv(ctx, logger, "POLICY_FILE", ""),
		LogLevel:    getEnv(ctx, logger, "LOG_LEVEL", defaultLogLevel),
	}
}

// LLM returns the model client settings.
func (c *Config) LLM() llm.Config {
	return llm.Config{
		APIKey:  c.APIKey,
		BaseURL: c.BaseURL,
		Model:   c.Model,
		Timeout: c.LLMTimeout,
	}
}

func getEnv(ctx context.Context, logger *slog.Logger, key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		logger.DebugContext(ctx, "Using value from environment", "key", key, "value", val)
		return val
	}
	logger.DebugContext(ctx, "Environment variable not set, using default", "key", key, "default", defaultVal)
	return defaultVal
}

func getEnvInt(ctx context.Context, logger *slog.Logger, key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		logger.WarnContext(ctx, "Invalid integer, using default", "key", key, "value", val, "default", defaultVal, "error", err)
		return defaultVal
	}
	return intVal
}

func getEnvDuration(ctx context.Context, logger *slog.Logger, key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		// Bare integers are read as seconds.
		secs, convErr := strconv.Atoi(val)
		if convErr != nil {
			logger.WarnContext(ctx, "Invalid duration, using default", "key", key, "value", val, "default", defaultVal, "error", err)
			return defaultVal
		}
		d = time.Duration(secs) * time.Second
	}
	return d
}
