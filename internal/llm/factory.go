package llm

import (
	"log/slog"
	"strings"
)

// ModeMock selects the mock model.
const ModeMock = "MOCK"

// NewClient creates a model client for the given ledger mode.
// If mode is MOCK, returns a MockClient; otherwise returns an OpenAIClient.
func NewClient(config Config, mode string) Client {
	if strings.EqualFold(mode, ModeMock) {
		slog.Info("LEDGER_MODE=MOCK detected, using mock model client")
		return NewMockClient()
	}

	slog.Info("using OpenAI-compatible model client", "model", config.Model, "base_url", config.BaseURL)
	return NewOpenAIClient(config)
}
