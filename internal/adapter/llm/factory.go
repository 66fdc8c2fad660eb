package llm

import (
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/lazarus/internal/config"
)

// NewLLMClient creates an LLM client for the model configuration.
// Mock mode returns a MockClient; otherwise a real Client.
func NewLLMClient(cfg config.ModelConfig) LLMClient {
	if cfg.Mock {
		log.Info().Msg("model mock mode enabled, using mock LLM client")
		return NewMockClient()
	}

	return NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
}
