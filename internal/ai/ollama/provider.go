// Package ollama targets a local Ollama server through its OpenAI-compatible endpoint.
package ollama

import (
	"github.com/kiranshivaraju/casefile/internal/ai/openai"
	"github.com/kiranshivaraju/casefile/internal/config"
)

// Ollama ignores the bearer token, but the client requires one.
const placeholderKey = "ollama"

func NewProvider(cfg config.OllamaConfig) *openai.Provider {
	return openai.NewCompatibleProvider("ollama", cfg.BaseURL, placeholderKey, cfg.Model)
}
