package ai

import (
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/casefile/internal/ai/ollama"
	"github.com/kiranshivaraju/casefile/internal/ai/openai"
	"github.com/kiranshivaraju/casefile/internal/ai/vllm"
	"github.com/kiranshivaraju/casefile/internal/ai/whispercpp"
	"github.com/kiranshivaraju/casefile/internal/config"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.AIProvider, error) {
	var p models.AIProvider
	switch cfg.Provider {
	case "ollama":
		p = ollama.NewProvider(cfg.Ollama)
	case "vllm":
		p = vllm.NewProvider(cfg.VLLM)
	case "openai":
		p = openai.NewProvider(cfg.OpenAI)
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai", cfg.Provider)
	}
	if cfg.RequestsPerSecond > 0 {
		p = NewRateLimited(p, cfg.RequestsPerSecond, 1)
	}
	return p, nil
}

// NewTranscriber constructs the speech-to-text backend selected by config.
func NewTranscriber(cfg config.Config, logger *slog.Logger) (models.Transcriber, error) {
	t := cfg.Transcriber
	switch t.Backend {
	case "openai":
		return openai.NewTranscriber(cfg.AI.OpenAI.BaseURL, cfg.AI.OpenAI.APIKey, t.WhisperModel, t.WhisperLanguage), nil
	case "whispercpp":
		return whispercpp.New(t.WhisperCPPPath, t.WhisperCPPModel, t.WhisperLanguage, logger), nil
	default:
		return nil, fmt.Errorf("unknown transcriber %q: must be one of openai, whispercpp", t.Backend)
	}
}
