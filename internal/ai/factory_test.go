package ai_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/casefile/internal/ai"
	"github.com/kiranshivaraju/casefile/internal/ai/mock"
	"github.com/kiranshivaraju/casefile/internal/config"
	"github.com/kiranshivaraju/casefile/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Ollama(t *testing.T) {
	cfg := config.AIConfig{
		Provider: "ollama",
		Ollama:   config.OllamaConfig{BaseURL: "http://localhost:11434/v1", Model: "llava"},
	}
	p, err := ai.NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
}

func TestNewProvider_VLLM(t *testing.T) {
	cfg := config.AIConfig{
		Provider: "vllm",
		VLLM:     config.VLLMConfig{BaseURL: "http://localhost:8000/v1", Model: "llava-hf/llava-1.5-7b-hf"},
	}
	p, err := ai.NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "vllm", p.Name())
}

func TestNewProvider_OpenAI(t *testing.T) {
	cfg := config.AIConfig{
		Provider: "openai",
		OpenAI:   config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4.1-mini"},
	}
	p, err := ai.NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestNewProvider_RateLimitedKeepsName(t *testing.T) {
	cfg := config.AIConfig{
		Provider:          "openai",
		RequestsPerSecond: 2,
		OpenAI:            config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4.1-mini"},
	}
	p, err := ai.NewProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ai.RateLimited{}, p)
	assert.Equal(t, "openai", p.Name())
}

func TestNewProvider_Unknown(t *testing.T) {
	cfg := config.AIConfig{Provider: "unknown-provider"}
	_, err := ai.NewProvider(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI provider")
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestNewProvider_Empty(t *testing.T) {
	cfg := config.AIConfig{Provider: ""}
	_, err := ai.NewProvider(cfg)
	require.Error(t, err)
}

func TestNewTranscriber(t *testing.T) {
	cfg := config.Config{
		AI: config.AIConfig{OpenAI: config.OpenAIConfig{APIKey: "sk-test"}},
		Transcriber: config.TranscriberConfig{
			Backend:         "whispercpp",
			WhisperCPPPath:  "whisper-cli",
			WhisperCPPModel: "/models/base.bin",
		},
	}
	tr, err := ai.NewTranscriber(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "whispercpp", tr.Name())

	cfg.Transcriber.Backend = "openai"
	tr, err = ai.NewTranscriber(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai-whisper", tr.Name())

	cfg.Transcriber.Backend = "nope"
	_, err = ai.NewTranscriber(cfg, nil)
	assert.Error(t, err)
}

func TestRateLimited_PassesThrough(t *testing.T) {
	p := ai.NewRateLimited(mock.NewMockProvider(), 1000, 1)
	res, err := p.Generate(context.Background(), models.GenerationRequest{
		Task:  models.TaskTranscriptCleanup,
		Input: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Content)
}

func TestRateLimited_ContextDeadline(t *testing.T) {
	p := ai.NewRateLimited(mock.NewMockProvider(), 0.01, 1)
	req := models.GenerationRequest{Task: models.TaskTranscriptCleanup, Input: "x"}

	_, err := p.Generate(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Generate(ctx, req)
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
}

func TestRateLimited_CanceledIsNotTimeout(t *testing.T) {
	p := ai.NewRateLimited(mock.NewMockProvider(), 0.01, 1)
	req := models.GenerationRequest{Task: models.TaskTranscriptCleanup, Input: "x"}

	_, err := p.Generate(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Generate(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ai.ErrInferenceTimeout)
}
