// Package vllm targets a vLLM server through its OpenAI-compatible endpoint.
package vllm

import (
	"github.com/kiranshivaraju/casefile/internal/ai/openai"
	"github.com/kiranshivaraju/casefile/internal/config"
)

func NewProvider(cfg config.VLLMConfig) *openai.Provider {
	return openai.NewCompatibleProvider("vllm", cfg.BaseURL, "EMPTY", cfg.Model)
}
