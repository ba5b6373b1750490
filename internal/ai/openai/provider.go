// Package openai implements models.AIProvider and models.Transcriber on top of
// any OpenAI-compatible chat completions and audio transcription API.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/casefile/internal/config"
	"github.com/kiranshivaraju/casefile/pkg/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// Provider implements models.AIProvider using the chat completions API.
type Provider struct {
	client *goopenai.Client
	name   string
	model  string
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return NewCompatibleProvider("openai", cfg.BaseURL, cfg.APIKey, cfg.Model)
}

// NewCompatibleProvider builds a provider for a server that speaks the OpenAI
// wire format, such as Ollama or vLLM. An empty baseURL targets api.openai.com.
func NewCompatibleProvider(name, baseURL, apiKey, model string) *Provider {
	clientConfig := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &Provider{
		client: goopenai.NewClientWithConfig(clientConfig),
		name:   name,
		model:  model,
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	creq := goopenai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    buildMessages(req),
		Temperature: 0.1,
	}
	if req.Schema != nil {
		creq.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: req.Schema,
				Strict: true,
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return models.GenerationResult{}, classifyError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return models.GenerationResult{}, fmt.Errorf("%w: no choices returned", models.ErrInvalidResponse)
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return models.GenerationResult{}, fmt.Errorf("%w: %s", models.ErrRefused, choice.Message.Refusal)
	}
	if choice.FinishReason == goopenai.FinishReasonContentFilter {
		return models.GenerationResult{}, fmt.Errorf("%w: content filtered", models.ErrRefused)
	}

	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return models.GenerationResult{}, fmt.Errorf("%w: empty content", models.ErrInvalidResponse)
	}
	return models.GenerationResult{Content: content, Model: resp.Model}, nil
}

func buildMessages(req models.GenerationRequest) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.Instructions != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}

	if len(req.Images) == 0 {
		return append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: req.Input,
		})
	}

	parts := make([]goopenai.ChatMessagePart, 0, 1+2*len(req.Images))
	if req.Input != "" {
		parts = append(parts, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: req.Input})
	}
	for _, img := range req.Images {
		if img.Label != "" {
			parts = append(parts, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: img.Label})
		}
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: goopenai.ImageURLDetailLow,
			},
		})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:         goopenai.ChatMessageRoleUser,
		MultiContent: parts,
	})
}

func dataURL(img models.ImageInput) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// classifyError maps client errors onto the provider error taxonomy.
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s", models.ErrInvalidResponse, apiErr.Message)
		}
		return fmt.Errorf("%w: status %d: %s", models.ErrProviderUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
}

var _ models.AIProvider = (*Provider)(nil)
