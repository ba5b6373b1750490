package openai

import (
	"context"
	"strings"

	"github.com/kiranshivaraju/casefile/pkg/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// Transcriber implements models.Transcriber with the audio transcription endpoint.
type Transcriber struct {
	client   *goopenai.Client
	model    string
	language string
}

// NewTranscriber builds a Whisper API transcriber. language "auto" or "" lets the model detect it.
func NewTranscriber(baseURL, apiKey, model, language string) *Transcriber {
	clientConfig := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if model == "" {
		model = goopenai.Whisper1
	}
	if strings.EqualFold(language, "auto") {
		language = ""
	}
	return &Transcriber{
		client:   goopenai.NewClientWithConfig(clientConfig),
		model:    model,
		language: language,
	}
}

func (t *Transcriber) Name() string { return "openai-whisper" }

func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    t.model,
		FilePath: audioPath,
		Language: t.language,
	})
	if err != nil {
		return "", classifyError(ctx, err)
	}
	// Silent footage legitimately produces an empty transcript.
	return strings.TrimSpace(resp.Text), nil
}

var _ models.Transcriber = (*Transcriber)(nil)
