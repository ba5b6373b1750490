// Package models contains shared data models used across the casefile codebase.
package models

import (
	"context"
	"encoding/json"
	"errors"
)

// Errors returned by AIProvider and Transcriber implementations.
var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrRefused             = errors.New("ai provider refused the request")
)

// AIProvider is the text/vision generation capability behind every generation stage.
// Never call specific AI providers directly; always inject this interface.
type AIProvider interface {
	// Generate runs one request/response exchange and returns raw model output.
	// When req.Schema is set the output is expected to be a JSON document conforming to it.
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
	// Name returns the provider identifier (e.g., "openai", "ollama").
	Name() string
}

// Transcriber turns an audio artifact into raw transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Name() string
}

// Generation tasks, one per stage contract.
const (
	TaskTranscriptCleanup = "transcript_cleanup"
	TaskFrameObservations = "frame_observations"
	TaskReportSynthesis   = "report_synthesis"
)

// GenerationRequest is the input to a single generation call.
type GenerationRequest struct {
	Task         string // stage identifier, used in logs and as the generation metrics label
	Instructions string
	Input        string
	Images       []ImageInput
	SchemaName   string
	Schema       json.Marshaler
}

// ImageInput is one image attached to a generation request.
type ImageInput struct {
	Label    string // text sent alongside the image, e.g. "Frame index 3."
	MIMEType string
	Data     []byte
}

// GenerationResult is the raw output of a generation call.
type GenerationResult struct {
	Content string
	Model   string
}
