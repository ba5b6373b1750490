package mock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/casefile/internal/ai"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing.
type MockProvider struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.GenerationResult{}, nil
}

// NewMockProvider returns a MockProvider with sensible default responses for
// every stage task. Frame observations cover one frame per attached image.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
			switch req.Task {
			case models.TaskTranscriptCleanup:
				return result(req.Input), nil
			case models.TaskFrameObservations:
				frames := make([]map[string]any, len(req.Images))
				for i := range req.Images {
					frames[i] = map[string]any{
						"frame_index": i,
						"observations": []map[string]any{
							{"entity_type": "person", "description": "individual near car", "confidence": 0.9},
						},
					}
				}
				return jsonResult(map[string]any{"frames": frames, "summary": "Mock frame summary"})
			case models.TaskReportSynthesis:
				return jsonResult(map[string]any{
					"overview":   "Traffic stop",
					"timeline":   []string{"Stop initiated"},
					"entities":   []string{"Subject"},
					"actions":    []string{"Exited vehicle"},
					"conclusion": "No further action.",
				})
			default:
				return models.GenerationResult{}, fmt.Errorf("%w: unknown task %q", ai.ErrInvalidResponse, req.Task)
			}
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenerationRequest) (models.GenerationResult, error) {
			return models.GenerationResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ models.GenerationRequest) (models.GenerationResult, error) {
			<-ctx.Done()
			return models.GenerationResult{}, ai.ErrInferenceTimeout
		},
	}
}

// MockTranscriber satisfies models.Transcriber for testing.
type MockTranscriber struct {
	Text string
	Err  error
}

func (m *MockTranscriber) Name() string { return "mock" }

func (m *MockTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	return m.Text, m.Err
}

func result(content string) models.GenerationResult {
	return models.GenerationResult{Content: content, Model: "mock-v1"}
}

func jsonResult(v any) (models.GenerationResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return models.GenerationResult{}, err
	}
	return result(string(b)), nil
}

// Compile-time checks.
var (
	_ models.AIProvider  = (*MockProvider)(nil)
	_ models.Transcriber = (*MockTranscriber)(nil)
)
