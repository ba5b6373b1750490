// Package stages implements the three generation stage contracts of the
// report pipeline: transcript cleanup, frame observation extraction and
// report synthesis. Each contract sends one request to the injected
// AIProvider and validates the structured answer before returning it.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kiranshivaraju/casefile/internal/sampler"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// ErrGeneration is returned when a stage gets no result, or a result that
// does not satisfy its output schema.
var ErrGeneration = errors.New("generation failed")

// Stages runs generation stage contracts against a single provider.
type Stages struct {
	provider models.AIProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates Stages. A zero timeout leaves deadlines to the caller's context.
func New(provider models.AIProvider, timeout time.Duration, logger *slog.Logger) *Stages {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stages{provider: provider, timeout: timeout, logger: logger}
}

// CleanTranscript normalizes punctuation and fixes obvious recognition errors
// in a raw speech-to-text transcript. An empty transcript is returned as is.
func (s *Stages) CleanTranscript(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}

	var out struct {
		CleanedTranscript *string `json:"cleaned_transcript"`
	}
	err := s.generate(ctx, models.GenerationRequest{
		Task:         models.TaskTranscriptCleanup,
		Instructions: transcriptInstructions,
		Input:        raw,
		SchemaName:   "TranscriptResult",
		Schema:       transcriptSchema(),
	}, &out)
	if err != nil {
		return "", err
	}
	if out.CleanedTranscript == nil {
		return "", fmt.Errorf("%w: missing cleaned_transcript", ErrGeneration)
	}
	return strings.TrimSpace(*out.CleanedTranscript), nil
}

type observationWire struct {
	EntityType  *string  `json:"entity_type"`
	Description *string  `json:"description"`
	Confidence  *float64 `json:"confidence"`
}

type frameWire struct {
	FrameIndex   *int              `json:"frame_index"`
	Observations []observationWire `json:"observations"`
}

type frameSetWire struct {
	Frames  []frameWire `json:"frames"`
	Summary *string     `json:"summary"`
}

// ExtractFrameObservations describes every sampled frame in one batched
// request. The result covers each supplied frame index exactly once, sorted
// by index. Zero frames yield an empty set without calling the provider.
func (s *Stages) ExtractFrameObservations(ctx context.Context, frames []sampler.Frame) (*models.FrameObservationSet, error) {
	if len(frames) == 0 {
		return &models.FrameObservationSet{Frames: []models.FrameObservations{}}, nil
	}

	want := make(map[int]bool, len(frames))
	images := make([]models.ImageInput, 0, len(frames))
	for _, f := range frames {
		if want[f.Index] {
			return nil, fmt.Errorf("duplicate frame index %d", f.Index)
		}
		want[f.Index] = true

		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("reading frame %d: %w", f.Index, err)
		}
		images = append(images, models.ImageInput{
			Label:    fmt.Sprintf("Analyze frame index %d.", f.Index),
			MIMEType: "image/jpeg",
			Data:     data,
		})
	}

	var out frameSetWire
	err := s.generate(ctx, models.GenerationRequest{
		Task:         models.TaskFrameObservations,
		Instructions: frameInstructions,
		Input:        fmt.Sprintf("Describe each of the %d frames below.", len(frames)),
		Images:       images,
		SchemaName:   "FrameObservationSet",
		Schema:       frameSetSchema(),
	}, &out)
	if err != nil {
		return nil, err
	}

	set, err := validateFrames(out, want)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return set, nil
}

func validateFrames(out frameSetWire, want map[int]bool) (*models.FrameObservationSet, error) {
	if out.Frames == nil {
		return nil, errors.New("missing frames")
	}

	seen := make(map[int]bool, len(out.Frames))
	set := &models.FrameObservationSet{Frames: make([]models.FrameObservations, 0, len(out.Frames))}
	for _, fw := range out.Frames {
		if fw.FrameIndex == nil {
			return nil, errors.New("frame without frame_index")
		}
		idx := *fw.FrameIndex
		if !want[idx] {
			return nil, fmt.Errorf("unexpected frame index %d", idx)
		}
		if seen[idx] {
			return nil, fmt.Errorf("frame index %d returned twice", idx)
		}
		seen[idx] = true

		obs := make([]models.EntityObservation, 0, len(fw.Observations))
		for i, ow := range fw.Observations {
			o, err := validateObservation(ow)
			if err != nil {
				return nil, fmt.Errorf("frame %d observation %d: %w", idx, i, err)
			}
			obs = append(obs, o)
		}
		set.Frames = append(set.Frames, models.FrameObservations{FrameIndex: idx, Observations: obs})
	}
	if len(seen) != len(want) {
		return nil, fmt.Errorf("got %d of %d frames", len(seen), len(want))
	}

	sort.Slice(set.Frames, func(i, j int) bool {
		return set.Frames[i].FrameIndex < set.Frames[j].FrameIndex
	})

	if out.Summary != nil && strings.TrimSpace(*out.Summary) != "" {
		summary := strings.TrimSpace(*out.Summary)
		set.Summary = &summary
	}
	return set, nil
}

func validateObservation(ow observationWire) (models.EntityObservation, error) {
	switch {
	case ow.EntityType == nil || strings.TrimSpace(*ow.EntityType) == "":
		return models.EntityObservation{}, errors.New("missing entity_type")
	case ow.Description == nil:
		return models.EntityObservation{}, errors.New("missing description")
	case ow.Confidence == nil:
		return models.EntityObservation{}, errors.New("missing confidence")
	case *ow.Confidence < 0 || *ow.Confidence > 1:
		return models.EntityObservation{}, fmt.Errorf("confidence %v outside [0,1]", *ow.Confidence)
	}
	return models.EntityObservation{
		EntityType:  strings.TrimSpace(*ow.EntityType),
		Description: strings.TrimSpace(*ow.Description),
		Confidence:  *ow.Confidence,
	}, nil
}

type synthesisWire struct {
	Overview   *string   `json:"overview"`
	Timeline   *[]string `json:"timeline"`
	Entities   *[]string `json:"entities"`
	Actions    *[]string `json:"actions"`
	Conclusion *string   `json:"conclusion"`
}

// SynthesizeReport combines the cleaned transcript and the frame findings
// into a structured incident report.
func (s *Stages) SynthesizeReport(ctx context.Context, transcript string, findings *models.FrameObservationSet) (*models.ReportSynthesis, error) {
	if findings == nil {
		findings = &models.FrameObservationSet{Frames: []models.FrameObservations{}}
	}
	findingsJSON, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding frame findings: %w", err)
	}

	var out synthesisWire
	err = s.generate(ctx, models.GenerationRequest{
		Task:         models.TaskReportSynthesis,
		Instructions: synthesisInstructions,
		Input:        "Cleaned Transcript:\n" + transcript + "\n\nImage Analysis Summary:\n" + string(findingsJSON),
		SchemaName:   "ReportSynthesisResult",
		Schema:       synthesisSchema(),
	}, &out)
	if err != nil {
		return nil, err
	}

	var missing []string
	if out.Overview == nil {
		missing = append(missing, "overview")
	}
	if out.Timeline == nil {
		missing = append(missing, "timeline")
	}
	if out.Entities == nil {
		missing = append(missing, "entities")
	}
	if out.Actions == nil {
		missing = append(missing, "actions")
	}
	if out.Conclusion == nil {
		missing = append(missing, "conclusion")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrGeneration, strings.Join(missing, ", "))
	}

	return &models.ReportSynthesis{
		Overview:   strings.TrimSpace(*out.Overview),
		Timeline:   cleanList(*out.Timeline),
		Entities:   cleanList(*out.Entities),
		Actions:    cleanList(*out.Actions),
		Conclusion: strings.TrimSpace(*out.Conclusion),
	}, nil
}

// generate calls the provider and decodes its JSON answer into v.
func (s *Stages) generate(ctx context.Context, req models.GenerationRequest, v any) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.provider.Generate(ctx, req)
	generationDuration.WithLabelValues(req.Task).Observe(time.Since(start).Seconds())
	if err != nil {
		generationCalls.WithLabelValues(req.Task, outcomeError).Inc()
		s.logger.Warn("generation call failed", "task", req.Task, "provider", s.provider.Name(), "error", err)
		return fmt.Errorf("%w: %s: %w", ErrGeneration, req.Task, err)
	}
	s.logger.Debug("generation call finished",
		"task", req.Task,
		"provider", s.provider.Name(),
		"model", res.Model,
		"images", len(req.Images),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	body := stripCodeFence(res.Content)
	if body == "" {
		generationCalls.WithLabelValues(req.Task, outcomeInvalid).Inc()
		return fmt.Errorf("%w: %s: empty response", ErrGeneration, req.Task)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		generationCalls.WithLabelValues(req.Task, outcomeInvalid).Inc()
		return fmt.Errorf("%w: %s: decoding response: %v", ErrGeneration, req.Task, err)
	}
	generationCalls.WithLabelValues(req.Task, outcomeOK).Inc()
	return nil
}

// stripCodeFence removes a surrounding ```json fence some local models add
// even when a response format is requested.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
