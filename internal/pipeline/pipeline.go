// Package pipeline drives a report through its fixed stage sequence:
// extraction, transcription, image analysis and synthesis. Every stage output
// is committed before the next status is persisted, and any failure ends the
// run in the failed state with earlier outputs left intact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/blob"
	"github.com/kiranshivaraju/casefile/internal/report"
	"github.com/kiranshivaraju/casefile/internal/sampler"
	"github.com/kiranshivaraju/casefile/internal/stages"
	"github.com/kiranshivaraju/casefile/internal/store"
	"github.com/kiranshivaraju/casefile/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kiranshivaraju/casefile/internal/pipeline"

// AudioExtractor writes the audio track of a video to destPath.
type AudioExtractor interface {
	Extract(ctx context.Context, videoPath, destPath string) error
}

// FrameSampler writes sampled frames of a video into destDir.
type FrameSampler interface {
	Sample(ctx context.Context, videoPath string, rate int, destDir string) ([]sampler.Frame, error)
}

// GenerationStages are the three generation stage contracts.
type GenerationStages interface {
	CleanTranscript(ctx context.Context, raw string) (string, error)
	ExtractFrameObservations(ctx context.Context, frames []sampler.Frame) (*models.FrameObservationSet, error)
	SynthesizeReport(ctx context.Context, transcript string, findings *models.FrameObservationSet) (*models.ReportSynthesis, error)
}

// StatusCache mirrors persisted statuses for cheap polling. Optional.
type StatusCache interface {
	SetReportStatus(ctx context.Context, reportID uuid.UUID, status string, ttl time.Duration) error
	DeleteReportStatus(ctx context.Context, reportID uuid.UUID) error
}

// Deps are the collaborators an Orchestrator is built from.
type Deps struct {
	Store       store.ReportWriter
	Blobs       blob.Store
	Audio       AudioExtractor
	Sampler     FrameSampler
	Transcriber models.Transcriber
	Stages      GenerationStages
	Cache       StatusCache
	Logger      *slog.Logger
}

// Options tune a run.
type Options struct {
	WorkDir       string
	SampleRate    int
	StatusTTL     time.Duration
	KeepArtifacts bool
}

// Orchestrator runs the pipeline for one report at a time per call. Calls for
// different reports may run concurrently.
type Orchestrator struct {
	deps   Deps
	opts   Options
	tracer trace.Tracer
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "casefile")
	}
	if opts.SampleRate < 1 {
		opts.SampleRate = 1
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 30 * time.Minute
	}
	return &Orchestrator{deps: deps, opts: opts, tracer: otel.Tracer(tracerName)}
}

// run holds the state of a single pipeline run.
type run struct {
	id        uuid.UUID
	logger    *slog.Logger
	dir       string
	videoPath string
	audioPath string
	frames    []sampler.Frame

	transcript string
	findings   *models.FrameObservationSet
}

// Run executes the pipeline for the report with the given id and returns the
// status the report was left in. Stage errors are never returned: the outcome
// is persisted on the report. The error is non-nil only when the report could
// not be loaded, in which case nothing was run. Only pending reports are run.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) (status models.ReportStatus, err error) {
	logger := o.deps.Logger.With("report_id", id)

	ctx, span := o.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(attribute.String("report.id", id.String())))
	defer span.End()

	rep, err := o.deps.Store.GetReport(ctx, id)
	if err != nil {
		logger.Error("loading report", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load report")
		runsTotal.WithLabelValues(outcomeSkipped).Inc()
		return "", fmt.Errorf("loading report %s: %w", id, err)
	}
	if rep.Status != models.StatusPending {
		logger.Warn("report is not pending, skipping run", "status", rep.Status)
		runsTotal.WithLabelValues(outcomeSkipped).Inc()
		return rep.Status, nil
	}

	activeRuns.Inc()
	defer activeRuns.Dec()
	start := time.Now()

	r := &run{
		id:     id,
		logger: logger,
		dir:    filepath.Join(o.opts.WorkDir, id.String()),
	}
	r.videoPath = filepath.Join(r.dir, "input"+filepath.Ext(rep.SourceVideoRef))
	r.audioPath = filepath.Join(r.dir, "audio.wav")

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic in pipeline run", "error", rec)
			status = o.fail(ctx, r, fmt.Errorf("panic: %v", rec))
		}
		if !o.opts.KeepArtifacts {
			if err := os.RemoveAll(r.dir); err != nil {
				logger.Warn("removing work dir", "dir", r.dir, "error", err)
			}
		}
		if status == models.StatusCompleted {
			runsTotal.WithLabelValues(outcomeCompleted).Inc()
		} else {
			runsTotal.WithLabelValues(outcomeFailed).Inc()
			span.SetStatus(codes.Error, "run failed")
		}
		stageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}()

	logger.Info("pipeline run started", "source", rep.SourceVideoRef)

	steps := []struct {
		status models.ReportStatus
		fn     func(context.Context, *run, *models.Report) error
	}{
		{models.StatusExtracting, o.extract},
		{models.StatusTranscribing, o.transcribe},
		{models.StatusAnalyzingImages, o.analyzeImages},
		{models.StatusSummarizing, o.summarize},
	}

	for _, step := range steps {
		if err := o.advance(ctx, r, step.status); err != nil {
			return o.fail(ctx, r, err), nil
		}
		if err := o.runStage(ctx, r, rep, step.status, step.fn); err != nil {
			return o.fail(ctx, r, err), nil
		}
	}

	if err := o.advance(ctx, r, models.StatusCompleted); err != nil {
		return o.fail(ctx, r, err), nil
	}

	logger.Info("pipeline run completed", "duration_ms", time.Since(start).Milliseconds())
	return models.StatusCompleted, nil
}

func (o *Orchestrator) runStage(ctx context.Context, r *run, rep *models.Report, stage models.ReportStatus, fn func(context.Context, *run, *models.Report) error) error {
	ctx, span := o.tracer.Start(ctx, "pipeline."+string(stage), trace.WithAttributes(
		attribute.String("report.id", r.id.String()),
		attribute.String("stage", string(stage)),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx, r, rep)
	stageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.logger.Info("stage completed", "stage", stage, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// extract fetches the source video, extracts the audio track and samples
// frames. Both artifacts must exist before the run advances.
func (o *Orchestrator) extract(ctx context.Context, r *run, rep *models.Report) error {
	const stage = models.StatusExtracting

	if err := os.RemoveAll(r.dir); err != nil {
		return stageErr(stage, ErrExtraction, fmt.Errorf("reset work dir: %w", err))
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return stageErr(stage, ErrExtraction, fmt.Errorf("create work dir: %w", err))
	}

	if err := o.deps.Blobs.Fetch(ctx, rep.SourceVideoRef, r.videoPath); err != nil {
		return stageErr(stage, ErrSourceUnreadable, fmt.Errorf("fetching source video: %w", err))
	}

	if err := o.deps.Audio.Extract(ctx, r.videoPath, r.audioPath); err != nil {
		return stageErr(stage, ErrExtraction, err)
	}
	if err := o.storeAudio(ctx, r); err != nil {
		return stageErr(stage, ErrPersistence, err)
	}

	frames, err := o.deps.Sampler.Sample(ctx, r.videoPath, o.opts.SampleRate, filepath.Join(r.dir, "frames"))
	if err != nil {
		if errors.Is(err, sampler.ErrSourceUnreadable) {
			return stageErr(stage, ErrSourceUnreadable, err)
		}
		return stageErr(stage, ErrExtraction, fmt.Errorf("sampling frames: %w", err))
	}
	if len(frames) == 0 {
		r.logger.Warn("video yielded no frames")
	}
	framesSampled.Add(float64(len(frames)))
	r.frames = frames
	return nil
}

func (o *Orchestrator) storeAudio(ctx context.Context, r *run) error {
	f, err := os.Open(r.audioPath)
	if err != nil {
		return fmt.Errorf("opening audio artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat audio artifact: %w", err)
	}

	key := blob.AudioKey(r.id.String())
	if err := o.deps.Blobs.Put(ctx, key, f, info.Size(), "audio/wav"); err != nil {
		return fmt.Errorf("uploading audio artifact: %w", err)
	}
	if err := o.deps.Store.SetAudioRef(ctx, r.id, key); err != nil {
		return fmt.Errorf("recording audio ref: %w", err)
	}
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, r *run, _ *models.Report) error {
	const stage = models.StatusTranscribing

	raw, err := o.deps.Transcriber.Transcribe(ctx, r.audioPath)
	if err != nil {
		return stageErr(stage, ErrGeneration, fmt.Errorf("transcribing audio with %s: %w", o.deps.Transcriber.Name(), err))
	}
	if raw == "" {
		r.logger.Warn("transcriber returned no speech")
	}

	cleaned, err := o.deps.Stages.CleanTranscript(ctx, raw)
	if err != nil {
		return stageErr(stage, ErrGeneration, err)
	}

	if err := o.deps.Store.CommitTranscript(ctx, r.id, cleaned); err != nil {
		return stageErr(stage, ErrPersistence, err)
	}
	r.transcript = cleaned
	return nil
}

func (o *Orchestrator) analyzeImages(ctx context.Context, r *run, _ *models.Report) error {
	const stage = models.StatusAnalyzingImages

	findings, err := o.deps.Stages.ExtractFrameObservations(ctx, r.frames)
	if err != nil {
		if errors.Is(err, stages.ErrGeneration) {
			return stageErr(stage, ErrGeneration, err)
		}
		return stageErr(stage, ErrExtraction, err)
	}

	if err := o.deps.Store.CommitFrameFindings(ctx, r.id, findings); err != nil {
		return stageErr(stage, ErrPersistence, err)
	}
	r.findings = findings
	return nil
}

func (o *Orchestrator) summarize(ctx context.Context, r *run, _ *models.Report) error {
	const stage = models.StatusSummarizing

	syn, err := o.deps.Stages.SynthesizeReport(ctx, r.transcript, r.findings)
	if err != nil {
		return stageErr(stage, ErrGeneration, err)
	}

	if err := o.deps.Store.CommitSummarizedReport(ctx, r.id, report.Format(*syn)); err != nil {
		return stageErr(stage, ErrPersistence, err)
	}
	return nil
}

// advance persists the transition to status before its work starts.
func (o *Orchestrator) advance(ctx context.Context, r *run, status models.ReportStatus) error {
	if err := o.deps.Store.UpdateReportStatus(ctx, r.id, status); err != nil {
		return stageErr(status, ErrPersistence, fmt.Errorf("persisting status: %w", err))
	}
	o.cacheStatus(ctx, r.id, status)
	r.logger.Info("report status changed", "status", status, "progress", status.Progress())
	return nil
}

// fail records the failed status with a diagnostic message. It runs on a
// context detached from cancellation so an aborted run is still recorded.
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) models.ReportStatus {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	if msg == "" {
		msg = "pipeline failed"
	}

	r.logger.Error("pipeline run failed", "error", cause)

	if err := o.deps.Store.UpdateReportStatus(ctx, r.id, models.StatusFailed, store.WithStatusMessage(msg)); err != nil {
		r.logger.Error("persisting failed status", "error", err, "cause", msg)
	}
	o.cacheStatus(ctx, r.id, models.StatusFailed)
	return models.StatusFailed
}

func (o *Orchestrator) cacheStatus(ctx context.Context, id uuid.UUID, status models.ReportStatus) {
	if o.deps.Cache == nil {
		return
	}
	err := o.deps.Cache.SetReportStatus(ctx, id, string(status), o.opts.StatusTTL)
	if err == nil {
		return
	}
	o.deps.Logger.Warn("caching report status", "report_id", id, "status", status, "error", err)
	// A stale in-progress entry would hide this transition from status readers.
	if err := o.deps.Cache.DeleteReportStatus(ctx, id); err != nil {
		o.deps.Logger.Error("dropping stale cached status", "report_id", id, "error", err)
	}
}
