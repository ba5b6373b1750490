package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrExtraction is returned when the audio track cannot be produced.
var ErrExtraction = errors.New("audio extraction failed")

// AudioExtractor produces a mono 16 kHz PCM WAV track from a video.
type AudioExtractor struct {
	ffmpegPath string
	runner     CommandRunner
	stat       func(name string) (os.FileInfo, error)
	logger     *slog.Logger
}

func NewAudioExtractor(ffmpegPath string, logger *slog.Logger) *AudioExtractor {
	return NewAudioExtractorWithRunner(ffmpegPath, ExecRunner{}, logger)
}

// NewAudioExtractorWithRunner constructs an extractor with an injected command runner.
func NewAudioExtractorWithRunner(ffmpegPath string, runner CommandRunner, logger *slog.Logger) *AudioExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioExtractor{
		ffmpegPath: ffmpegPath,
		runner:     runner,
		stat:       os.Stat,
		logger:     logger,
	}
}

// Extract writes the audio track of videoPath to destPath. It succeeds only
// when ffmpeg exits cleanly and the artifact exists.
func (e *AudioExtractor) Extract(ctx context.Context, videoPath, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("%w: create audio dir: %v", ErrExtraction, err)
	}

	args := buildAudioArgs(videoPath, destPath)
	res, err := e.runner.Run(ctx, e.ffmpegPath, args...)
	if err != nil {
		cmdErr := &CommandError{Command: e.ffmpegPath, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
		return fmt.Errorf("%w: %v", ErrExtraction, cmdErr)
	}

	info, err := e.stat(destPath)
	if err != nil {
		return fmt.Errorf("%w: ffmpeg completed but output file is missing", ErrExtraction)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: ffmpeg produced an empty audio file", ErrExtraction)
	}

	e.logger.Info("audio extracted",
		"video", videoPath,
		"audio", destPath,
		"bytes", info.Size(),
	)
	return nil
}

func buildAudioArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}
