// Package whispercpp transcribes audio locally with the whisper.cpp CLI.
package whispercpp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/casefile/internal/media"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// Transcriber implements models.Transcriber by shelling out to whisper.cpp.
type Transcriber struct {
	binary    string
	modelPath string
	language  string
	runner    media.CommandRunner
	readFile  func(name string) ([]byte, error)
	logger    *slog.Logger
}

func New(binary, modelPath, language string, logger *slog.Logger) *Transcriber {
	return NewWithRunner(binary, modelPath, language, media.ExecRunner{}, logger)
}

// NewWithRunner constructs a transcriber with an injected command runner.
func NewWithRunner(binary, modelPath, language string, runner media.CommandRunner, logger *slog.Logger) *Transcriber {
	if binary == "" {
		binary = "whisper-cli"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{
		binary:    binary,
		modelPath: modelPath,
		language:  language,
		runner:    runner,
		readFile:  os.ReadFile,
		logger:    logger,
	}
}

func (t *Transcriber) Name() string { return "whispercpp" }

// Transcribe writes <audio dir>/transcript.txt next to the audio file and returns its trimmed content.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	textBase := filepath.Join(filepath.Dir(audioPath), "transcript")
	args := buildArgs(t.modelPath, audioPath, textBase, t.language)

	res, err := t.runner.Run(ctx, t.binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", models.ErrInferenceTimeout, ctx.Err())
		}
		cmdErr := &media.CommandError{Command: t.binary, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
		return "", fmt.Errorf("%w: %v", models.ErrProviderUnavailable, cmdErr)
	}

	content, err := t.readFile(textBase + ".txt")
	if err != nil {
		return "", fmt.Errorf("%w: whisper.cpp completed but transcript file is missing", models.ErrInvalidResponse)
	}

	text := strings.TrimSpace(string(content))
	t.logger.Info("audio transcribed",
		"audio", audioPath,
		"chars", len(text),
	)
	return text, nil
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

func buildArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
		"-np",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}

var _ models.Transcriber = (*Transcriber)(nil)
