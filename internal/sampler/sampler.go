// Package sampler turns a decodable video into an ordered set of still frames
// taken at a fixed output rate.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
)

// DefaultFrameRate is assumed when a source does not report a usable frame rate.
const DefaultFrameRate = 30.0

// ErrSourceUnreadable is returned when the video cannot be opened for decoding.
var ErrSourceUnreadable = errors.New("video source unreadable")

// Video is an open, forward-only frame stream.
type Video interface {
	// FrameRate is the native rate in frames per second; zero or negative means unknown.
	FrameRate() float64
	// ReadFrame returns the next native frame, or io.EOF at end of stream.
	ReadFrame() (image.Image, error)
	Close() error
}

// VideoOpener opens a video file for decoding.
type VideoOpener interface {
	Open(ctx context.Context, path string) (Video, error)
}

// Frame is one sampled still written to disk.
type Frame struct {
	// Index is the sequential output index, independent of the native frame number.
	Index int
	Path  string
}

// FileName returns the artifact name used for the frame at output index i.
func FileName(i int) string {
	return fmt.Sprintf("frame_%06d.jpg", i)
}

// Stride returns how many native frames separate two consecutive samples.
func Stride(nativeRate float64, rate int) int {
	if nativeRate <= 0 || math.IsNaN(nativeRate) || math.IsInf(nativeRate, 0) {
		nativeRate = DefaultFrameRate
	}
	if rate < 1 {
		rate = 1
	}
	stride := int(math.Floor(nativeRate / float64(rate)))
	if stride < 1 {
		return 1
	}
	return stride
}

type Sampler struct {
	opener   VideoOpener
	quality  int
	maxCount int
	logger   *slog.Logger
}

type Option func(*Sampler)

// WithJPEGQuality sets the encoder quality for written frames.
func WithJPEGQuality(q int) Option {
	return func(s *Sampler) {
		s.quality = q
	}
}

// WithMaxFrames stops sampling after n frames. Zero means no limit.
func WithMaxFrames(n int) Option {
	return func(s *Sampler) {
		s.maxCount = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) {
		s.logger = l
	}
}

func New(opener VideoOpener, opts ...Option) *Sampler {
	s := &Sampler{
		opener:  opener,
		quality: 90,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample reads videoPath once and writes every stride-th native frame into
// destDir. Existing files in destDir are left alone. A video with no frames
// yields an empty, non-nil slice.
func (s *Sampler) Sample(ctx context.Context, videoPath string, rate int, destDir string) ([]Frame, error) {
	video, err := s.opener.Open(ctx, videoPath)
	if err != nil {
		if errors.Is(err, ErrSourceUnreadable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	defer video.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}

	stride := Stride(video.FrameRate(), rate)
	frames := []Frame{}

	for native := 0; ; native++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := video.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read frame %d: %w", native, err)
		}
		if native%stride != 0 {
			continue
		}

		out := Frame{Index: len(frames), Path: filepath.Join(destDir, FileName(len(frames)))}
		if err := s.writeJPEG(out.Path, img); err != nil {
			return nil, err
		}
		frames = append(frames, out)

		if s.maxCount > 0 && len(frames) >= s.maxCount {
			s.logger.Warn("frame limit reached, stopping early",
				"video", videoPath,
				"limit", s.maxCount,
			)
			break
		}
	}

	s.logger.Info("frames sampled",
		"video", videoPath,
		"native_rate", video.FrameRate(),
		"stride", stride,
		"count", len(frames),
	)
	return frames, nil
}

func (s *Sampler) writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame file: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.quality}); err != nil {
		f.Close()
		return fmt.Errorf("encode frame %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
