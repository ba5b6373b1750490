package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/casefile/internal/sampler"
)

// VideoOpener decodes videos by probing them with ffprobe and streaming raw
// RGBA frames out of ffmpeg.
type VideoOpener struct {
	ffmpegPath  string
	ffprobePath string
	runner      CommandRunner
}

func NewVideoOpener(ffmpegPath, ffprobePath string) *VideoOpener {
	return NewVideoOpenerWithRunner(ffmpegPath, ffprobePath, ExecRunner{})
}

// NewVideoOpenerWithRunner constructs an opener whose ffprobe calls go through runner.
func NewVideoOpenerWithRunner(ffmpegPath, ffprobePath string, runner CommandRunner) *VideoOpener {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &VideoOpener{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, runner: runner}
}

// StreamInfo is the subset of ffprobe output needed to decode frames.
type StreamInfo struct {
	Width     int
	Height    int
	FrameRate float64
}

// Probe reads the first video stream's geometry and native frame rate.
func (o *VideoOpener) Probe(ctx context.Context, path string) (StreamInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return StreamInfo{}, fmt.Errorf("%w: %v", sampler.ErrSourceUnreadable, err)
	}

	res, err := o.runner.Run(ctx, o.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate",
		"-of", "json",
		path,
	)
	if err != nil {
		cmdErr := &CommandError{Command: o.ffprobePath, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
		return StreamInfo{}, fmt.Errorf("%w: %v", sampler.ErrSourceUnreadable, cmdErr)
	}

	info, err := parseProbe([]byte(res.Stdout))
	if err != nil {
		return StreamInfo{}, fmt.Errorf("%w: %v", sampler.ErrSourceUnreadable, err)
	}
	return info, nil
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

func parseProbe(raw []byte) (StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return StreamInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return StreamInfo{}, errors.New("no video stream found")
	}
	st := out.Streams[0]
	if st.Width <= 0 || st.Height <= 0 {
		return StreamInfo{}, fmt.Errorf("invalid frame size %dx%d", st.Width, st.Height)
	}

	rate := parseRational(st.AvgFrameRate)
	if rate <= 0 {
		rate = parseRational(st.RFrameRate)
	}
	return StreamInfo{Width: st.Width, Height: st.Height, FrameRate: rate}, nil
}

// parseRational parses ffprobe rates such as "30000/1001". Unparseable or
// undefined rates ("0/0") return 0.
func parseRational(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Open probes path and starts an ffmpeg process that emits every native frame.
func (o *VideoOpener) Open(ctx context.Context, path string) (sampler.Video, error) {
	info, err := o.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, o.ffmpegPath,
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-i", path,
		"-map", "0:v:0",
		"-vsync", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", sampler.ErrSourceUnreadable, err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start ffmpeg: %v", sampler.ErrSourceUnreadable, err)
	}

	return &ffmpegVideo{
		info:   info,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		cancel: cancel,
	}, nil
}

type ffmpegVideo struct {
	info   StreamInfo
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
	done   bool
}

func (v *ffmpegVideo) FrameRate() float64 {
	return v.info.FrameRate
}

func (v *ffmpegVideo) ReadFrame() (image.Image, error) {
	if v.done {
		return nil, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, v.info.Width, v.info.Height))
	_, err := io.ReadFull(v.stdout, img.Pix)
	if err == nil {
		return img, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		v.done = true
		if waitErr := v.cmd.Wait(); waitErr != nil {
			return nil, &CommandError{Command: "ffmpeg", ExitCode: v.cmd.ProcessState.ExitCode(), Stderr: v.stderr.String(), Err: waitErr}
		}
		return nil, io.EOF
	}
	return nil, fmt.Errorf("read raw frame: %w", err)
}

func (v *ffmpegVideo) Close() error {
	v.cancel()
	if !v.done {
		v.done = true
		_ = v.cmd.Wait()
	}
	return nil
}
