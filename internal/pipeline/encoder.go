package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// AudioClip places a span of an audio file on the export timeline.
type AudioClip struct {
	Path     string
	Start    float64 // timeline seconds
	Duration float64
}

// Encoder is a running ffmpeg process consuming raw RGBA frames and writing
// a VP9 webm file. Closing stdin lets ffmpeg finalize the container, so a
// stopped encoder always leaves a playable file behind.
type Encoder struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    bytes.Buffer
	frameSize int
	path      string
	started   time.Time

	mu     sync.Mutex
	frames int
	closed bool
	result RunResult
	err    error
}

// OpenEncoder starts ffmpeg with a rawvideo pipe on stdin.
func (r *SubprocessRunner) OpenEncoder(ctx context.Context, spec EncoderSpec) (*Encoder, error) {
	if spec.Width <= 0 || spec.Height <= 0 || spec.FPS <= 0 {
		return nil, fmt.Errorf("invalid encoder spec %dx%d@%d", spec.Width, spec.Height, spec.FPS)
	}
	if err := os.MkdirAll(filepath.Dir(spec.OutputPath), 0755); err != nil {
		return nil, fmt.Errorf("cannot create output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.ffmpeg, encoderArgs(spec)...)
	enc := &Encoder{
		cmd:       cmd,
		frameSize: spec.Width * spec.Height * 4,
		path:      spec.OutputPath,
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = &limitedWriter{w: &enc.stderr, limit: maxStderrBytes}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	enc.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	enc.started = time.Now()

	r.cfg.Logger.Info("encoder started",
		"width", spec.Width,
		"height", spec.Height,
		"fps", spec.FPS,
		"output", r.safePath(spec.OutputPath),
	)
	return enc, nil
}

func encoderArgs(spec EncoderSpec) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-r", strconv.Itoa(spec.FPS),
		"-i", "pipe:0",
		"-c:v", "libvpx-vp9",
		"-b:v", "0",
		"-crf", "32",
		"-deadline", "realtime",
		"-row-mt", "1",
		"-pix_fmt", "yuv420p",
		spec.OutputPath,
	}
}

// WriteFrame sends one RGBA frame of exactly width*height*4 bytes.
func (e *Encoder) WriteFrame(rgba []byte) error {
	if len(rgba) != e.frameSize {
		return fmt.Errorf("frame is %d bytes, want %d", len(rgba), e.frameSize)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("encoder closed")
	}
	if _, err := e.stdin.Write(rgba); err != nil {
		return fmt.Errorf("write frame %d: %w: %s", e.frames, err, truncate(e.stderr.String(), 512))
	}
	e.frames++
	return nil
}

// Frames returns how many frames were written.
func (e *Encoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Path is the output file.
func (e *Encoder) Path() string { return e.path }

// Close ends the stream and waits for ffmpeg to finish the file. Calling it
// again returns the first result.
func (e *Encoder) Close() (RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.result, e.err
	}
	e.closed = true

	e.stdin.Close()
	waitErr := e.cmd.Wait()

	e.result = RunResult{
		OutputPath: e.path,
		StderrTail: e.stderr.String(),
		Duration:   time.Since(e.started),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			e.result.ExitCode = exitErr.ExitCode()
		} else {
			e.result.ExitCode = -1
		}
		e.err = fmt.Errorf("encoder exited %d: %s", e.result.ExitCode, truncate(e.result.StderrTail, 512))
	}
	return e.result, e.err
}

// muxArgs builds an ffmpeg invocation that delays every clip to its timeline
// start, mixes them and copies the video stream untouched.
func muxArgs(videoPath string, clips []AudioClip, outPath string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", videoPath}
	for _, c := range clips {
		args = append(args, "-i", c.Path)
	}

	var filter strings.Builder
	labels := make([]string, 0, len(clips))
	for i, c := range clips {
		delay := int64(c.Start * 1000)
		if delay < 0 {
			delay = 0
		}
		label := fmt.Sprintf("a%d", i)
		fmt.Fprintf(&filter, "[%d:a]atrim=0:%s,asetpts=PTS-STARTPTS,adelay=%d:all=1[%s];",
			i+1, formatSeconds(c.Duration), delay, label)
		labels = append(labels, "["+label+"]")
	}
	fmt.Fprintf(&filter, "%samix=inputs=%d:normalize=0:duration=longest[aout]", strings.Join(labels, ""), len(clips))

	return append(args,
		"-filter_complex", filter.String(),
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "libopus",
		"-shortest",
		outPath,
	)
}
