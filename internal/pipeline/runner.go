package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vibedstudio/studio-agent/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// FFmpeg is the media toolchain the editor depends on.
type FFmpeg interface {
	// Probe reads duration, dimensions and stream codecs of a media file.
	Probe(ctx context.Context, path string) (*ProbeResult, error)

	// ExtractFrame decodes the frame at offset seconds and returns it as PNG.
	ExtractFrame(ctx context.Context, path string, offset float64) ([]byte, error)

	// GenerateThumbnail writes the frame at offset seconds to outPath.
	GenerateThumbnail(ctx context.Context, path, outPath string, offset float64) error

	// ExtractAudio writes the audio stream of path as 48 kHz stereo WAV.
	ExtractAudio(ctx context.Context, path, outPath string) error

	// Transcode converts an intermediate export into H.264/AAC mp4.
	Transcode(ctx context.Context, inPath, outPath string) (RunResult, error)

	// MuxAudio mixes audio clips under a silent video.
	MuxAudio(ctx context.Context, videoPath string, clips []AudioClip, outPath string) (RunResult, error)

	// OpenEncoder starts an encoder reading raw RGBA frames on stdin.
	OpenEncoder(ctx context.Context, spec EncoderSpec) (*Encoder, error)
}

// DoctorRunner probes the toolchain.
type DoctorRunner interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath       string
	FFprobePath      string
	ProbeTimeout     time.Duration
	FrameTimeout     time.Duration
	AudioTimeout     time.Duration
	TranscodeTimeout time.Duration
	DoctorTimeout    time.Duration
	Logger           *slog.Logger
	DebugPaths       bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		ProbeTimeout:     30 * time.Second,
		FrameTimeout:     10 * time.Second,
		AudioTimeout:     5 * time.Minute,
		TranscodeTimeout: 15 * time.Minute,
		DoctorTimeout:    30 * time.Second,
		Logger:           logger,
	}
}

// SubprocessRunner is the production implementation of FFmpeg.
type SubprocessRunner struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// NewRunner creates a SubprocessRunner, resolving the ffmpeg and ffprobe
// binaries on PATH.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegUnavailable, err)
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFFmpegUnavailable, err)
	}
	cfg.Logger = logging.OrDiscard(cfg.Logger)

	cfg.Logger.Info("ffmpeg runner initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)
	return &SubprocessRunner{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

// Probe runs ffprobe and parses its JSON report.
func (r *SubprocessRunner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	result := r.exec(ctx, r.ffprobe, "", &stdout,
		"-v", "error",
		"-show_entries", "format=duration,bit_rate:stream=codec_type,codec_name,width,height,r_frame_rate,sample_rate",
		"-of", "json",
		path,
	)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffprobe exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return parseProbe(stdout.Bytes())
}

// ExtractFrame seeks to offset and pipes a single PNG frame to stdout.
func (r *SubprocessRunner) ExtractFrame(ctx context.Context, path string, offset float64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FrameTimeout)
	defer cancel()

	var stdout bytes.Buffer
	result := r.exec(ctx, r.ffmpeg, "", &stdout,
		"-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(offset),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("frame extract exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("no frame at %.3fs in %s", offset, r.safePath(path))
	}
	return stdout.Bytes(), nil
}

// GenerateThumbnail writes a single frame to outPath.
func (r *SubprocessRunner) GenerateThumbnail(ctx context.Context, path, outPath string, offset float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FrameTimeout)
	defer cancel()

	result := r.exec(ctx, r.ffmpeg, outPath, nil,
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(offset),
		"-i", path,
		"-frames:v", "1",
		outPath,
	)
	if !result.IsSuccess() {
		return fmt.Errorf("thumbnail exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return nil
}

// ExtractAudio decodes the first audio stream into a WAV file.
func (r *SubprocessRunner) ExtractAudio(ctx context.Context, path, outPath string) error {
	probe, err := r.Probe(ctx, path)
	if err != nil {
		return err
	}
	if !probe.HasAudio() {
		return ErrNoAudioStream
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.AudioTimeout)
	defer cancel()

	result := r.exec(ctx, r.ffmpeg, outPath, nil,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", path,
		"-vn",
		"-ac", "2",
		"-ar", "48000",
		"-c:a", "pcm_s16le",
		outPath,
	)
	if !result.IsSuccess() {
		return fmt.Errorf("audio extract exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return nil
}

// Transcode converts inPath into a faststart H.264/AAC mp4.
func (r *SubprocessRunner) Transcode(ctx context.Context, inPath, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TranscodeTimeout)
	defer cancel()

	result := r.exec(ctx, r.ffmpeg, outPath, nil, transcodeArgs(inPath, outPath)...)
	if !result.IsSuccess() {
		return result, fmt.Errorf("transcode exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return result, nil
}

// MuxAudio mixes clips at their timeline offsets under videoPath.
func (r *SubprocessRunner) MuxAudio(ctx context.Context, videoPath string, clips []AudioClip, outPath string) (RunResult, error) {
	if len(clips) == 0 {
		return RunResult{}, errors.New("no audio clips to mux")
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TranscodeTimeout)
	defer cancel()

	result := r.exec(ctx, r.ffmpeg, outPath, nil, muxArgs(videoPath, clips, outPath)...)
	if !result.IsSuccess() {
		return result, fmt.Errorf("audio mux exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return result, nil
}

func transcodeArgs(inPath, outPath string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inPath,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		outPath,
	}
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, bin, outPath string, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmd := exec.CommandContext(ctx, bin, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = io.Discard
	}

	r.cfg.Logger.Debug("executing command", "bin", filepath.Base(bin), "args", len(args))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 && stderrTail == "" && err != nil {
		stderrTail = err.Error()
	}

	if exitCode != 0 {
		r.cfg.Logger.Warn("command failed",
			"bin", filepath.Base(bin),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.cfg.Logger.Debug("command succeeded",
			"bin", filepath.Base(bin),
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

// RunDoctor reports the ffmpeg version and which encoders are compiled in.
func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	var version bytes.Buffer
	result := r.exec(ctx, r.ffmpeg, "", &version, "-hide_banner", "-version")
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -version exited %d: %s", result.ExitCode, result.StderrTail)
	}

	var encoders bytes.Buffer
	result = r.exec(ctx, r.ffmpeg, "", &encoders, "-hide_banner", "-encoders")
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg -encoders exited %d: %s", result.ExitCode, result.StderrTail)
	}

	caps := &Capabilities{
		FFmpegVersion: parseVersion(version.String()),
		Encoders:      parseEncoders(encoders.String()),
	}

	var probeVersion bytes.Buffer
	if res := r.exec(ctx, r.ffprobe, "", &probeVersion, "-hide_banner", "-version"); res.IsSuccess() {
		caps.FFprobeVersion = parseVersion(probeVersion.String())
		caps.HasProbe = true
	}
	caps.HasWebM = caps.Encoders["libvpx-vp9"]
	caps.HasMP4 = caps.Encoders["libx264"] && caps.Encoders["aac"]
	caps.ProbedAt = time.Now()

	r.cfg.Logger.Info("doctor probe complete",
		"ffmpeg", caps.FFmpegVersion,
		"probe", caps.HasProbe,
		"webm", caps.HasWebM,
		"mp4", caps.HasMP4,
	)
	return caps, nil
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths || path == "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolveBinary finds a usable executable, falling back to the default name.
func resolveBinary(preferred, fallback string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		if preferred != fallback {
			return "", fmt.Errorf("configured %s %q not found", fallback, preferred)
		}
	}
	if p, err := exec.LookPath(fallback); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("no %s binary found on PATH", fallback)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	res.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if res.Codec != "" {
				continue
			}
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseFrameRate(s.RFrameRate)
		case "audio":
			if res.AudioCodec != "" {
				continue
			}
			res.AudioCodec = s.CodecName
			res.AudioSample, _ = strconv.Atoi(s.SampleRate)
		}
	}
	return res, nil
}

// parseFrameRate turns ffprobe's "30000/1001" notation into a float.
func parseFrameRate(s string) float64 {
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

// parseVersion returns the version token of "ffmpeg version X ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}

// parseEncoders reads the table printed by `ffmpeg -encoders`. Rows look like
// " V....D libx264              libx264 H.264 ...".
func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	inTable := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "------") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			encoders[fields[1]] = true
		}
	}
	return encoders
}

func formatSeconds(s float64) string {
	if s < 0 {
		s = 0
	}
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
