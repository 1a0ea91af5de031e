package pipeline

import (
	"context"
	"log/slog"
)

// Unavailable stands in for the toolchain when ffmpeg is not installed. Every
// call fails with ErrFFmpegUnavailable so callers can take their fallback
// path: still images decode in-process, exports use the PNG archive sink and
// skip the mp4 transcode.
type Unavailable struct {
	logger *slog.Logger
}

func NewUnavailable(logger *slog.Logger) *Unavailable {
	return &Unavailable{logger: logger}
}

func (u *Unavailable) warn(op, path string) error {
	if u.logger != nil {
		u.logger.Debug("ffmpeg unavailable", "op", op, "path", path)
	}
	return ErrFFmpegUnavailable
}

func (u *Unavailable) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	return nil, u.warn("probe", path)
}

func (u *Unavailable) ExtractFrame(ctx context.Context, path string, offset float64) ([]byte, error) {
	return nil, u.warn("frame", path)
}

func (u *Unavailable) GenerateThumbnail(ctx context.Context, path, outPath string, offset float64) error {
	return u.warn("thumbnail", path)
}

func (u *Unavailable) ExtractAudio(ctx context.Context, path, outPath string) error {
	return u.warn("extract_audio", path)
}

func (u *Unavailable) Transcode(ctx context.Context, inPath, outPath string) (RunResult, error) {
	return RunResult{ExitCode: -1}, u.warn("transcode", inPath)
}

func (u *Unavailable) MuxAudio(ctx context.Context, videoPath string, clips []AudioClip, outPath string) (RunResult, error) {
	return RunResult{ExitCode: -1}, u.warn("mux_audio", videoPath)
}

func (u *Unavailable) OpenEncoder(ctx context.Context, spec EncoderSpec) (*Encoder, error) {
	return nil, u.warn("encoder", spec.OutputPath)
}

func (u *Unavailable) RunDoctor(ctx context.Context) (*Capabilities, error) {
	return nil, ErrFFmpegUnavailable
}
