package media

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/vibedstudio/studio-agent/internal/pipeline"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// Prober reads stream metadata of a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*pipeline.ProbeResult, error)
}

// Info is what inspection learns about a media file.
type Info struct {
	Duration float64
	Width    int
	Height   int
	HasAudio bool
}

// Inspect reads duration and intrinsic size. Images are decoded in-process
// so they work without ffmpeg; video and audio go through the prober.
func Inspect(ctx context.Context, prober Prober, kind timeline.MediaKind, path string) (Info, error) {
	switch kind {
	case timeline.MediaImage:
		file, err := os.Open(path)
		if err != nil {
			return Info{}, err
		}
		defer file.Close()
		cfg, _, err := image.DecodeConfig(file)
		if err != nil {
			return Info{}, fmt.Errorf("decode image header: %w", err)
		}
		return Info{Width: cfg.Width, Height: cfg.Height}, nil
	case timeline.MediaVideo, timeline.MediaAudio:
		res, err := prober.Probe(ctx, path)
		if err != nil {
			return Info{}, err
		}
		return Info{Duration: res.Duration, Width: res.Width, Height: res.Height, HasAudio: res.HasAudio()}, nil
	default:
		return Info{}, fmt.Errorf("nothing to inspect for %s items", kind)
	}
}
