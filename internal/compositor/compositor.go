package compositor

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sort"

	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// PrefetchWindow is how far ahead the next video segment is warmed.
const PrefetchWindow = 3.0

// ItemLookup resolves a segment's media reference.
type ItemLookup interface {
	Get(id string) (*media.Item, bool)
}

// Layer is one active visual segment at a time value.
type Layer struct {
	Segment    *timeline.Segment   `json:"-"`
	Item       *media.Item         `json:"-"`
	TrackIndex int                 `json:"trackIndex"`
	Kind       timeline.MediaKind  `json:"kind"`
	Opacity    float64             `json:"opacity"`
	Rect       Rect                `json:"rect"`
	MediaTime  float64             `json:"mediaTime"`
	Text       *timeline.TextStyle `json:"text,omitempty"`
	// Sized is false while the intrinsic media size is unknown; Rect then
	// assumes the media matches the stage.
	Sized bool `json:"sized"`
	// Placeholder marks a layer whose media cannot be read.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Effect is an active effect segment applied to the whole frame.
type Effect struct {
	Key       string  `json:"key"`
	SegmentID string  `json:"segmentId"`
	Progress  float64 `json:"progress"`
}

// Frame is everything a RenderTarget needs to draw time T.
type Frame struct {
	Time  float64 `json:"time"`
	Stage Stage   `json:"stage"`
	// Layers are ordered front to back: ascending track index.
	Layers  []Layer  `json:"layers"`
	Effects []Effect `json:"effects"`
}

// FetchMode selects how the compositor waits for decoded media.
type FetchMode int

const (
	// FetchBestEffort skips layers whose frame is not decoded yet.
	FetchBestEffort FetchMode = iota
	// FetchBlocking waits for every frame; used by export.
	FetchBlocking
)

// Compositor computes and renders frames. It holds no timeline state, so one
// instance can serve preview and export.
type Compositor struct {
	items  ItemLookup
	frames media.FrameSource
	logger *slog.Logger
}

// New creates a compositor. frames may be nil for targets that never need
// pixels.
func New(items ItemLookup, frames media.FrameSource, logger *slog.Logger) *Compositor {
	return &Compositor{
		items:  items,
		frames: frames,
		logger: logging.WithComponent(logging.OrDiscard(logger), "compositor"),
	}
}

// ActiveLayers returns the segments of video and text tracks containing t,
// front to back.
func ActiveLayers(tl *timeline.Timeline, t float64) []Layer {
	var layers []Layer
	for i, track := range tl.Tracks() {
		if !track.Kind.Visual() {
			continue
		}
		for _, seg := range track.Segments() {
			if !seg.Kind.Spatial() || !seg.Contains(t) {
				continue
			}
			layers = append(layers, Layer{
				Segment:    seg.Clone(),
				TrackIndex: i,
				Kind:       seg.Kind,
				MediaTime:  t - seg.Start,
			})
		}
	}
	sort.SliceStable(layers, func(a, b int) bool { return layers[a].TrackIndex < layers[b].TrackIndex })
	return layers
}

// ActiveEffects returns the effect segments containing t in track order.
func ActiveEffects(tl *timeline.Timeline, t float64) []Effect {
	var effects []Effect
	for _, track := range tl.Tracks() {
		if track.Kind != timeline.TrackEffect {
			continue
		}
		for _, seg := range track.Segments() {
			if seg.Kind != timeline.MediaEffect || !seg.Contains(t) || !media.KnownEffect(seg.EffectKey) {
				continue
			}
			effects = append(effects, Effect{
				Key:       seg.EffectKey,
				SegmentID: seg.ID,
				Progress:  clamp01((t - seg.Start) / seg.Duration),
			})
		}
	}
	return effects
}

// NextVideoSegment returns the earliest video segment starting after t.
func NextVideoSegment(tl *timeline.Timeline, t float64) *timeline.Segment {
	var next *timeline.Segment
	for _, track := range tl.Tracks() {
		if track.Kind != timeline.TrackVideo {
			continue
		}
		for _, seg := range track.Segments() {
			if seg.Kind != timeline.MediaVideo || seg.Start <= t {
				continue
			}
			if next == nil || seg.Start < next.Start {
				next = seg
			}
		}
	}
	return next
}

// Compose computes the frame at t: active layers with opacity and geometry,
// and active effects.
func (c *Compositor) Compose(tl *timeline.Timeline, t float64, stage Stage) *Frame {
	frame := &Frame{Time: t, Stage: stage, Effects: ActiveEffects(tl, t)}
	for _, l := range ActiveLayers(tl, t) {
		seg := l.Segment
		l.Opacity = Opacity(tl, seg, t)
		if seg.Kind == timeline.MediaText {
			l.Text = media.NormalizeTextStyle(seg.Text)
			l.Rect = TextRect(stage, l.Text, seg.Transform)
			l.Sized = true
		} else {
			item, ok := c.items.Get(seg.MediaRef)
			if !ok {
				l.Placeholder = true
				l.Rect = MediaRect(stage, stage.Width, stage.Height, seg.Transform)
			} else {
				l.Item = item
				c.size(&l, stage)
			}
		}
		frame.Layers = append(frame.Layers, l)
	}
	return frame
}

func (c *Compositor) size(l *Layer, stage Stage) {
	if l.Item.HasDimensions() {
		l.Rect = MediaRect(stage, float64(l.Item.Width), float64(l.Item.Height), l.Segment.Transform)
		l.Sized = true
		return
	}
	l.Rect = MediaRect(stage, stage.Width, stage.Height, l.Segment.Transform)
}

// Prefetch warms the frame source for the active video layers and for the
// next video segment when it starts within PrefetchWindow.
func (c *Compositor) Prefetch(tl *timeline.Timeline, frame *Frame) {
	if c.frames == nil {
		return
	}
	anyVideo := false
	for _, l := range frame.Layers {
		if l.Kind == timeline.MediaVideo && l.Item != nil {
			c.frames.Prefetch(l.Item, l.MediaTime)
			anyVideo = true
		}
	}
	if !anyVideo {
		return
	}
	next := NextVideoSegment(tl, frame.Time)
	if next == nil || next.Start-frame.Time > PrefetchWindow {
		return
	}
	if item, ok := c.items.Get(next.MediaRef); ok {
		c.frames.Prefetch(item, 0)
	}
}

// Render writes frame into target back to front. A layer whose media cannot
// be read degrades to a placeholder; a frame that is not decoded yet is
// skipped in FetchBestEffort mode. Only target errors abort the frame.
func (c *Compositor) Render(ctx context.Context, frame *Frame, target RenderTarget, mode FetchMode) error {
	if err := target.Begin(frame); err != nil {
		return err
	}
	for i := len(frame.Layers) - 1; i >= 0; i-- {
		l := frame.Layers[i]
		if l.Opacity <= 0 {
			continue
		}
		var img image.Image
		if !l.Placeholder && l.Kind != timeline.MediaText && target.WantsPixels() {
			var err error
			img, err = c.fetch(ctx, &l, mode)
			switch {
			case errors.Is(err, media.ErrNotReady):
				continue
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Debug("layer degraded to placeholder", "segment_id", l.Segment.ID, "error", err)
				l.Placeholder = true
			case !l.Sized:
				b := img.Bounds()
				l.Rect = MediaRect(frame.Stage, float64(b.Dx()), float64(b.Dy()), l.Segment.Transform)
				l.Sized = true
			}
		}
		if err := target.DrawLayer(&l, img); err != nil {
			return err
		}
	}
	if len(frame.Effects) > 0 {
		if err := target.ApplyEffects(frame.Effects, frame.Time); err != nil {
			return err
		}
	}
	return target.End()
}

func (c *Compositor) fetch(ctx context.Context, l *Layer, mode FetchMode) (image.Image, error) {
	if c.frames == nil {
		return nil, media.ErrNotReady
	}
	if mode == FetchBlocking {
		return c.frames.FrameSync(ctx, l.Item, l.MediaTime)
	}
	return c.frames.Frame(l.Item, l.MediaTime)
}
