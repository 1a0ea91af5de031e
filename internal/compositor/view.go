package compositor

import (
	"image"

	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// ViewLayer is a layer as a preview client draws it with native nodes.
type ViewLayer struct {
	SegmentID   string              `json:"segmentId"`
	MediaRef    string              `json:"mediaRef,omitempty"`
	Kind        timeline.MediaKind  `json:"kind"`
	ZIndex      int                 `json:"zIndex"`
	Opacity     float64             `json:"opacity"`
	Rect        Rect                `json:"rect"`
	MediaTime   float64             `json:"mediaTime"`
	Text        *timeline.TextStyle `json:"text,omitempty"`
	Placeholder bool                `json:"placeholder,omitempty"`
}

// View is the serializable projection of one frame.
type View struct {
	Time    float64     `json:"time"`
	Stage   Stage       `json:"stage"`
	Layers  []ViewLayer `json:"layers"`
	Effects []string    `json:"effects"`
}

// ViewTarget maps layers to view nodes instead of pixels.
type ViewTarget struct {
	view View
	done View
}

func NewViewTarget() *ViewTarget {
	return &ViewTarget{}
}

// View returns the last completed frame.
func (v *ViewTarget) View() View {
	return v.done
}

func (v *ViewTarget) WantsPixels() bool { return false }

func (v *ViewTarget) Begin(frame *Frame) error {
	v.view = View{Time: frame.Time, Stage: frame.Stage, Layers: []ViewLayer{}, Effects: []string{}}
	return nil
}

func (v *ViewTarget) DrawLayer(l *Layer, _ image.Image) error {
	v.view.Layers = append(v.view.Layers, ViewLayer{
		SegmentID:   l.Segment.ID,
		MediaRef:    l.Segment.MediaRef,
		Kind:        l.Kind,
		ZIndex:      1000 - l.TrackIndex,
		Opacity:     l.Opacity,
		Rect:        l.Rect,
		MediaTime:   l.MediaTime,
		Text:        l.Text,
		Placeholder: l.Placeholder,
	})
	return nil
}

func (v *ViewTarget) ApplyEffects(effects []Effect, _ float64) error {
	for _, fx := range effects {
		v.view.Effects = append(v.view.Effects, fx.Key)
	}
	return nil
}

func (v *ViewTarget) End() error {
	v.done = v.view
	return nil
}
