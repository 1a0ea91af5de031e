package compositor

import (
	"math"

	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// Drag snapping thresholds in stage pixels.
const (
	AnchorSnapPx = 10.0
	EdgeSnapPx   = 20.0
	MinScale     = 0.2
	MaxScale     = 5.0
	// scalePerPx maps vertical pointer travel to scale.
	scalePerPx = 0.005
)

// SnapGuide names the guide line a drag axis snapped to.
type SnapGuide string

const (
	GuideNone        SnapGuide = ""
	GuideCenter      SnapGuide = "center"
	GuideQuarterLow  SnapGuide = "q1"
	GuideQuarterHigh SnapGuide = "q3"
	GuideEdgeLow     SnapGuide = "edge-low"
	GuideEdgeHigh    SnapGuide = "edge-high"
)

// Guides reports the active guide per axis: V for x, H for y.
type Guides struct {
	V SnapGuide `json:"v"`
	H SnapGuide `json:"h"`
}

// DragMode selects what a layer drag edits.
type DragMode string

const (
	DragMove       DragMode = "move"
	DragScale      DragMode = "scale"
	DragResizeText DragMode = "resize-text"
)

// Drag is an in-progress pointer drag on a layer. Content is the unscaled
// layer box: the intrinsic media size times the letterbox fit, or the text
// box.
type Drag struct {
	Mode    DragMode
	Stage   Stage
	Base    timeline.Transform
	Content Size
	Title   bool
}

// NewDrag starts a drag for the layer under the pointer. modifier turns a
// move into a scale drag. Title text only ever moves and never resizes.
func NewDrag(l *Layer, stage Stage, modifier, handle bool) *Drag {
	d := &Drag{Mode: DragMove, Stage: stage, Base: l.Segment.Transform.Normalized()}
	switch {
	case l.Kind == timeline.MediaText:
		d.Title = l.Text.IsTitle()
		d.Content = TextBox(stage, l.Text)
	case l.Sized && l.Rect.W > 0:
		d.Content = Size{W: l.Rect.W / d.Base.Scale, H: l.Rect.H / d.Base.Scale}
	default:
		d.Content = Size{W: stage.Width, H: stage.Height}
	}
	if d.Title {
		return d
	}
	switch {
	case handle && l.Kind == timeline.MediaText:
		d.Mode = DragResizeText
	case modifier:
		d.Mode = DragScale
	}
	return d
}

type snapCandidate struct {
	value float64
	dist  float64
	guide SnapGuide
	edge  bool
}

// Move returns the transform after a pointer displacement of (dx, dy)
// stage pixels, snapped to center and quarter lines or to the stage edges.
func (d *Drag) Move(dx, dy float64) (timeline.Transform, Guides) {
	out := d.Base
	if d.Title || !d.Stage.Valid() {
		return out, Guides{}
	}
	var g Guides
	out.X, g.V = snapAxis(d.Base.X+dx/d.Stage.Width, d.Stage.Width, d.Content.W*d.Base.Scale)
	out.Y, g.H = snapAxis(d.Base.Y+dy/d.Stage.Height, d.Stage.Height, d.Content.H*d.Base.Scale)
	return out, g
}

// snapAxis snaps normalized offset n on an axis of length span for content
// of extent size. The candidate with the smallest pixel distance wins; on
// ties edges beat anchors.
func snapAxis(n, span, size float64) (float64, SnapGuide) {
	var best *snapCandidate
	consider := func(c snapCandidate, limit float64) {
		if c.dist > limit {
			return
		}
		if best == nil || c.dist < best.dist || (c.dist == best.dist && c.edge && !best.edge) {
			cc := c
			best = &cc
		}
	}
	for _, a := range []struct {
		v float64
		g SnapGuide
	}{{0, GuideCenter}, {-0.25, GuideQuarterLow}, {0.25, GuideQuarterHigh}} {
		consider(snapCandidate{value: a.v, dist: math.Abs(n-a.v) * span, guide: a.g}, AnchorSnapPx)
	}

	low := (span-size)/2 + n*span
	high := span - (low + size)
	consider(snapCandidate{value: (size - span) / (2 * span), dist: math.Abs(low), guide: GuideEdgeLow, edge: true}, EdgeSnapPx)
	consider(snapCandidate{value: (span - size) / (2 * span), dist: math.Abs(high), guide: GuideEdgeHigh, edge: true}, EdgeSnapPx)

	if best == nil {
		return n, GuideNone
	}
	return best.value, best.guide
}

// Scale returns the transform after a scale drag of dy pixels; dragging up
// grows the layer.
func (d *Drag) Scale(dy float64) timeline.Transform {
	out := d.Base
	if d.Title {
		return out
	}
	out.Scale = math.Max(MinScale, math.Min(MaxScale, d.Base.Scale*(1-dy*scalePerPx)))
	return out
}

// Resize returns the fixed text box after a resize drag. ok is false for
// drags that cannot resize.
func (d *Drag) Resize(dx, dy float64) (Size, bool) {
	if d.Mode != DragResizeText || d.Title {
		return Size{}, false
	}
	return ClampTextBox(d.Stage, d.Content.W+dx, d.Content.H+dy), true
}
