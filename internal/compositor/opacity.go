package compositor

import (
	"math"

	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// FadeOpacity is the minimum of the segment's intrinsic fade ramps at t.
// Outside a ramp's window the ramp contributes 1.
func FadeOpacity(seg *timeline.Segment, t float64) float64 {
	opacity := 1.0
	if seg.FadeIn.Enabled {
		dur := seg.FadeIn.Length()
		if t >= seg.Start && t <= seg.Start+dur {
			opacity = math.Min(opacity, clamp01((t-seg.Start)/dur))
		}
	}
	if seg.FadeOut.Enabled {
		dur := seg.FadeOut.Length()
		end := seg.End()
		if t >= end-dur && t <= end {
			opacity = math.Min(opacity, clamp01((end-t)/dur))
		}
	}
	return opacity
}

// TransitionOpacity is the ramp a transition contributes to seg at t. The
// left side ramps 1→0 over the TransitionDuration before the boundary and the
// right side ramps 0→1 over the TransitionDuration after it.
func TransitionOpacity(tr timeline.Transition, left, right, seg *timeline.Segment, t float64) float64 {
	boundary := left.End()
	d := timeline.TransitionDuration
	opacity := 1.0
	if seg.ID == left.ID && tr.Type.RampsLeft() && t >= boundary-d && t <= boundary {
		opacity = math.Min(opacity, clamp01((boundary-t)/d))
	}
	if seg.ID == right.ID && tr.Type.RampsRight() && t >= boundary && t <= boundary+d {
		opacity = math.Min(opacity, clamp01((t-boundary)/d))
	}
	return opacity
}

// Opacity combines the intrinsic fades of seg with every transition in
// effect on it.
func Opacity(tl *timeline.Timeline, seg *timeline.Segment, t float64) float64 {
	opacity := FadeOpacity(seg, t)
	for _, tr := range tl.Transitions() {
		if tr.LeftID != seg.ID && tr.RightID != seg.ID {
			continue
		}
		left, right, ok := tl.ResolveTransition(tr)
		if !ok {
			continue
		}
		opacity = math.Min(opacity, TransitionOpacity(tr, left, right, seg, t))
	}
	return clamp01(opacity)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
