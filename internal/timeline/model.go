// Package timeline holds the editable composition: tracks of non-overlapping
// segments, fade transitions between adjacent segments, and the derived
// timeline duration. All mutation goes through Timeline methods so the
// placement and duration invariants hold after every call.
package timeline

import (
	"errors"
	"math"
)

const (
	// MinDuration is the floor of the timeline length in seconds.
	MinDuration = 300.0
	// MinSegmentDuration bounds trims.
	MinSegmentDuration = 0.25
	// TransitionDuration is the ramp length of a paired transition and the
	// default intrinsic fade length.
	TransitionDuration = 0.5
	// AdjacencyGap is the largest gap between two segments that still lets a
	// transition pair them.
	AdjacencyGap = 1.0
	// SnapPixels is the snap radius in screen pixels.
	SnapPixels = 12.0
	// DefaultPxPerSec is the default timeline zoom.
	DefaultPxPerSec = 80.0
	MinPxPerSec     = 8.0
	MaxPxPerSec     = 500.0
	// DefaultSegmentDuration is used for media items without a duration.
	DefaultSegmentDuration = 5.0

	epsilon = 1e-6
)

var (
	ErrNoSpace           = errors.New("no space on this track")
	ErrIncompatibleTrack = errors.New("media kind does not fit this track")
	ErrTrackNotFound     = errors.New("track not found")
	ErrSegmentNotFound   = errors.New("segment not found")
	ErrNotAdjacent       = errors.New("segments are not adjacent on one track")
	ErrInvalidSegment    = errors.New("invalid segment")
	ErrMalformedSnapshot = errors.New("malformed snapshot")
)

// TrackKind is the lane type of a track.
type TrackKind string

const (
	TrackVideo  TrackKind = "video"
	TrackAudio  TrackKind = "audio"
	TrackText   TrackKind = "text"
	TrackEffect TrackKind = "effect"
)

func (k TrackKind) Valid() bool {
	switch k {
	case TrackVideo, TrackAudio, TrackText, TrackEffect:
		return true
	}
	return false
}

// Label is the display prefix used for generated track names.
func (k TrackKind) Label() string {
	switch k {
	case TrackVideo:
		return "Video"
	case TrackAudio:
		return "Audio"
	case TrackText:
		return "Text"
	case TrackEffect:
		return "Effect"
	}
	return string(k)
}

// Visual reports whether segments on this track kind are composited as layers.
func (k TrackKind) Visual() bool {
	return k == TrackVideo || k == TrackText
}

// MediaKind is the type of the media item a segment plays.
type MediaKind string

const (
	MediaVideo  MediaKind = "video"
	MediaImage  MediaKind = "image"
	MediaAudio  MediaKind = "audio"
	MediaText   MediaKind = "text"
	MediaEffect MediaKind = "effect"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaVideo, MediaImage, MediaAudio, MediaText, MediaEffect:
		return true
	}
	return false
}

// TrackKind returns the only track kind this media kind may be placed on.
func (k MediaKind) TrackKind() TrackKind {
	switch k {
	case MediaAudio:
		return TrackAudio
	case MediaText:
		return TrackText
	case MediaEffect:
		return TrackEffect
	default:
		return TrackVideo
	}
}

// DurationBearing reports whether segments of this kind extend the timeline.
func (k MediaKind) DurationBearing() bool {
	return k != MediaAudio
}

// Spatial reports whether the kind has a transform on the stage.
func (k MediaKind) Spatial() bool {
	return k == MediaVideo || k == MediaImage || k == MediaText
}

// Fade is an intrinsic opacity ramp at one end of a segment.
type Fade struct {
	Enabled  bool    `json:"enabled"`
	Duration float64 `json:"duration,omitempty"`
}

// Length is the ramp length, defaulting to TransitionDuration.
func (f Fade) Length() float64 {
	if f.Duration > 0 {
		return f.Duration
	}
	return TransitionDuration
}

// Transform is the normalized stage placement of a spatial segment.
type Transform struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

func IdentityTransform() Transform {
	return Transform{Scale: 1}
}

// Normalized replaces unusable values with identity values.
func (t Transform) Normalized() Transform {
	if t.Scale <= 0 || math.IsNaN(t.Scale) || math.IsInf(t.Scale, 0) {
		t.Scale = 1
	}
	if math.IsNaN(t.X) || math.IsInf(t.X, 0) {
		t.X = 0
	}
	if math.IsNaN(t.Y) || math.IsInf(t.Y, 0) {
		t.Y = 0
	}
	return t
}

// TitlePreset marks text that fills the whole stage.
const TitlePreset = "title"

// TextStyle carries the typography of a text segment.
type TextStyle struct {
	Text          string   `json:"text"`
	FontFamily    string   `json:"fontFamily"`
	FontSize      float64  `json:"fontSize"`
	FontWeight    int      `json:"fontWeight"`
	FontStyle     string   `json:"fontStyle"`
	Color         string   `json:"color"`
	Align         string   `json:"align"`
	Background    string   `json:"background"`
	Padding       float64  `json:"padding"`
	LineHeight    float64  `json:"lineHeight"`
	LetterSpacing float64  `json:"letterSpacing"`
	Underline     bool     `json:"underline"`
	BoxWidth      *float64 `json:"boxW,omitempty"`
	BoxHeight     *float64 `json:"boxH,omitempty"`
	Preset        string   `json:"preset,omitempty"`
}

// IsTitle reports whether the style is the full-stage title variant.
func (s *TextStyle) IsTitle() bool {
	return s != nil && s.Preset == TitlePreset
}

func (s *TextStyle) Clone() *TextStyle {
	if s == nil {
		return nil
	}
	c := *s
	if s.BoxWidth != nil {
		w := *s.BoxWidth
		c.BoxWidth = &w
	}
	if s.BoxHeight != nil {
		h := *s.BoxHeight
		c.BoxHeight = &h
	}
	return &c
}

// Segment is a time-bounded placement of one media item on one track.
type Segment struct {
	ID        string     `json:"id"`
	MediaRef  string     `json:"mediaRef"`
	Name      string     `json:"name,omitempty"`
	Kind      MediaKind  `json:"kind"`
	Start     float64    `json:"start"`
	Duration  float64    `json:"duration"`
	Muted     bool       `json:"muted,omitempty"`
	FadeIn    Fade       `json:"fadeIn"`
	FadeOut   Fade       `json:"fadeOut"`
	Transform Transform  `json:"transform"`
	Text      *TextStyle `json:"text,omitempty"`
	EffectKey string     `json:"effectKey,omitempty"`
}

// End is the exclusive end of the segment interval.
func (s *Segment) End() float64 {
	return s.Start + s.Duration
}

// Contains reports whether t falls inside [Start, End).
func (s *Segment) Contains(t float64) bool {
	return t >= s.Start && t < s.End()
}

// Clone returns a deep copy.
func (s *Segment) Clone() *Segment {
	c := *s
	c.Text = s.Text.Clone()
	return &c
}

func (s *Segment) validate() error {
	if !s.Kind.Valid() {
		return ErrInvalidSegment
	}
	if s.Duration <= 0 || math.IsNaN(s.Duration) || math.IsInf(s.Duration, 0) {
		return ErrInvalidSegment
	}
	if s.Start < 0 || math.IsNaN(s.Start) || math.IsInf(s.Start, 0) {
		return ErrInvalidSegment
	}
	return nil
}

// Track is an ordered lane holding non-overlapping segments of one kind.
type Track struct {
	ID   string
	Kind TrackKind
	Name string

	segments []*Segment
}

// Segments returns the track's segments ordered by start.
func (t *Track) Segments() []*Segment {
	out := make([]*Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Len returns the number of segments.
func (t *Track) Len() int {
	return len(t.segments)
}

// SegmentAt returns the segment containing time, or nil.
func (t *Track) SegmentAt(time float64) *Segment {
	for _, s := range t.segments {
		if s.Contains(time) {
			return s
		}
	}
	return nil
}

// Accepts reports whether media of kind may be placed on this track.
func (t *Track) Accepts(kind MediaKind) bool {
	return kind.TrackKind() == t.Kind
}

func (t *Track) find(id string) (int, *Segment) {
	for i, s := range t.segments {
		if s.ID == id {
			return i, s
		}
	}
	return -1, nil
}

func (t *Track) sortSegments() {
	// insertion sort: tracks are short and nearly sorted
	for i := 1; i < len(t.segments); i++ {
		for j := i; j > 0 && t.segments[j].Start < t.segments[j-1].Start; j-- {
			t.segments[j], t.segments[j-1] = t.segments[j-1], t.segments[j]
		}
	}
}

// neighbors returns the end of the previous segment and the start of the
// next one around seg. ok flags are false when there is no neighbor.
func (t *Track) neighbors(seg *Segment) (prevEnd float64, hasPrev bool, nextStart float64, hasNext bool) {
	for _, s := range t.segments {
		if s.ID == seg.ID {
			continue
		}
		if s.Start < seg.Start {
			if !hasPrev || s.End() > prevEnd {
				prevEnd, hasPrev = s.End(), true
			}
		} else {
			if !hasNext || s.Start < nextStart {
				nextStart, hasNext = s.Start, true
			}
		}
	}
	return
}

// TransitionType selects which side of a pair ramps.
type TransitionType string

const (
	TransitionFadeIn    TransitionType = "fade-in"
	TransitionFadeOut   TransitionType = "fade-out"
	TransitionCrossfade TransitionType = "crossfade"
)

func (t TransitionType) Valid() bool {
	switch t {
	case TransitionFadeIn, TransitionFadeOut, TransitionCrossfade:
		return true
	}
	return false
}

// RampsLeft reports whether the left segment fades out at the boundary.
func (t TransitionType) RampsLeft() bool {
	return t == TransitionFadeOut || t == TransitionCrossfade
}

// RampsRight reports whether the right segment fades in from the boundary.
func (t TransitionType) RampsRight() bool {
	return t == TransitionFadeIn || t == TransitionCrossfade
}

// Transition is a declared fade between two adjacent segments. It references
// segments by id and is pruned when either side disappears.
type Transition struct {
	ID      string         `json:"id"`
	LeftID  string         `json:"leftId"`
	RightID string         `json:"rightId"`
	Type    TransitionType `json:"type"`
}

// SnapTolerance converts the pixel snap radius into seconds at a zoom level.
func SnapTolerance(pxPerSec float64) float64 {
	return SnapPixels / ClampZoom(pxPerSec)
}

// ClampZoom keeps pxPerSec inside the supported zoom range.
func ClampZoom(pxPerSec float64) float64 {
	if pxPerSec <= 0 || math.IsNaN(pxPerSec) {
		return DefaultPxPerSec
	}
	return math.Max(MinPxPerSec, math.Min(MaxPxPerSec, pxPerSec))
}
