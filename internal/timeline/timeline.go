package timeline

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Edge selects which end of a segment a trim moves.
type Edge string

const (
	EdgeLeft  Edge = "left"
	EdgeRight Edge = "right"
)

// Timeline owns the tracks and the transitions between their segments.
// It is not safe for concurrent use; the editor session serializes access.
type Timeline struct {
	tracks      []*Track
	transitions []*Transition
	duration    float64
	newID       func(prefix string) string
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithIDFunc overrides id generation, mainly for deterministic tests.
func WithIDFunc(fn func(prefix string) string) Option {
	return func(tl *Timeline) {
		tl.newID = fn
	}
}

// New returns an empty timeline at the minimum duration.
func New(opts ...Option) *Timeline {
	tl := &Timeline{
		duration: MinDuration,
		newID: func(prefix string) string {
			return prefix + "-" + uuid.NewString()
		},
	}
	for _, opt := range opts {
		opt(tl)
	}
	return tl
}

// NewWithDefaultTracks returns a timeline with two video and two audio tracks.
func NewWithDefaultTracks(opts ...Option) *Timeline {
	tl := New(opts...)
	for _, kind := range []TrackKind{TrackVideo, TrackVideo, TrackAudio, TrackAudio} {
		tl.AddTrack(kind)
	}
	return tl
}

// Tracks returns the tracks in display order. Index 0 is frontmost.
func (tl *Timeline) Tracks() []*Track {
	out := make([]*Track, len(tl.tracks))
	copy(out, tl.tracks)
	return out
}

// Track returns the track with id, or nil.
func (tl *Timeline) Track(id string) *Track {
	if i := tl.TrackIndex(id); i >= 0 {
		return tl.tracks[i]
	}
	return nil
}

// TrackIndex returns the display index of a track, or -1.
func (tl *Timeline) TrackIndex(id string) int {
	for i, t := range tl.tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Duration is the current timeline length in seconds.
func (tl *Timeline) Duration() float64 {
	return tl.duration
}

// Transitions returns copies of the declared transitions.
func (tl *Timeline) Transitions() []Transition {
	out := make([]Transition, len(tl.transitions))
	for i, tr := range tl.transitions {
		out[i] = *tr
	}
	return out
}

// Segment finds a segment and the track holding it.
func (tl *Timeline) Segment(id string) (*Segment, *Track) {
	for _, t := range tl.tracks {
		if _, s := t.find(id); s != nil {
			return s, t
		}
	}
	return nil, nil
}

// SegmentCount returns the number of segments across all tracks.
func (tl *Timeline) SegmentCount() int {
	n := 0
	for _, t := range tl.tracks {
		n += len(t.segments)
	}
	return n
}

// AddTrack appends a new track of kind at its conventional position: text
// tracks go above the first video track, effect tracks above the first audio
// track, and video/audio tracks after the last track of the same kind.
func (tl *Timeline) AddTrack(kind TrackKind) (*Track, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown track kind %q", kind)
	}
	track := tl.newTrack(kind)

	at := len(tl.tracks)
	switch kind {
	case TrackText:
		at = 0
		if i := tl.firstOfKind(TrackVideo); i >= 0 {
			at = i
		}
	case TrackEffect:
		if i := tl.firstOfKind(TrackAudio); i >= 0 {
			at = i
		}
	default:
		if i := tl.lastOfKind(kind); i >= 0 {
			at = i + 1
		}
	}
	tl.insertTrackAt(at, track)
	return track, nil
}

// InsertTrackBelow adds a track of kind directly after the track anchorID.
func (tl *Timeline) InsertTrackBelow(kind TrackKind, anchorID string) (*Track, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown track kind %q", kind)
	}
	i := tl.TrackIndex(anchorID)
	if i < 0 {
		return nil, ErrTrackNotFound
	}
	track := tl.newTrack(kind)
	tl.insertTrackAt(i+1, track)
	return track, nil
}

// EnsureTrack returns the first track of kind, adding one when none exists.
func (tl *Timeline) EnsureTrack(kind TrackKind) (*Track, error) {
	if i := tl.firstOfKind(kind); i >= 0 {
		return tl.tracks[i], nil
	}
	return tl.AddTrack(kind)
}

func (tl *Timeline) newTrack(kind TrackKind) *Track {
	count := 0
	for _, t := range tl.tracks {
		if t.Kind == kind {
			count++
		}
	}
	return &Track{
		ID:   tl.newID(string(kind)),
		Kind: kind,
		Name: fmt.Sprintf("%s %d", kind.Label(), count+1),
	}
}

func (tl *Timeline) insertTrackAt(at int, track *Track) {
	tl.tracks = append(tl.tracks, nil)
	copy(tl.tracks[at+1:], tl.tracks[at:])
	tl.tracks[at] = track
}

func (tl *Timeline) firstOfKind(kind TrackKind) int {
	for i, t := range tl.tracks {
		if t.Kind == kind {
			return i
		}
	}
	return -1
}

func (tl *Timeline) lastOfKind(kind TrackKind) int {
	for i := len(tl.tracks) - 1; i >= 0; i-- {
		if tl.tracks[i].Kind == kind {
			return i
		}
	}
	return -1
}

// InsertSegment places seg on the track near seg.Start, snapping within tol
// and avoiding overlap. seg.Start is overwritten with the resolved start.
// The timeline is unchanged when an error is returned.
func (tl *Timeline) InsertSegment(trackID string, seg *Segment, tol float64) (Placement, error) {
	if err := seg.validate(); err != nil {
		return Placement{}, err
	}
	track := tl.Track(trackID)
	if track == nil {
		return Placement{}, ErrTrackNotFound
	}
	if !track.Accepts(seg.Kind) {
		return Placement{}, ErrIncompatibleTrack
	}
	if seg.ID == "" {
		seg.ID = tl.newID("seg")
	} else if existing, _ := tl.Segment(seg.ID); existing != nil {
		return Placement{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidSegment, seg.ID)
	}

	p, err := Resolve(track, seg.Start, seg.Duration, seg.ID, tol)
	if err != nil {
		return Placement{}, err
	}

	seg.Start = p.Start
	if seg.Kind.Spatial() {
		seg.Transform = seg.Transform.Normalized()
	}
	track.segments = append(track.segments, seg)
	track.sortSegments()
	tl.RecomputeDuration()
	return p, nil
}

// MoveSegment moves a segment to newStart on newTrackID, which may be its
// current track. The move is resolved like an insert, ignoring the segment's
// own interval.
func (tl *Timeline) MoveSegment(segID, newTrackID string, newStart, tol float64) (Placement, error) {
	seg, from := tl.Segment(segID)
	if seg == nil {
		return Placement{}, ErrSegmentNotFound
	}
	to := tl.Track(newTrackID)
	if to == nil {
		return Placement{}, ErrTrackNotFound
	}
	if !to.Accepts(seg.Kind) {
		return Placement{}, ErrIncompatibleTrack
	}

	p, err := Resolve(to, newStart, seg.Duration, seg.ID, tol)
	if err != nil {
		return Placement{}, err
	}

	seg.Start = p.Start
	if from != to {
		i, _ := from.find(seg.ID)
		from.segments = append(from.segments[:i], from.segments[i+1:]...)
		to.segments = append(to.segments, seg)
	}
	to.sortSegments()
	tl.RecomputeDuration()
	return p, nil
}

// TrimSegment drags one edge of a segment by delta seconds. The duration
// never drops below MinSegmentDuration and the edge never crosses the
// neighboring segment on the same track.
func (tl *Timeline) TrimSegment(segID string, edge Edge, delta float64) error {
	seg, track := tl.Segment(segID)
	if seg == nil {
		return ErrSegmentNotFound
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("invalid trim delta")
	}
	prevEnd, hasPrev, nextStart, hasNext := track.neighbors(seg)
	// A segment already shorter than the minimum may keep its length but
	// never shrink further.
	floor := math.Min(MinSegmentDuration, seg.Duration)

	switch edge {
	case EdgeLeft:
		origStart, origDur := seg.Start, seg.Duration
		start := math.Max(0, math.Min(origStart+origDur-floor, origStart+delta))
		if hasPrev {
			start = math.Max(start, prevEnd)
		}
		seg.Start = start
		seg.Duration = origDur - (start - origStart)
	case EdgeRight:
		dur := math.Max(floor, seg.Duration+delta)
		if hasNext {
			dur = math.Min(dur, nextStart-seg.Start)
		}
		seg.Duration = dur
	default:
		return fmt.Errorf("unknown trim edge %q", edge)
	}

	track.sortSegments()
	tl.RecomputeDuration()
	return nil
}

// RemoveSegment deletes a segment and every transition referencing it.
func (tl *Timeline) RemoveSegment(trackID, segID string) error {
	track := tl.Track(trackID)
	if track == nil {
		return ErrTrackNotFound
	}
	i, _ := track.find(segID)
	if i < 0 {
		return ErrSegmentNotFound
	}
	track.segments = append(track.segments[:i], track.segments[i+1:]...)
	tl.pruneTransitions()
	tl.RecomputeDuration()
	return nil
}

// UpdateSegment applies a style edit. Identity, timing and kind are owned by
// the structural operations and are restored after fn returns.
func (tl *Timeline) UpdateSegment(segID string, fn func(*Segment)) error {
	seg, _ := tl.Segment(segID)
	if seg == nil {
		return ErrSegmentNotFound
	}
	id, ref, kind, start, dur := seg.ID, seg.MediaRef, seg.Kind, seg.Start, seg.Duration
	fn(seg)
	seg.ID, seg.MediaRef, seg.Kind, seg.Start, seg.Duration = id, ref, kind, start, dur
	if kind.Spatial() {
		seg.Transform = seg.Transform.Normalized()
	}
	return nil
}

// AddTransition declares a transition between two adjacent segments on the
// same track. Declaring it again for the same pair updates its type.
func (tl *Timeline) AddTransition(leftID, rightID string, typ TransitionType) (Transition, error) {
	if !typ.Valid() {
		return Transition{}, fmt.Errorf("unknown transition type %q", typ)
	}
	left, lt := tl.Segment(leftID)
	right, rt := tl.Segment(rightID)
	if left == nil || right == nil {
		return Transition{}, ErrSegmentNotFound
	}
	if lt != rt || !adjacent(left, right) {
		return Transition{}, ErrNotAdjacent
	}

	for _, tr := range tl.transitions {
		if tr.LeftID == leftID && tr.RightID == rightID {
			tr.Type = typ
			return *tr, nil
		}
	}
	tr := &Transition{ID: tl.newID("tr"), LeftID: leftID, RightID: rightID, Type: typ}
	tl.transitions = append(tl.transitions, tr)
	return *tr, nil
}

// RemoveTransition deletes the transition for a pair. It reports whether one
// existed.
func (tl *Timeline) RemoveTransition(leftID, rightID string) bool {
	kept := tl.transitions[:0]
	removed := false
	for _, tr := range tl.transitions {
		if tr.LeftID == leftID && tr.RightID == rightID {
			removed = true
			continue
		}
		kept = append(kept, tr)
	}
	tl.transitions = kept
	return removed
}

// ResolveTransition returns the segments of a transition when it is currently
// in effect: both segments exist on one track and are adjacent.
func (tl *Timeline) ResolveTransition(tr Transition) (left, right *Segment, ok bool) {
	left, lt := tl.Segment(tr.LeftID)
	right, rt := tl.Segment(tr.RightID)
	if left == nil || right == nil || lt != rt || !adjacent(left, right) {
		return nil, nil, false
	}
	return left, right, true
}

// FindTransitionPair returns the adjacent pair on a track whose shared
// boundary or gap is within tol of at.
func (tl *Timeline) FindTransitionPair(trackID string, at, tol float64) (left, right *Segment, ok bool) {
	track := tl.Track(trackID)
	if track == nil {
		return nil, nil, false
	}
	segs := track.segments
	for i := 0; i+1 < len(segs); i++ {
		l, r := segs[i], segs[i+1]
		if !adjacent(l, r) {
			continue
		}
		boundary := l.End()
		if at >= boundary-tol && at <= r.Start+tol {
			return l, r, true
		}
	}
	return nil, nil, false
}

func adjacent(left, right *Segment) bool {
	g := right.Start - left.End()
	return g >= -epsilon && g <= AdjacencyGap
}

func (tl *Timeline) pruneTransitions() {
	kept := tl.transitions[:0]
	for _, tr := range tl.transitions {
		l, _ := tl.Segment(tr.LeftID)
		r, _ := tl.Segment(tr.RightID)
		if l != nil && r != nil {
			kept = append(kept, tr)
		}
	}
	tl.transitions = kept
}

// MaxEnd returns the latest segment end among segments of the given kinds,
// or over all duration-bearing kinds when none are given.
func (tl *Timeline) MaxEnd(kinds ...MediaKind) float64 {
	maxEnd := 0.0
	for _, t := range tl.tracks {
		for _, s := range t.segments {
			if !matchesKind(s.Kind, kinds) {
				continue
			}
			maxEnd = math.Max(maxEnd, s.End())
		}
	}
	return maxEnd
}

func matchesKind(k MediaKind, kinds []MediaKind) bool {
	if len(kinds) == 0 {
		return k.DurationBearing()
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// RecomputeDuration derives the timeline length from its visual-bearing
// segments and the MinDuration floor.
func (tl *Timeline) RecomputeDuration() float64 {
	tl.duration = math.Max(MinDuration, tl.MaxEnd())
	return tl.duration
}

// Clear removes every segment and transition, keeping the tracks.
func (tl *Timeline) Clear() {
	for _, t := range tl.tracks {
		t.segments = nil
	}
	tl.transitions = nil
	tl.RecomputeDuration()
}

// NewID issues an id with the timeline's generator.
func (tl *Timeline) NewID(prefix string) string {
	return tl.newID(prefix)
}
