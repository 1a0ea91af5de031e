package editor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/vibedstudio/studio-agent/internal/compositor"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/playback"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// TrackInfo identifies a track.
type TrackInfo struct {
	ID   string             `json:"id"`
	Kind timeline.TrackKind `json:"kind"`
	Name string             `json:"name"`
}

// Placed reports where an inserted or moved segment landed.
type Placed struct {
	SegmentID string  `json:"segmentId"`
	TrackID   string  `json:"trackId"`
	Start     float64 `json:"start"`
	Snapped   bool    `json:"snapped"`
}

// Play starts playback. At the end of the timeline it restarts from 0.
func (s *Session) Play(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.clock.State() == playback.StateExporting {
			return ErrExporting
		}
		if s.clock.Time() >= s.tl.Duration() {
			s.clock.Seek(0, s.tl.Duration())
		}
		if s.clock.Play() {
			s.logger.Info("playback started", "time", s.clock.Time())
		}
		s.render()
		return nil
	})
}

// Pause stops playback and pauses every audio handle. Pausing during an
// export cancels it. Calling Pause on a stopped session is a no-op.
func (s *Session) Pause(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.pause()
		return nil
	})
}

func (s *Session) pause() {
	if s.clock.State() == playback.StateExporting {
		s.cancelExport()
		return
	}
	if s.clock.Pause() {
		s.logger.Info("playback paused", "time", s.clock.Time())
	}
	s.sched.Stop()
	s.render()
}

// TogglePlay plays a stopped session and pauses a running one.
func (s *Session) TogglePlay(ctx context.Context) error {
	return s.do(ctx, func() error {
		switch s.clock.State() {
		case playback.StateStopped:
			if s.clock.Time() >= s.tl.Duration() {
				s.clock.Seek(0, s.tl.Duration())
			}
			s.clock.Play()
			s.logger.Info("playback started", "time", s.clock.Time())
			s.render()
		default:
			s.pause()
		}
		return nil
	})
}

// Seek moves the playhead and re-renders immediately. It returns the
// clamped time. Seeking is legal while exporting: the capture only ever
// moves forward, so the export is unaffected and the playhead is restored
// when it finishes.
func (s *Session) Seek(ctx context.Context, t float64) (float64, error) {
	var at float64
	err := s.do(ctx, func() error {
		limit := s.tl.Duration()
		if end := s.clock.ExportEnd(); end > 0 {
			limit = end
		}
		at = s.clock.Seek(t, limit)
		s.render()
		return nil
	})
	return at, err
}

// AddTrack adds a track of kind at its conventional position.
func (s *Session) AddTrack(ctx context.Context, kind timeline.TrackKind) (TrackInfo, error) {
	var info TrackInfo
	err := s.do(ctx, func() error {
		track, err := s.tl.AddTrack(kind)
		if err != nil {
			return err
		}
		info = TrackInfo{ID: track.ID, Kind: track.Kind, Name: track.Name}
		s.changed()
		s.render()
		return nil
	})
	return info, err
}

// Tracks lists the tracks top to bottom.
func (s *Session) Tracks(ctx context.Context) ([]TrackInfo, error) {
	var out []TrackInfo
	err := s.do(ctx, func() error {
		for _, t := range s.tl.Tracks() {
			out = append(out, TrackInfo{ID: t.ID, Kind: t.Kind, Name: t.Name})
		}
		return nil
	})
	return out, err
}

// DropMedia places a library item on a track near start. Text and effect
// items dropped on another kind of track go to the first track of their own
// kind, which is created when missing. Other mismatches are rejected.
func (s *Session) DropMedia(ctx context.Context, mediaID, trackID string, start float64) (Placed, error) {
	var placed Placed
	err := s.do(ctx, func() error {
		item, ok := s.library.Get(mediaID)
		if !ok {
			return fmt.Errorf("%w: %s", media.ErrItemNotFound, mediaID)
		}
		track := s.tl.Track(trackID)
		if track == nil {
			return timeline.ErrTrackNotFound
		}
		if want := item.Kind.TrackKind(); track.Kind != want {
			if want != timeline.TrackText && want != timeline.TrackEffect {
				return timeline.ErrIncompatibleTrack
			}
			var err error
			if track, err = s.tl.EnsureTrack(want); err != nil {
				return err
			}
			s.changed()
		}

		seg := segmentFor(item, start)
		p, err := s.tl.InsertSegment(track.ID, seg, s.snapTolerance())
		if err != nil {
			return err
		}
		placed = Placed{SegmentID: seg.ID, TrackID: track.ID, Start: p.Start, Snapped: p.Snapped}
		s.selection = seg.ID
		s.changed()
		s.logger.Debug("media dropped", "media_id", item.ID, "segment_id", seg.ID, "track_id", track.ID, "start", p.Start)
		s.render()
		return nil
	})
	return placed, err
}

// segmentFor builds a fresh segment for item carrying its kind defaults.
func segmentFor(item *media.Item, start float64) *timeline.Segment {
	seg := &timeline.Segment{
		MediaRef:  item.ID,
		Name:      item.Name,
		Kind:      item.Kind,
		Start:     math.Max(0, start),
		Duration:  item.SegmentDuration(),
		Transform: timeline.IdentityTransform(),
	}
	switch item.Kind {
	case timeline.MediaText:
		seg.Text = media.NormalizeTextStyle(item.Text)
	case timeline.MediaEffect:
		seg.EffectKey = item.EffectKey
	}
	return seg
}

// MoveSegment moves a segment to start on trackID, snapping and avoiding
// overlap. A rejected move leaves the timeline unchanged.
func (s *Session) MoveSegment(ctx context.Context, segID, trackID string, start float64) (Placed, error) {
	var placed Placed
	err := s.do(ctx, func() error {
		p, err := s.tl.MoveSegment(segID, trackID, start, s.snapTolerance())
		if err != nil {
			return err
		}
		placed = Placed{SegmentID: segID, TrackID: trackID, Start: p.Start, Snapped: p.Snapped}
		s.clampPlayhead()
		s.changed()
		s.render()
		return nil
	})
	return placed, err
}

// TrimSegment drags one edge of a segment by delta seconds.
func (s *Session) TrimSegment(ctx context.Context, segID string, edge timeline.Edge, delta float64) error {
	return s.do(ctx, func() error {
		if err := s.tl.TrimSegment(segID, edge, delta); err != nil {
			return err
		}
		s.clampPlayhead()
		s.changed()
		s.render()
		return nil
	})
}

// RemoveSegment deletes a segment and its transitions.
func (s *Session) RemoveSegment(ctx context.Context, segID string) error {
	return s.do(ctx, func() error {
		_, track := s.tl.Segment(segID)
		if track == nil {
			return timeline.ErrSegmentNotFound
		}
		if err := s.tl.RemoveSegment(track.ID, segID); err != nil {
			return err
		}
		if s.selection == segID {
			s.selection = ""
		}
		if s.drag != nil && s.drag.segID == segID {
			s.drag = nil
		}
		s.clampPlayhead()
		s.changed()
		s.render()
		return nil
	})
}

// AddTransition declares a transition between two adjacent segments.
func (s *Session) AddTransition(ctx context.Context, leftID, rightID string, typ timeline.TransitionType) (timeline.Transition, error) {
	var tr timeline.Transition
	err := s.do(ctx, func() error {
		var err error
		if tr, err = s.tl.AddTransition(leftID, rightID, typ); err != nil {
			return err
		}
		s.changed()
		s.render()
		return nil
	})
	return tr, err
}

// DropTransition pairs the two segments around time at on a track, the way a
// transition dropped between two clips is resolved.
func (s *Session) DropTransition(ctx context.Context, trackID string, at float64, typ timeline.TransitionType) (timeline.Transition, error) {
	var tr timeline.Transition
	err := s.do(ctx, func() error {
		if s.tl.Track(trackID) == nil {
			return timeline.ErrTrackNotFound
		}
		left, right, ok := s.tl.FindTransitionPair(trackID, at, s.snapTolerance())
		if !ok {
			return timeline.ErrNotAdjacent
		}
		var err error
		if tr, err = s.tl.AddTransition(left.ID, right.ID, typ); err != nil {
			return err
		}
		s.changed()
		s.render()
		return nil
	})
	return tr, err
}

// RemoveTransition deletes the transition between two segments. It reports
// whether one existed.
func (s *Session) RemoveTransition(ctx context.Context, leftID, rightID string) (bool, error) {
	var removed bool
	err := s.do(ctx, func() error {
		if removed = s.tl.RemoveTransition(leftID, rightID); removed {
			s.changed()
			s.render()
		}
		return nil
	})
	return removed, err
}

// editSegment applies fn to a segment when check accepts its kind.
func (s *Session) editSegment(ctx context.Context, segID string, check func(*timeline.Segment) error, fn func(*timeline.Segment)) error {
	return s.do(ctx, func() error {
		seg, _ := s.tl.Segment(segID)
		if seg == nil {
			return timeline.ErrSegmentNotFound
		}
		if check != nil {
			if err := check(seg); err != nil {
				return err
			}
		}
		if err := s.tl.UpdateSegment(segID, fn); err != nil {
			return err
		}
		s.changed()
		s.render()
		return nil
	})
}

func requireKind(kinds ...timeline.MediaKind) func(*timeline.Segment) error {
	return func(seg *timeline.Segment) error {
		for _, k := range kinds {
			if seg.Kind == k {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrWrongKind, seg.Kind)
	}
}

var spatialKinds = []timeline.MediaKind{timeline.MediaVideo, timeline.MediaImage, timeline.MediaText}

// SetMuted mutes or unmutes an audio segment.
func (s *Session) SetMuted(ctx context.Context, segID string, muted bool) error {
	return s.editSegment(ctx, segID, requireKind(timeline.MediaAudio), func(seg *timeline.Segment) {
		seg.Muted = muted
	})
}

// SetFade sets the intrinsic fade at one edge of a visual segment. A zero
// duration uses the default ramp length.
func (s *Session) SetFade(ctx context.Context, segID string, edge timeline.Edge, fade timeline.Fade) error {
	if fade.Duration < 0 || math.IsNaN(fade.Duration) || math.IsInf(fade.Duration, 0) {
		return fmt.Errorf("invalid fade duration %v", fade.Duration)
	}
	if edge != timeline.EdgeLeft && edge != timeline.EdgeRight {
		return fmt.Errorf("unknown fade edge %q", edge)
	}
	return s.editSegment(ctx, segID, requireKind(spatialKinds...), func(seg *timeline.Segment) {
		if edge == timeline.EdgeLeft {
			seg.FadeIn = fade
		} else {
			seg.FadeOut = fade
		}
	})
}

// UpdateTextStyle edits the style of a text segment. fn works on a copy;
// when it fails the segment is untouched.
func (s *Session) UpdateTextStyle(ctx context.Context, segID string, fn func(*timeline.TextStyle) error) error {
	var style *timeline.TextStyle
	return s.editSegment(ctx, segID, func(seg *timeline.Segment) error {
		if err := requireKind(timeline.MediaText)(seg); err != nil {
			return err
		}
		style = media.NormalizeTextStyle(seg.Text)
		return fn(style)
	}, func(seg *timeline.Segment) {
		seg.Text = media.NormalizeTextStyle(style)
	})
}

// SetEffectKey changes which effect an effect segment applies.
func (s *Session) SetEffectKey(ctx context.Context, segID, key string) error {
	key = strings.TrimSpace(key)
	if !media.KnownEffect(key) {
		return fmt.Errorf("%w: %q", ErrUnknownEffect, key)
	}
	return s.editSegment(ctx, segID, requireKind(timeline.MediaEffect), func(seg *timeline.Segment) {
		seg.EffectKey = key
	})
}

// SetTransform places a spatial segment on the stage.
func (s *Session) SetTransform(ctx context.Context, segID string, tr timeline.Transform) error {
	return s.editSegment(ctx, segID, requireKind(spatialKinds...), func(seg *timeline.Segment) {
		seg.Transform = tr.Normalized()
	})
}

// ResetTransform restores the centered, unscaled placement.
func (s *Session) ResetTransform(ctx context.Context, segID string) error {
	return s.SetTransform(ctx, segID, timeline.IdentityTransform())
}

// ResizeText fixes the box of a text segment to w×h stage pixels, clamped to
// the allowed range. Title text cannot be resized.
func (s *Session) ResizeText(ctx context.Context, segID string, w, h float64) (compositor.Size, error) {
	var size compositor.Size
	err := s.editSegment(ctx, segID, func(seg *timeline.Segment) error {
		if err := requireKind(timeline.MediaText)(seg); err != nil {
			return err
		}
		if seg.Text.IsTitle() {
			return ErrTitleFixed
		}
		size = compositor.ClampTextBox(s.stage(), w, h)
		return nil
	}, func(seg *timeline.Segment) {
		setTextBox(seg, size)
	})
	return size, err
}

func setTextBox(seg *timeline.Segment, size compositor.Size) {
	style := media.NormalizeTextStyle(seg.Text)
	w, h := size.W, size.H
	style.BoxWidth, style.BoxHeight = &w, &h
	seg.Text = style
}

// ClearTextBox returns a text segment to content-fitted sizing.
func (s *Session) ClearTextBox(ctx context.Context, segID string) error {
	return s.editSegment(ctx, segID, requireKind(timeline.MediaText), func(seg *timeline.Segment) {
		style := media.NormalizeTextStyle(seg.Text)
		style.BoxWidth, style.BoxHeight = nil, nil
		seg.Text = style
	})
}

// Select marks a segment as the target of keyboard edits. An empty id
// clears the selection.
func (s *Session) Select(ctx context.Context, segID string) error {
	return s.do(ctx, func() error {
		if segID != "" {
			if seg, _ := s.tl.Segment(segID); seg == nil {
				return timeline.ErrSegmentNotFound
			}
		}
		s.selection = segID
		s.publish(true)
		return nil
	})
}

// SetZoom sets the timeline zoom in pixels per second and returns the
// clamped value. Zoom scales the snap radius.
func (s *Session) SetZoom(ctx context.Context, pxPerSec float64) (float64, error) {
	var zoom float64
	err := s.do(ctx, func() error {
		s.pxPerSec = timeline.ClampZoom(pxPerSec)
		zoom = s.pxPerSec
		s.publish(true)
		return nil
	})
	return zoom, err
}

// SetStageRatio changes the stage aspect ratio, "W:H".
func (s *Session) SetStageRatio(ctx context.Context, ratio string) (compositor.Stage, error) {
	var stage compositor.Stage
	err := s.do(ctx, func() error {
		w, h := compositor.ParseRatio(ratio)
		s.ratio = fmt.Sprintf("%g:%g", w, h)
		stage = s.stage()
		s.drag = nil
		s.logger.Info("stage ratio changed", "ratio", s.ratio)
		s.render()
		return nil
	})
	return stage, err
}

// Clear removes every segment and transition, keeping the tracks.
func (s *Session) Clear(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.tl.Clear()
		s.selection = ""
		s.drag = nil
		s.clampPlayhead()
		s.changed()
		s.logger.Info("timeline cleared")
		s.render()
		return nil
	})
}
