package editor

import (
	"context"

	"github.com/vibedstudio/studio-agent/internal/compositor"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// clipboard holds a detached copy of a segment and where it came from.
type clipboard struct {
	seg     *timeline.Segment
	trackID string
	kind    timeline.TrackKind
}

// activeDrag is a pointer drag on a preview layer.
type activeDrag struct {
	segID string
	drag  *compositor.Drag
}

// Copy puts a segment on the clipboard. An empty id copies the selection.
func (s *Session) Copy(ctx context.Context, segID string) error {
	return s.do(ctx, func() error {
		if segID == "" {
			segID = s.selection
		}
		seg, track := s.tl.Segment(segID)
		if seg == nil {
			return timeline.ErrSegmentNotFound
		}
		s.clip = &clipboard{seg: seg.Clone(), trackID: track.ID, kind: track.Kind}
		s.publish(true)
		return nil
	})
}

// Paste inserts the clipboard segment at the playhead under a new id. It
// tries the origin track, then the other tracks of the same kind, and adds
// a track when none has room for the whole interval.
func (s *Session) Paste(ctx context.Context) (Placed, error) {
	var placed Placed
	err := s.do(ctx, func() error {
		if s.clip == nil {
			return ErrClipboardEmpty
		}
		at := s.clock.Time()
		seg := s.clip.seg.Clone()
		seg.ID = ""
		seg.Start = at

		track := s.pasteTarget(at, seg.Duration)
		if track == nil {
			var err error
			if track, err = s.tl.AddTrack(s.clip.kind); err != nil {
				return err
			}
		}
		p, err := s.tl.InsertSegment(track.ID, seg, 0)
		if err != nil {
			return err
		}
		placed = Placed{SegmentID: seg.ID, TrackID: track.ID, Start: p.Start, Snapped: p.Snapped}
		s.selection = seg.ID
		s.changed()
		s.render()
		return nil
	})
	return placed, err
}

func (s *Session) pasteTarget(at, dur float64) *timeline.Track {
	if origin := s.tl.Track(s.clip.trackID); origin != nil && origin.Kind == s.clip.kind {
		if timeline.Fits(origin, at, dur, "") {
			return origin
		}
	}
	for _, t := range s.tl.Tracks() {
		if t.Kind != s.clip.kind || t.ID == s.clip.trackID {
			continue
		}
		if timeline.Fits(t, at, dur, "") {
			return t
		}
	}
	return nil
}

// BeginDrag starts a pointer drag on the layer of segID under the playhead.
// modifier turns a move into a scale drag; handle resizes a text box.
func (s *Session) BeginDrag(ctx context.Context, segID string, modifier, handle bool) (compositor.DragMode, error) {
	var mode compositor.DragMode
	err := s.do(ctx, func() error {
		stage := s.stage()
		frame := s.comp.Compose(s.tl, s.clock.Time(), stage)
		for i := range frame.Layers {
			l := &frame.Layers[i]
			if l.Segment.ID != segID {
				continue
			}
			d := compositor.NewDrag(l, stage, modifier, handle)
			s.drag = &activeDrag{segID: segID, drag: d}
			s.selection = segID
			mode = d.Mode
			s.publish(true)
			return nil
		}
		return ErrNoLayer
	})
	return mode, err
}

// DragResult is the state after a drag step.
type DragResult struct {
	Mode      compositor.DragMode `json:"mode"`
	Transform timeline.Transform  `json:"transform"`
	Guides    compositor.Guides   `json:"guides"`
	Box       *compositor.Size    `json:"box,omitempty"`
}

// UpdateDrag applies a pointer displacement of (dx, dy) stage pixels,
// measured from where the drag began.
func (s *Session) UpdateDrag(ctx context.Context, dx, dy float64) (DragResult, error) {
	var res DragResult
	err := s.do(ctx, func() error {
		if s.drag == nil {
			return ErrNoDrag
		}
		seg, _ := s.tl.Segment(s.drag.segID)
		if seg == nil {
			s.drag = nil
			return timeline.ErrSegmentNotFound
		}
		d := s.drag.drag
		res.Mode = d.Mode
		res.Transform = d.Base

		var apply func(*timeline.Segment)
		switch d.Mode {
		case compositor.DragScale:
			res.Transform = d.Scale(dy)
			apply = func(seg *timeline.Segment) { seg.Transform = res.Transform }
		case compositor.DragResizeText:
			size, ok := d.Resize(dx, dy)
			if !ok {
				return ErrTitleFixed
			}
			res.Box = &size
			apply = func(seg *timeline.Segment) { setTextBox(seg, size) }
		default:
			res.Transform, res.Guides = d.Move(dx, dy)
			apply = func(seg *timeline.Segment) { seg.Transform = res.Transform }
		}
		if err := s.tl.UpdateSegment(seg.ID, apply); err != nil {
			return err
		}
		s.changed()
		s.render()
		return nil
	})
	return res, err
}

// EndDrag finishes the current drag.
func (s *Session) EndDrag(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.drag == nil {
			return ErrNoDrag
		}
		s.drag = nil
		s.publish(true)
		return nil
	})
}
