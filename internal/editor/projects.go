package editor

import (
	"context"

	"github.com/vibedstudio/studio-agent/internal/catalog"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// Snapshot returns the serializable timeline.
func (s *Session) Snapshot(ctx context.Context) (timeline.Snapshot, error) {
	var snap timeline.Snapshot
	err := s.do(ctx, func() error {
		snap = s.tl.Snapshot()
		return nil
	})
	return snap, err
}

// Restore replaces the timeline with snap. A malformed snapshot is rejected
// before anything changes. Media-derived fields are re-read from the
// library; segments whose media is unknown are kept and render as
// placeholders.
func (s *Session) Restore(ctx context.Context, snap *timeline.Snapshot) error {
	return s.do(ctx, func() error {
		return s.restore(snap)
	})
}

func (s *Session) restore(snap *timeline.Snapshot) error {
	if err := s.tl.Restore(snap, s.fixSegment); err != nil {
		s.logger.Warn("restore rejected", "error", err)
		return err
	}
	s.selection = ""
	s.drag = nil
	s.clampPlayhead()
	s.changed()
	s.logger.Info("timeline restored", "tracks", len(snap.Tracks), "segments", s.tl.SegmentCount(), "transitions", len(s.tl.Transitions()))
	s.render()
	return nil
}

// fixSegment fills the style a segment inherits from its media item when
// the snapshot does not carry it.
func (s *Session) fixSegment(seg *timeline.Segment) error {
	item, ok := s.library.Get(seg.MediaRef)
	if !ok {
		return nil
	}
	switch seg.Kind {
	case timeline.MediaText:
		if seg.Text == nil {
			seg.Text = item.Text.Clone()
		}
	case timeline.MediaEffect:
		if seg.EffectKey == "" {
			seg.EffectKey = item.EffectKey
		}
	}
	if seg.Name == "" {
		seg.Name = item.Name
	}
	return nil
}

// SaveProject stores the current timeline under name.
func (s *Session) SaveProject(ctx context.Context, name string) (*catalog.Project, error) {
	if s.catalog == nil {
		return nil, ErrNoCatalog
	}
	var (
		snap  timeline.Snapshot
		ratio string
	)
	err := s.do(ctx, func() error {
		snap, ratio = s.tl.Snapshot(), s.ratio
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.catalog.SaveProject(ctx, name, snap, ratio)
}

// OpenProject loads a saved project into the session, including its stage
// ratio.
func (s *Session) OpenProject(ctx context.Context, id string) (*catalog.Project, error) {
	if s.catalog == nil {
		return nil, ErrNoCatalog
	}
	p, err := s.catalog.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.do(ctx, func() error {
		if err := s.restore(&p.Snapshot); err != nil {
			return err
		}
		if p.StageRatio != "" {
			s.ratio = p.StageRatio
			s.render()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("project opened", "project_id", p.ID, "name", p.Name)
	return p, nil
}
