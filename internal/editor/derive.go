package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vibedstudio/studio-agent/internal/catalog"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// register stores a generated item in the catalog, or only in the library
// when the session has none.
func (s *Session) register(ctx context.Context, item *media.Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if s.catalog != nil {
		return s.catalog.RegisterItem(ctx, item)
	}
	s.library.Put(item)
	return nil
}

func (s *Session) workPath(name string) (string, error) {
	if err := os.MkdirAll(s.opts.WorkDir, 0755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return filepath.Join(s.opts.WorkDir, name), nil
}

// ExtractAudio pulls the audio of a video segment into a new audio item and
// places it at the same start on the first audio track below the video that
// has room, adding an audio track when none does. ffmpeg runs off the loop,
// so playback continues meanwhile.
func (s *Session) ExtractAudio(ctx context.Context, segID string) (Placed, error) {
	if s.ff == nil {
		return Placed{}, pipeline.ErrFFmpegUnavailable
	}

	var (
		src     *media.Item
		segName string
	)
	err := s.do(ctx, func() error {
		seg, _ := s.tl.Segment(segID)
		if seg == nil {
			return timeline.ErrSegmentNotFound
		}
		if seg.Kind != timeline.MediaVideo {
			return fmt.Errorf("%w: %s", ErrWrongKind, seg.Kind)
		}
		item, ok := s.library.Get(seg.MediaRef)
		if !ok {
			return fmt.Errorf("%w: %s", media.ErrItemNotFound, seg.MediaRef)
		}
		src, segName = item, seg.Name
		return nil
	})
	if err != nil {
		return Placed{}, err
	}

	path, err := s.resolver.Resolve(src.Locator)
	if err != nil {
		return Placed{}, err
	}
	id := catalog.NewID("media")
	out, err := s.workPath(id + ".wav")
	if err != nil {
		return Placed{}, err
	}
	if err := s.ff.ExtractAudio(ctx, path, out); err != nil {
		return Placed{}, fmt.Errorf("extract audio: %w", err)
	}
	if segName == "" {
		segName = src.Name
	}
	item := &media.Item{
		ID:       id,
		Kind:     timeline.MediaAudio,
		Name:     segName + " (audio)",
		Locator:  out,
		Duration: src.Duration,
		Source:   media.SourceExtracted,
	}
	if err := s.register(ctx, item); err != nil {
		return Placed{}, err
	}
	s.logger.Info("audio extracted", "segment_id", segID, "media_id", item.ID)

	var placed Placed
	err = s.do(ctx, func() error {
		seg, origin := s.tl.Segment(segID)
		if seg == nil {
			return timeline.ErrSegmentNotFound
		}
		audio := &timeline.Segment{
			MediaRef: item.ID,
			Name:     item.Name,
			Kind:     timeline.MediaAudio,
			Start:    seg.Start,
			Duration: seg.Duration,
		}
		track, err := s.extractTarget(origin, audio.Start, audio.Duration)
		if err != nil {
			return err
		}
		p, err := s.tl.InsertSegment(track.ID, audio, 0)
		if err != nil {
			return err
		}
		placed = Placed{SegmentID: audio.ID, TrackID: track.ID, Start: p.Start}
		s.changed()
		s.render()
		return nil
	})
	return placed, err
}

// extractTarget is the first audio track below origin free over
// [start, start+dur). Without one, a new audio track is inserted below the
// first audio track under origin, or appended.
func (s *Session) extractTarget(origin *timeline.Track, start, dur float64) (*timeline.Track, error) {
	tracks := s.tl.Tracks()
	var firstAudio *timeline.Track
	for _, t := range tracks[s.tl.TrackIndex(origin.ID)+1:] {
		if t.Kind != timeline.TrackAudio {
			continue
		}
		if firstAudio == nil {
			firstAudio = t
		}
		if timeline.Fits(t, start, dur, "") {
			return t, nil
		}
	}
	if firstAudio != nil {
		return s.tl.InsertTrackBelow(timeline.TrackAudio, firstAudio.ID)
	}
	return s.tl.AddTrack(timeline.TrackAudio)
}

// HoldFrame captures the frontmost video or image layer under the playhead
// as a new still image item.
func (s *Session) HoldFrame(ctx context.Context) (*media.Item, error) {
	var (
		src   *media.Item
		local float64
	)
	err := s.do(ctx, func() error {
		t := s.clock.Time()
		frame := s.comp.Compose(s.tl, t, s.stage())
		for _, l := range frame.Layers {
			if l.Item == nil || (l.Kind != timeline.MediaVideo && l.Kind != timeline.MediaImage) {
				continue
			}
			src, local = l.Item, l.MediaTime
			return nil
		}
		return ErrNoLayer
	})
	if err != nil {
		return nil, err
	}

	item := &media.Item{
		ID:       catalog.NewID("media"),
		Kind:     timeline.MediaImage,
		Name:     fmt.Sprintf("%s @ %.2fs", src.Name, local),
		Duration: holdFrameDuration,
		Source:   media.SourceHoldFrame,
	}
	switch src.Kind {
	case timeline.MediaImage:
		item.Locator = src.Locator
		item.Width, item.Height = src.Width, src.Height
	default:
		if s.ff == nil {
			return nil, pipeline.ErrFFmpegUnavailable
		}
		path, err := s.resolver.Resolve(src.Locator)
		if err != nil {
			return nil, err
		}
		out, err := s.workPath("hold-" + item.ID + ".png")
		if err != nil {
			return nil, err
		}
		if err := s.ff.GenerateThumbnail(ctx, path, out, local); err != nil {
			return nil, fmt.Errorf("capture frame: %w", err)
		}
		info, err := media.Inspect(ctx, s.ff, timeline.MediaImage, out)
		if err != nil {
			return nil, err
		}
		item.Locator = out
		item.Width, item.Height = info.Width, info.Height
	}

	if err := s.register(ctx, item); err != nil {
		return nil, err
	}
	s.logger.Info("hold frame captured", "source_id", src.ID, "media_id", item.ID, "at", local)
	return item, nil
}
