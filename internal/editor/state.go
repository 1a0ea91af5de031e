package editor

import (
	"context"

	"github.com/vibedstudio/studio-agent/internal/compositor"
	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/playback"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// Update is the state → view projection of a session. Timeline is only set
// when the timeline changed since the previous update, or on request.
type Update struct {
	SessionID  string             `json:"sessionId"`
	Version    uint64             `json:"version"`
	State      playback.State     `json:"state"`
	Time       float64            `json:"time"`
	Duration   float64            `json:"duration"`
	Speed      float64            `json:"speed"`
	View       compositor.View    `json:"view"`
	Audio      []media.AudioState `json:"audio"`
	Selection  string             `json:"selection,omitempty"`
	Zoom       float64            `json:"zoom"`
	StageRatio string             `json:"stageRatio"`
	Clipboard  bool               `json:"clipboard"`
	Dragging   bool               `json:"dragging"`
	Export     *export.Job        `json:"export,omitempty"`
	Timeline   *timeline.Snapshot `json:"timeline,omitempty"`
}

func (s *Session) update(withTimeline bool) Update {
	u := Update{
		SessionID:  s.id,
		Version:    s.version,
		State:      s.clock.State(),
		Time:       s.clock.Time(),
		Duration:   s.tl.Duration(),
		Speed:      s.clock.Speed(),
		View:       s.view.View(),
		Audio:      s.audio.States(),
		Selection:  s.selection,
		Zoom:       s.pxPerSec,
		StageRatio: s.ratio,
		Clipboard:  s.clip != nil,
		Dragging:   s.drag != nil,
	}
	if job, ok := s.exporter.Last(); ok {
		u.Export = &job
	}
	if withTimeline {
		snap := s.tl.Snapshot()
		u.Timeline = &snap
	}
	return u
}

// State returns the current update including the timeline.
func (s *Session) State(ctx context.Context) (Update, error) {
	var u Update
	err := s.do(ctx, func() error {
		u = s.update(true)
		return nil
	})
	return u, err
}
