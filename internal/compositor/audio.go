package compositor

import (
	"math"

	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// AudioDrift is the tolerated distance between a handle's position and the
// segment-local time before it is re-seeked.
const AudioDrift = 0.3

// AudioHandles owns the playback handles of audio segments.
type AudioHandles interface {
	Handle(segID string) media.AudioHandle
	PauseAll()
	Retain(live map[string]bool)
}

// AudioScheduler keeps audio handles in step with the clock.
type AudioScheduler struct {
	handles AudioHandles
}

func NewAudioScheduler(handles AudioHandles) *AudioScheduler {
	return &AudioScheduler{handles: handles}
}

// Sync aligns every audio segment with time t. Active unmuted segments are
// seeked to t-start when drifted and play while playing is true; all other
// handles pause. Handles of deleted segments are released.
func (s *AudioScheduler) Sync(tl *timeline.Timeline, t float64, playing bool) {
	live := make(map[string]bool)
	for _, track := range tl.Tracks() {
		for _, seg := range track.Segments() {
			if seg.Kind != timeline.MediaAudio {
				continue
			}
			live[seg.ID] = true
			h := s.handles.Handle(seg.ID)
			if seg.Muted || !seg.Contains(t) {
				if h.Playing() {
					h.Pause()
				}
				continue
			}
			local := t - seg.Start
			if math.Abs(h.Position()-local) > AudioDrift {
				h.Seek(local)
			}
			switch {
			case playing && !h.Playing():
				h.Play()
			case !playing && h.Playing():
				h.Pause()
			}
		}
	}
	s.handles.Retain(live)
}

// Stop pauses every handle. It is safe to call repeatedly.
func (s *AudioScheduler) Stop() {
	s.handles.PauseAll()
}
