package export

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/vibedstudio/studio-agent/internal/compositor"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// EDLEvent is one CMX3600 event. Times are seconds.
type EDLEvent struct {
	Reel      string
	Channel   string // "V" or "A"
	ClipName  string
	MediaPath string
	SourceIn  float64
	SourceOut float64
	RecordIn  float64
	// Dissolve is the crossfade into this event in seconds; 0 is a cut.
	Dissolve float64
}

// EDLEvents lists the video and audio segments of tl in record order.
// Crossfades become dissolves on the right-hand event.
func EDLEvents(tl *timeline.Timeline, items compositor.ItemLookup, resolver *media.Resolver) []EDLEvent {
	dissolves := make(map[string]float64)
	for _, tr := range tl.Transitions() {
		if tr.Type != timeline.TransitionCrossfade {
			continue
		}
		if _, right, ok := tl.ResolveTransition(tr); ok {
			dissolves[right.ID] = timeline.TransitionDuration
		}
	}

	var events []EDLEvent
	for _, track := range tl.Tracks() {
		var channel string
		switch track.Kind {
		case timeline.TrackVideo:
			channel = "V"
		case timeline.TrackAudio:
			channel = "A"
		default:
			continue
		}
		for _, seg := range track.Segments() {
			if seg.Kind == timeline.MediaImage {
				continue
			}
			ev := EDLEvent{
				Reel:      "AX",
				Channel:   channel,
				ClipName:  seg.Name,
				SourceIn:  0,
				SourceOut: seg.Duration,
				RecordIn:  seg.Start,
				Dissolve:  dissolves[seg.ID],
			}
			if item, ok := items.Get(seg.MediaRef); ok {
				if ev.ClipName == "" {
					ev.ClipName = item.Name
				}
				ev.MediaPath = item.Locator
				if resolver != nil {
					if path, err := resolver.Resolve(item.Locator); err == nil {
						ev.MediaPath = path
					}
				}
			}
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].RecordIn != events[j].RecordIn {
			return events[i].RecordIn < events[j].RecordIn
		}
		return events[i].Channel > events[j].Channel
	})
	return events
}

// GenerateEDL renders events as a CMX3600 edit decision list.
func GenerateEDL(events []EDLEvent, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = DefaultFPS
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, ev := range events {
		srcIn := secondsToTimecode(ev.SourceIn, fps)
		srcOut := secondsToTimecode(ev.SourceOut, fps)
		recIn := secondsToTimecode(ev.RecordIn, fps)
		recOut := secondsToTimecode(ev.RecordIn+ev.SourceOut-ev.SourceIn, fps)

		edit := "C       "
		if ev.Dissolve > 0 {
			edit = fmt.Sprintf("D    %03d", int(math.Round(ev.Dissolve*float64(fps))))
		}
		reel := ev.Reel
		if reel == "" {
			reel = "AX"
		}
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s %s %s %s %s %s", i+1, reel, ev.Channel, edit, srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.ClipName),
		)
		if ev.MediaPath != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath))
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func secondsToTimecode(s float64, fps int) string {
	totalFrames := int(math.Round(s * float64(fps)))
	if totalFrames < 0 {
		totalFrames = 0
	}
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
