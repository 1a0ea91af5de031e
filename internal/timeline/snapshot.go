package timeline

import (
	"encoding/json"
	"fmt"
	"math"
)

// SnapshotVersion is written into every snapshot.
const SnapshotVersion = 1

// Snapshot is the serializable form of a timeline. It carries no derived
// media data; restore re-resolves that through a SegmentFixer.
type Snapshot struct {
	Version          int             `json:"version"`
	Tracks           []TrackSnapshot `json:"tracks"`
	Transitions      []Transition    `json:"transitions"`
	TimelineDuration float64         `json:"timelineDuration"`
}

// TrackSnapshot is one track and its segments.
type TrackSnapshot struct {
	ID       string    `json:"id"`
	Kind     TrackKind `json:"kind"`
	Name     string    `json:"name"`
	Segments []Segment `json:"segments"`
}

// rawSnapshot distinguishes an absent collection from an empty one.
type rawSnapshot struct {
	Version          int              `json:"version"`
	Tracks           *[]TrackSnapshot `json:"tracks"`
	Transitions      *[]Transition    `json:"transitions"`
	TimelineDuration *float64         `json:"timelineDuration"`
}

// Snapshot captures the current tracks, segments and transitions.
func (tl *Timeline) Snapshot() Snapshot {
	snap := Snapshot{
		Version:          SnapshotVersion,
		Tracks:           make([]TrackSnapshot, 0, len(tl.tracks)),
		Transitions:      tl.Transitions(),
		TimelineDuration: tl.duration,
	}
	for _, t := range tl.tracks {
		ts := TrackSnapshot{ID: t.ID, Kind: t.Kind, Name: t.Name, Segments: make([]Segment, 0, len(t.segments))}
		for _, s := range t.segments {
			ts.Segments = append(ts.Segments, *s.Clone())
		}
		snap.Tracks = append(snap.Tracks, ts)
	}
	return snap
}

// DecodeSnapshot parses a snapshot document. A document without a tracks
// collection is rejected; missing transitions decode as none.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	return raw.snapshot()
}

// UnmarshalJSON applies the same rules as DecodeSnapshot.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	snap, err := raw.snapshot()
	if err != nil {
		return err
	}
	*s = *snap
	return nil
}

func (r rawSnapshot) snapshot() (*Snapshot, error) {
	if r.Tracks == nil {
		return nil, fmt.Errorf("%w: missing tracks", ErrMalformedSnapshot)
	}
	snap := &Snapshot{Version: r.Version, Tracks: *r.Tracks}
	if r.Transitions != nil {
		snap.Transitions = *r.Transitions
	}
	if r.TimelineDuration != nil {
		snap.TimelineDuration = *r.TimelineDuration
	}
	return snap, nil
}

// Validate checks the snapshot without touching any timeline.
func (s *Snapshot) Validate() error {
	trackIDs := make(map[string]bool, len(s.Tracks))
	segIDs := make(map[string]bool)
	for i, ts := range s.Tracks {
		if ts.ID == "" {
			return fmt.Errorf("%w: track %d has no id", ErrMalformedSnapshot, i)
		}
		if trackIDs[ts.ID] {
			return fmt.Errorf("%w: duplicate track %s", ErrMalformedSnapshot, ts.ID)
		}
		trackIDs[ts.ID] = true
		if !ts.Kind.Valid() {
			return fmt.Errorf("%w: track %s has kind %q", ErrMalformedSnapshot, ts.ID, ts.Kind)
		}

		track := &Track{ID: ts.ID, Kind: ts.Kind}
		for j := range ts.Segments {
			seg := &ts.Segments[j]
			if seg.ID == "" || segIDs[seg.ID] {
				return fmt.Errorf("%w: segment %d on track %s has a missing or duplicate id", ErrMalformedSnapshot, j, ts.ID)
			}
			segIDs[seg.ID] = true
			if err := seg.validate(); err != nil {
				return fmt.Errorf("%w: segment %s: %v", ErrMalformedSnapshot, seg.ID, err)
			}
			if !track.Accepts(seg.Kind) {
				return fmt.Errorf("%w: %s segment %s on %s track", ErrMalformedSnapshot, seg.Kind, seg.ID, ts.Kind)
			}
			if !Fits(track, seg.Start, seg.Duration, "") {
				return fmt.Errorf("%w: segment %s overlaps on track %s", ErrMalformedSnapshot, seg.ID, ts.ID)
			}
			track.segments = append(track.segments, seg)
		}
	}
	for _, tr := range s.Transitions {
		if !tr.Type.Valid() {
			return fmt.Errorf("%w: transition %s has type %q", ErrMalformedSnapshot, tr.ID, tr.Type)
		}
	}
	return nil
}

// SegmentFixer re-derives media-dependent fields of a restored segment. It
// runs on copies, before the live timeline is touched.
type SegmentFixer func(seg *Segment) error

// Restore replaces the timeline contents with snap. The snapshot is fully
// validated and rebuilt first, so on error the timeline is unchanged. The
// stored duration is ignored and recomputed; transitions referencing
// missing segments are dropped.
func (tl *Timeline) Restore(snap *Snapshot, fix SegmentFixer) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrMalformedSnapshot)
	}
	if err := snap.Validate(); err != nil {
		return err
	}

	tracks := make([]*Track, 0, len(snap.Tracks))
	present := make(map[string]bool)
	for _, ts := range snap.Tracks {
		name := ts.Name
		if name == "" {
			name = ts.Kind.Label()
		}
		track := &Track{ID: ts.ID, Kind: ts.Kind, Name: name}
		for i := range ts.Segments {
			seg := ts.Segments[i].Clone()
			if seg.Kind.Spatial() {
				seg.Transform = seg.Transform.Normalized()
			}
			if fix != nil {
				if err := fix(seg); err != nil {
					return fmt.Errorf("restore segment %s: %w", seg.ID, err)
				}
			}
			track.segments = append(track.segments, seg)
			present[seg.ID] = true
		}
		track.sortSegments()
		tracks = append(tracks, track)
	}

	transitions := make([]*Transition, 0, len(snap.Transitions))
	for _, tr := range snap.Transitions {
		if !present[tr.LeftID] || !present[tr.RightID] {
			continue
		}
		c := tr
		if c.ID == "" {
			c.ID = tl.newID("tr")
		}
		transitions = append(transitions, &c)
	}

	tl.tracks = tracks
	tl.transitions = transitions
	tl.RecomputeDuration()
	return nil
}

// ApproxEqual compares seconds values at timeline precision.
func ApproxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}
