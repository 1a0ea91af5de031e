package timeline

import (
	"math"
	"sort"
)

// Placement is a resolved start time for a segment on a track.
type Placement struct {
	Start   float64 `json:"start"`
	Snapped bool    `json:"snapped"`
}

// Snap moves desired onto the nearest snap point when it lies within tol.
// Snap points are 0 and the end of every segment on the track other than
// excludeID.
func Snap(track *Track, desired float64, excludeID string, tol float64) (float64, bool) {
	best, bestDist := 0.0, math.Abs(desired)
	for _, s := range track.segments {
		if s.ID == excludeID {
			continue
		}
		if d := math.Abs(desired - s.End()); d < bestDist {
			best, bestDist = s.End(), d
		}
	}
	if bestDist <= tol {
		return best, true
	}
	return desired, false
}

type gap struct {
	start float64
	end   float64 // +Inf for the trailing gap
}

// freeGaps lists the intervals on track wide enough for duration, ignoring
// excludeID. The trailing gap is always present and unbounded.
func freeGaps(track *Track, duration float64, excludeID string) []gap {
	others := make([]*Segment, 0, len(track.segments))
	for _, s := range track.segments {
		if s.ID != excludeID {
			others = append(others, s)
		}
	}
	sort.SliceStable(others, func(i, j int) bool { return others[i].Start < others[j].Start })

	var gaps []gap
	cursor := 0.0
	for _, s := range others {
		if s.Start-cursor >= duration-epsilon {
			gaps = append(gaps, gap{start: cursor, end: s.Start})
		}
		cursor = math.Max(cursor, s.End())
	}
	return append(gaps, gap{start: cursor, end: math.Inf(1)})
}

// ResolveNonOverlap returns the start closest to desired at which a segment
// of duration fits on track without overlapping anything but excludeID.
func ResolveNonOverlap(track *Track, duration, desired float64, excludeID string) (float64, bool) {
	if duration <= 0 {
		return 0, false
	}
	desired = math.Max(0, desired)

	found := false
	var best, bestDist float64
	for _, g := range freeGaps(track, duration, excludeID) {
		latest := desired
		if !math.IsInf(g.end, 1) {
			latest = math.Min(desired, g.end-duration)
		}
		candidate := math.Max(g.start, latest)
		if !math.IsInf(g.end, 1) && candidate+duration > g.end+epsilon {
			continue
		}
		dist := math.Abs(candidate - desired)
		if !found || dist < bestDist {
			best, bestDist, found = candidate, dist, true
		}
	}
	return best, found
}

// Resolve snaps desired within tol and then resolves it against the track's
// free gaps. It returns ErrNoSpace when the segment cannot be placed.
func Resolve(track *Track, desired, duration float64, excludeID string, tol float64) (Placement, error) {
	desired = math.Max(0, desired)
	proposed, snapped := Snap(track, desired, excludeID, tol)
	start, ok := ResolveNonOverlap(track, duration, proposed, excludeID)
	if !ok {
		return Placement{}, ErrNoSpace
	}
	return Placement{Start: start, Snapped: snapped && math.Abs(start-proposed) < epsilon}, nil
}

// Fits reports whether [start, start+duration) is free on track.
func Fits(track *Track, start, duration float64, excludeID string) bool {
	for _, s := range track.segments {
		if s.ID == excludeID {
			continue
		}
		if start < s.End()-epsilon && s.Start < start+duration-epsilon {
			return false
		}
	}
	return true
}
