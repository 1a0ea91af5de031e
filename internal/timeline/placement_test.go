package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackWith(kind TrackKind, spans ...[2]float64) *Track {
	t := &Track{ID: "t", Kind: kind}
	for i, sp := range spans {
		t.segments = append(t.segments, &Segment{
			ID:       string(rune('a' + i)),
			Kind:     MediaVideo,
			Start:    sp[0],
			Duration: sp[1] - sp[0],
		})
	}
	t.sortSegments()
	return t
}

func TestResolveNonOverlap_GapPlacement(t *testing.T) {
	track := trackWith(TrackVideo, [2]float64{0, 5}, [2]float64{8, 12})

	start, ok := ResolveNonOverlap(track, 3, 6, "")
	require.True(t, ok)
	assert.InDelta(t, 5.0, start, 1e-9)
}

func TestResolveNonOverlap(t *testing.T) {
	track := trackWith(TrackVideo, [2]float64{0, 5}, [2]float64{8, 12})

	tests := []struct {
		name     string
		duration float64
		desired  float64
		want     float64
	}{
		{"fits inside gap untouched", 2, 5.5, 5.5},
		{"clamped to gap end", 2, 7.5, 6},
		{"too long for gap goes to tail", 4, 6, 12},
		{"negative desired clamps to zero then resolves", 1, -3, 5},
		{"beyond every segment", 2, 20, 20},
		{"inside first segment picks nearest", 1, 1, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, ok := ResolveNonOverlap(track, tt.duration, tt.desired, "")
			require.True(t, ok)
			assert.InDelta(t, tt.want, start, 1e-9)
			assert.True(t, Fits(track, start, tt.duration, ""))
		})
	}
}

func TestResolveNonOverlap_ExcludesMovedSegment(t *testing.T) {
	track := trackWith(TrackVideo, [2]float64{0, 5}, [2]float64{8, 12})

	// moving "b" onto its own interval is allowed
	start, ok := ResolveNonOverlap(track, 4, 8.5, "b")
	require.True(t, ok)
	assert.InDelta(t, 8.5, start, 1e-9)
}

func TestResolveNonOverlap_ZeroDuration(t *testing.T) {
	_, ok := ResolveNonOverlap(&Track{}, 0, 1, "")
	assert.False(t, ok)
}

func TestSnap(t *testing.T) {
	track := trackWith(TrackVideo, [2]float64{0, 5})

	got, snapped := Snap(track, 5.12, "", 0.15)
	assert.True(t, snapped)
	assert.Equal(t, 5.0, got)

	got, snapped = Snap(track, 5.30, "", 0.15)
	assert.False(t, snapped)
	assert.Equal(t, 5.30, got)

	got, snapped = Snap(track, 0.1, "", 0.15)
	assert.True(t, snapped)
	assert.Equal(t, 0.0, got)
}

func TestResolve_SnapThenPlace(t *testing.T) {
	track := trackWith(TrackVideo, [2]float64{0, 5})

	p, err := Resolve(track, 5.12, 2, "", 0.15)
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Start)
	assert.True(t, p.Snapped)

	p, err = Resolve(track, 5.30, 2, "", 0.15)
	require.NoError(t, err)
	assert.InDelta(t, 5.30, p.Start, 1e-9)
	assert.False(t, p.Snapped)
}

func TestSnapTolerance(t *testing.T) {
	assert.InDelta(t, 0.15, SnapTolerance(80), 1e-9)
	assert.InDelta(t, 12.0/500, SnapTolerance(10000), 1e-9)
	assert.InDelta(t, 0.15, SnapTolerance(0), 1e-9)
}
