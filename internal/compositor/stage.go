// Package compositor turns a timeline and a time value into a frame: the
// active visual layers with their opacity and stage geometry, the active
// effects, and the audio state. The same frame is written into different
// RenderTargets: an offscreen raster for export and a view projection for
// interactive preview clients.
package compositor

import (
	"math"
	"strconv"
	"strings"
)

// DefaultRatio is used when a stage ratio cannot be parsed.
const DefaultRatio = "16:9"

// Stage is the fixed-aspect virtual frame in pixels.
type Stage struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both sides are positive.
func (s Stage) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// ParseRatio parses "W:H". Missing or invalid sides fall back to 16 and 9,
// and sides are never below 1.
func ParseRatio(value string) (w, h float64) {
	wRaw, hRaw, _ := strings.Cut(strings.TrimSpace(value), ":")
	w, h = 16, 9
	if v, err := strconv.ParseFloat(strings.TrimSpace(wRaw), 64); err == nil && v > 0 && !math.IsInf(v, 0) {
		w = v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(hRaw), 64); err == nil && v > 0 && !math.IsInf(v, 0) {
		h = v
	}
	return math.Max(1, w), math.Max(1, h)
}

// StageFor returns the stage for ratio whose long edge is base pixels.
func StageFor(ratio string, base int) Stage {
	if base <= 0 {
		base = 1280
	}
	w, h := ParseRatio(ratio)
	r := w / h
	if r >= 1 {
		return Stage{Width: float64(base), Height: math.Round(float64(base) / r)}
	}
	return Stage{Width: math.Round(float64(base) * r), Height: float64(base)}
}

// RasterSize is StageFor rounded to even pixel dimensions, as video encoders
// require.
func RasterSize(ratio string, base int) (int, int) {
	s := StageFor(ratio, base)
	return even(s.Width), even(s.Height)
}

func even(v float64) int {
	n := int(math.Round(v))
	if n%2 != 0 {
		n++
	}
	if n < 2 {
		n = 2
	}
	return n
}
