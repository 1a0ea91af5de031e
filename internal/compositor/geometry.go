package compositor

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// Glyph metrics of the raster text face at its native size.
const (
	glyphAdvance = 7.0
	glyphHeight  = 13.0
)

const (
	// MinTextBox is the smallest fixed text box side.
	MinTextBox = 40.0
	// MaxTextBoxFraction caps fixed text boxes relative to the stage.
	MaxTextBoxFraction = 0.92
)

// Size is a width and height in stage pixels.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect is an axis-aligned box in stage pixels, origin top-left.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r Rect) Right() float64  { return r.X + r.W }
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// FitScale is the letterbox scale of a w×h source inside stage.
func FitScale(stage Stage, w, h float64) float64 {
	if w <= 0 || h <= 0 {
		return 1
	}
	return math.Min(stage.Width/w, stage.Height/h)
}

// place centers a content box of size (already scaled) on the stage and
// offsets it by the normalized transform.
func place(stage Stage, dw, dh float64, tr timeline.Transform) Rect {
	return Rect{
		X: (stage.Width-dw)/2 + tr.X*stage.Width,
		Y: (stage.Height-dh)/2 + tr.Y*stage.Height,
		W: dw,
		H: dh,
	}
}

// MediaRect is the stage box of a video or image layer with intrinsic size
// w×h: letterbox fit times the transform scale, centered plus offset.
func MediaRect(stage Stage, w, h float64, tr timeline.Transform) Rect {
	tr = tr.Normalized()
	scale := FitScale(stage, w, h) * tr.Scale
	return place(stage, w*scale, h*scale, tr)
}

// MeasureText returns the auto-fit content box of a text style, padding
// included.
func MeasureText(style *timeline.TextStyle) Size {
	lines := strings.Split(style.Text, "\n")
	scale := style.FontSize / glyphHeight
	maxW := 0.0
	for _, line := range lines {
		n := float64(utf8.RuneCountInString(line))
		w := n*glyphAdvance*scale + math.Max(0, n-1)*style.LetterSpacing
		maxW = math.Max(maxW, w)
	}
	h := float64(len(lines)) * style.FontSize * style.LineHeight
	pad := style.Padding
	if style.IsTitle() {
		pad = 0
	}
	return Size{W: maxW + 2*pad, H: h + 2*pad}
}

// TextBox is the unscaled box of a text layer: the stage for titles, a fixed
// size when the user resized the box, the measured content otherwise.
func TextBox(stage Stage, style *timeline.TextStyle) Size {
	if style.IsTitle() {
		return Size{W: stage.Width, H: stage.Height}
	}
	box := MeasureText(style)
	if style.BoxWidth != nil {
		box.W = *style.BoxWidth
	}
	if style.BoxHeight != nil {
		box.H = *style.BoxHeight
	}
	return box
}

// TextRect is the stage box of a text layer. Titles always fill and center
// on the stage regardless of the transform.
func TextRect(stage Stage, style *timeline.TextStyle, tr timeline.Transform) Rect {
	if style.IsTitle() {
		return Rect{W: stage.Width, H: stage.Height}
	}
	tr = tr.Normalized()
	box := TextBox(stage, style)
	return place(stage, box.W*tr.Scale, box.H*tr.Scale, tr)
}

// ClampTextBox keeps a user-resized box between MinTextBox and the stage cap.
func ClampTextBox(stage Stage, w, h float64) Size {
	return Size{
		W: math.Min(math.Max(MinTextBox, w), stage.Width*MaxTextBoxFraction),
		H: math.Min(math.Max(MinTextBox, h), stage.Height*MaxTextBoxFraction),
	}
}
