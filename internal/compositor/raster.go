package compositor

import (
	"image"
	"image/color"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/vibedstudio/studio-agent/internal/timeline"
)

var (
	backgroundColor  = color.NRGBA{0, 0, 0, 255}
	placeholderColor = color.NRGBA{34, 34, 40, 255}
	defaultTextColor = color.NRGBA{255, 255, 255, 255}
)

// Raster is an offscreen RGBA render target. Stage coordinates are scaled
// onto the raster size, so the same frame renders at any resolution.
type Raster struct {
	img    *image.RGBA
	sx, sy float64
}

// NewRaster allocates a w×h raster target.
func NewRaster(w, h int) *Raster {
	return &Raster{img: image.NewRGBA(image.Rect(0, 0, w, h)), sx: 1, sy: 1}
}

// Image returns the surface. It is reused across frames.
func (r *Raster) Image() *image.RGBA {
	return r.img
}

func (r *Raster) WantsPixels() bool { return true }

func (r *Raster) Begin(frame *Frame) error {
	b := r.img.Bounds()
	r.sx, r.sy = 1, 1
	if frame.Stage.Valid() {
		r.sx = float64(b.Dx()) / frame.Stage.Width
		r.sy = float64(b.Dy()) / frame.Stage.Height
	}
	xdraw.Draw(r.img, b, image.NewUniform(backgroundColor), image.Point{}, xdraw.Src)
	return nil
}

func (r *Raster) End() error { return nil }

func (r *Raster) DrawLayer(l *Layer, img image.Image) error {
	switch {
	case l.Placeholder:
		r.fill(r.pixels(l.Rect), placeholderColor, l.Opacity)
	case l.Kind == timeline.MediaText:
		r.drawText(l)
	case img != nil:
		dst := r.pixels(l.Rect)
		if dst.Empty() {
			return nil
		}
		xdraw.ApproxBiLinear.Scale(r.img, dst, img, img.Bounds(), xdraw.Over, maskOptions(l.Opacity))
	}
	return nil
}

func (r *Raster) pixels(rect Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(rect.X*r.sx)),
		int(math.Round(rect.Y*r.sy)),
		int(math.Round(rect.Right()*r.sx)),
		int(math.Round(rect.Bottom()*r.sy)),
	)
}

func alphaMask(opacity float64) image.Image {
	return image.NewUniform(color.Alpha{A: uint8(math.Round(clamp01(opacity) * 255))})
}

func maskOptions(opacity float64) *xdraw.Options {
	if opacity >= 1 {
		return nil
	}
	return &xdraw.Options{SrcMask: alphaMask(opacity)}
}

func (r *Raster) fill(dst image.Rectangle, c color.NRGBA, opacity float64) {
	dst = dst.Intersect(r.img.Bounds())
	if dst.Empty() || c.A == 0 {
		return
	}
	xdraw.DrawMask(r.img, dst, image.NewUniform(c), image.Point{}, alphaMask(opacity), image.Point{}, xdraw.Over)
}

// drawText rasterizes each line with the fixed 7×13 face and scales it to
// the style's font size.
func (r *Raster) drawText(l *Layer) {
	style := l.Text
	box := r.pixels(l.Rect)
	if bg, ok := parseColor(style.Background); ok {
		r.fill(box, bg, l.Opacity)
	}
	fg, ok := parseColor(style.Color)
	if !ok {
		fg = defaultTextColor
	}

	k := 1.0
	if !style.IsTitle() {
		k = l.Segment.Transform.Normalized().Scale
	}
	glyphScale := style.FontSize / glyphHeight * k
	pad := style.Padding * k
	if style.IsTitle() {
		pad = 0
	}
	lineH := style.FontSize * style.LineHeight * k
	gh := style.FontSize * k

	lines := strings.Split(style.Text, "\n")
	totalH := float64(len(lines)) * lineH
	top := l.Rect.Y + (l.Rect.H-totalH)/2

	for i, line := range lines {
		if line == "" {
			continue
		}
		glyphs := renderLine(line, fg, style.LetterSpacing/glyphScale, style.FontWeight >= 600)
		w := float64(glyphs.Bounds().Dx()) * glyphScale
		var x float64
		switch style.Align {
		case "left":
			x = l.Rect.X + pad
		case "right":
			x = l.Rect.Right() - pad - w
		default:
			x = l.Rect.X + (l.Rect.W-w)/2
		}
		y := top + float64(i)*lineH + (lineH-gh)/2
		dst := r.pixels(Rect{X: x, Y: y, W: w, H: gh})
		if !dst.Empty() {
			xdraw.ApproxBiLinear.Scale(r.img, dst, glyphs, glyphs.Bounds(), xdraw.Over, maskOptions(l.Opacity))
		}
		if style.Underline {
			thick := math.Max(1, style.FontSize/18*k)
			uy := y + gh/2 + style.FontSize*0.38*k
			r.fill(r.pixels(Rect{X: x, Y: uy, W: w, H: thick}), fg, l.Opacity)
		}
	}
}

// renderLine draws one line at native glyph size. spacing is extra advance
// per glyph in native pixels; bold overstrikes each glyph one pixel right.
func renderLine(line string, c color.NRGBA, spacing float64, bold bool) *image.RGBA {
	face := basicfont.Face7x13
	n := len([]rune(line))
	extra := 0
	if bold {
		extra = 1
	}
	w := int(math.Ceil(float64(n)*glyphAdvance+math.Max(0, float64(n-1))*spacing)) + extra
	if w < 1 {
		w = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, int(glyphHeight)))
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face}
	x := fixed.I(0)
	step := fixed.Int26_6(spacing * 64)
	for _, ch := range line {
		d.Dot = fixed.Point26_6{X: x, Y: fixed.I(face.Ascent)}
		d.DrawString(string(ch))
		if bold {
			d.Dot = fixed.Point26_6{X: x + fixed.I(1), Y: fixed.I(face.Ascent)}
			d.DrawString(string(ch))
		}
		x += fixed.I(face.Advance) + step
	}
	return dst
}
