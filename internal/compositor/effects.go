package compositor

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/vibedstudio/studio-agent/internal/media"
)

// glitchOffsets cycles the red channel shift at 24 steps per second.
var glitchOffsets = []int{-6, 4, 0, 8, -3, 2}

func (r *Raster) ApplyEffects(effects []Effect, t float64) error {
	for _, fx := range effects {
		switch fx.Key {
		case media.EffectZoomPunch:
			r.zoom(1 + 0.08*math.Sin(math.Pi*fx.Progress))
		case media.EffectGlitch:
			off := glitchOffsets[int(math.Floor(t*24))%len(glitchOffsets)]
			r.shiftChannel(0, int(math.Round(float64(off)*r.sx)))
		case media.EffectVHS:
			r.scanlines(0.82)
			r.shiftChannel(2, int(math.Round(2*r.sx)))
		case media.EffectBlurIn:
			if fx.Progress < 0.4 {
				radius := int(math.Round(12 * (1 - fx.Progress/0.4) * r.sx))
				boxBlur(r.img, radius)
			}
		}
	}
	return nil
}

// zoom scales the frame by z around its center.
func (r *Raster) zoom(z float64) {
	if z <= 1 {
		return
	}
	b := r.img.Bounds()
	src := image.NewRGBA(b)
	copy(src.Pix, r.img.Pix)
	cw, ch := float64(b.Dx())/z, float64(b.Dy())/z
	crop := image.Rect(
		int(math.Round((float64(b.Dx())-cw)/2)),
		int(math.Round((float64(b.Dy())-ch)/2)),
		int(math.Round((float64(b.Dx())+cw)/2)),
		int(math.Round((float64(b.Dy())+ch)/2)),
	)
	xdraw.ApproxBiLinear.Scale(r.img, b, src, crop, xdraw.Src, nil)
}

// shiftChannel moves one RGB channel dx pixels horizontally.
func (r *Raster) shiftChannel(channel, dx int) {
	if dx == 0 {
		return
	}
	b := r.img.Bounds()
	w := b.Dx()
	row := make([]uint8, w)
	for y := 0; y < b.Dy(); y++ {
		base := y * r.img.Stride
		for x := 0; x < w; x++ {
			row[x] = r.img.Pix[base+x*4+channel]
		}
		for x := 0; x < w; x++ {
			sx := x - dx
			if sx < 0 {
				sx = 0
			} else if sx >= w {
				sx = w - 1
			}
			r.img.Pix[base+x*4+channel] = row[sx]
		}
	}
}

// scanlines darkens every other row by factor.
func (r *Raster) scanlines(factor float64) {
	b := r.img.Bounds()
	for y := 1; y < b.Dy(); y += 2 {
		base := y * r.img.Stride
		for x := 0; x < b.Dx(); x++ {
			i := base + x*4
			for c := 0; c < 3; c++ {
				r.img.Pix[i+c] = uint8(float64(r.img.Pix[i+c]) * factor)
			}
		}
	}
}

// boxBlur is a separable box blur of the given radius, in place.
func boxBlur(img *image.RGBA, radius int) {
	if radius < 1 {
		return
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]uint8, len(img.Pix))
	blurPass(img.Pix, tmp, w, h, img.Stride, radius, true)
	blurPass(tmp, img.Pix, w, h, img.Stride, radius, false)
}

func blurPass(src, dst []uint8, w, h, stride, radius int, horizontal bool) {
	outer, inner := h, w
	if !horizontal {
		outer, inner = w, h
	}
	at := func(o, i int) int {
		if horizontal {
			return o*stride + i*4
		}
		return i*stride + o*4
	}
	for o := 0; o < outer; o++ {
		var sum [4]int
		count := 0
		for i := -radius; i <= radius; i++ {
			if i >= 0 && i < inner {
				p := at(o, i)
				for c := 0; c < 4; c++ {
					sum[c] += int(src[p+c])
				}
				count++
			}
		}
		for i := 0; i < inner; i++ {
			p := at(o, i)
			for c := 0; c < 4; c++ {
				dst[p+c] = uint8(sum[c] / count)
			}
			if out := i - radius; out >= 0 {
				q := at(o, out)
				for c := 0; c < 4; c++ {
					sum[c] -= int(src[q+c])
				}
				count--
			}
			if in := i + radius + 1; in < inner {
				q := at(o, in)
				for c := 0; c < 4; c++ {
					sum[c] += int(src[q+c])
				}
				count++
			}
		}
	}
}
