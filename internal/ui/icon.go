package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"golang.org/x/image/draw"
)

const iconSize = 32

var (
	iconOnce sync.Once
	iconPNG  []byte
)

// iconBytes is the tray icon: a white play triangle on a rounded accent
// square, drawn at 8x and downsampled.
func iconBytes() []byte {
	iconOnce.Do(func() {
		iconPNG = renderIcon()
	})
	return iconPNG
}

func renderIcon() []byte {
	const scale = 8
	n := iconSize * scale
	big := image.NewRGBA(image.Rect(0, 0, n, n))
	accent := color.RGBA{R: 0x6d, G: 0x4a, B: 0xff, A: 0xff}
	radius := float64(n) / 5

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if insideRounded(float64(x)+0.5, float64(y)+0.5, float64(n), radius) {
				big.SetRGBA(x, y, accent)
			}
			if insidePlay(float64(x)+0.5, float64(y)+0.5, float64(n)) {
				big.SetRGBA(x, y, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
			}
		}
	}

	small := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	draw.BiLinear.Scale(small, small.Bounds(), big, big.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return nil
	}
	return buf.Bytes()
}

func insideRounded(x, y, size, r float64) bool {
	cx := clamp(x, r, size-r)
	cy := clamp(y, r, size-r)
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= r*r
}

// insidePlay tests a right-pointing triangle centred slightly right of the
// middle, as play glyphs usually are.
func insidePlay(x, y, size float64) bool {
	left, right := size*0.36, size*0.72
	top, bottom := size*0.26, size*0.74
	if x < left || x > right {
		return false
	}
	mid := (top + bottom) / 2
	half := (bottom - top) / 2 * (right - x) / (right - left)
	return y >= mid-half && y <= mid+half
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
