package compositor

import "image"

// RenderTarget receives a composed frame. The compositor computes geometry
// and opacity once; targets only map layers onto their surface.
type RenderTarget interface {
	// Begin starts a frame and clears the surface.
	Begin(frame *Frame) error
	// DrawLayer draws one layer. Layers arrive back to front. img is nil
	// for text and placeholder layers and for targets that do not want
	// pixels.
	DrawLayer(l *Layer, img image.Image) error
	// ApplyEffects post-processes the frame with the active effects.
	ApplyEffects(effects []Effect, t float64) error
	End() error
	// WantsPixels reports whether DrawLayer needs decoded media frames.
	WantsPixels() bool
}
