package media

import "github.com/vibedstudio/studio-agent/internal/timeline"

// Effect keys understood by the compositor.
const (
	EffectZoomPunch = "zoom-punch"
	EffectGlitch    = "glitch"
	EffectVHS       = "vhs"
	EffectBlurIn    = "blur-in"
)

// Text preset keys.
const (
	TextPresetOverlay = "overlay"
	TextPresetTitle   = timeline.TitlePreset
)

const defaultTextDuration = 4.0

type effectPreset struct {
	key      string
	name     string
	duration float64
}

var effectPresets = []effectPreset{
	{EffectZoomPunch, "Zoom Punch", 2.0},
	{EffectGlitch, "Glitch", 1.5},
	{EffectVHS, "VHS", 3.0},
	{EffectBlurIn, "Blur In", 1.2},
}

// KnownEffect reports whether key names a built-in effect.
func KnownEffect(key string) bool {
	for _, p := range effectPresets {
		if p.key == key {
			return true
		}
	}
	return false
}

// DefaultTextStyle returns the overlay styling every text item starts from.
func DefaultTextStyle() *timeline.TextStyle {
	return &timeline.TextStyle{
		Text:       "Add your text",
		FontFamily: "Arial",
		FontSize:   48,
		FontWeight: 600,
		FontStyle:  "normal",
		Color:      "#ffffff",
		Align:      "center",
		Background: "transparent",
		Padding:    8,
		LineHeight: 1.1,
		Preset:     TextPresetOverlay,
	}
}

// TitleTextStyle is the full-stage title variant.
func TitleTextStyle() *timeline.TextStyle {
	s := DefaultTextStyle()
	s.Text = "Title"
	s.FontSize = 72
	s.FontWeight = 700
	s.Background = "#000000"
	s.Padding = 0
	s.Preset = TextPresetTitle
	return s
}

// NormalizeTextStyle fills unset fields the same way text items are created.
func NormalizeTextStyle(s *timeline.TextStyle) *timeline.TextStyle {
	if s == nil {
		return DefaultTextStyle()
	}
	d := DefaultTextStyle()
	if s.IsTitle() {
		d = TitleTextStyle()
	}
	out := s.Clone()
	if out.Text == "" {
		out.Text = "Text"
	}
	if out.FontFamily == "" {
		out.FontFamily = d.FontFamily
	}
	if out.FontSize <= 0 {
		out.FontSize = d.FontSize
	}
	if out.FontWeight <= 0 {
		out.FontWeight = d.FontWeight
	}
	if out.FontStyle == "" {
		out.FontStyle = d.FontStyle
	}
	if out.Color == "" {
		out.Color = d.Color
	}
	if out.Align == "" {
		out.Align = d.Align
	}
	if out.Background == "" {
		out.Background = d.Background
	}
	if out.LineHeight <= 0 {
		out.LineHeight = d.LineHeight
	}
	if out.Padding < 0 {
		out.Padding = 0
	}
	return out
}

// Presets returns fresh copies of the built-in library entries.
func Presets() []*Item {
	items := []*Item{
		{
			ID:       "text-preset-overlay",
			Kind:     timeline.MediaText,
			Name:     "Text Overlay",
			Duration: defaultTextDuration,
			Text:     DefaultTextStyle(),
			Source:   SourceTextPreset,
		},
		{
			ID:       "text-preset-title",
			Kind:     timeline.MediaText,
			Name:     "Title",
			Duration: defaultTextDuration,
			Text:     TitleTextStyle(),
			Source:   SourceTextPreset,
		},
	}
	for _, p := range effectPresets {
		items = append(items, &Item{
			ID:        "fx-" + p.key,
			Kind:      timeline.MediaEffect,
			Name:      p.name,
			Duration:  p.duration,
			EffectKey: p.key,
			Source:    SourceEffect,
		})
	}
	return items
}
