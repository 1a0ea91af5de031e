// Package media is the runtime side of the media library: items and their
// kind defaults, locator resolution, asynchronous frame sources and the
// virtual audio handles the compositor schedules.
package media

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vibedstudio/studio-agent/internal/timeline"
)

var (
	// ErrNotReady means a frame is being decoded; retry on the next tick.
	ErrNotReady = errors.New("media not ready")
	// ErrItemNotFound is returned for unknown media ids.
	ErrItemNotFound = errors.New("media item not found")
	// ErrUnsupportedLocator is returned for locators that are not local files.
	ErrUnsupportedLocator = errors.New("unsupported media locator")
)

// Item sources.
const (
	SourceUpload     = "upload"
	SourceGenerated  = "generated"
	SourceHoldFrame  = "hold"
	SourceExtracted  = "extracted"
	SourceTextPreset = "text-preset"
	SourceEffect     = "effect"
)

// Item is one entry of the media library.
type Item struct {
	ID        string              `json:"id"`
	Kind      timeline.MediaKind  `json:"kind"`
	Name      string              `json:"name"`
	Locator   string              `json:"locator,omitempty"`
	Duration  float64             `json:"duration"`
	Width     int                 `json:"width,omitempty"`
	Height    int                 `json:"height,omitempty"`
	Text      *timeline.TextStyle `json:"text,omitempty"`
	EffectKey string              `json:"effectKey,omitempty"`
	Source    string              `json:"source,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
}

// SegmentDuration is the length a freshly dropped segment gets.
func (it *Item) SegmentDuration() float64 {
	if it.Duration > 0 {
		return it.Duration
	}
	return timeline.DefaultSegmentDuration
}

// HasDimensions reports whether intrinsic pixel size is known.
func (it *Item) HasDimensions() bool {
	return it.Width > 0 && it.Height > 0
}

// IsPreset reports whether the item is a built-in text or effect preset.
func (it *Item) IsPreset() bool {
	return it.Source == SourceTextPreset || it.Source == SourceEffect
}

// Clone returns a deep copy.
func (it *Item) Clone() *Item {
	c := *it
	c.Text = it.Text.Clone()
	return &c
}

// Library is the in-memory set of media items known to the session. It is
// safe for concurrent use; the ingest runner updates probed dimensions while
// the loop reads them.
type Library struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewLibrary returns a library seeded with the built-in presets.
func NewLibrary() *Library {
	l := &Library{items: make(map[string]*Item)}
	for _, it := range Presets() {
		l.items[it.ID] = it
	}
	return l
}

// Put adds or replaces an item.
func (l *Library) Put(it *Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[it.ID] = it.Clone()
}

// Get returns a copy of the item with id.
func (l *Library) Get(id string) (*Item, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	it, ok := l.items[id]
	if !ok {
		return nil, false
	}
	return it.Clone(), true
}

// Remove deletes an item. Presets cannot be removed.
func (l *Library) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok || it.IsPreset() {
		return false
	}
	delete(l.items, id)
	return true
}

// List returns all items, presets first, then by creation time.
func (l *Library) List() []*Item {
	l.mu.RLock()
	out := make([]*Item, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, it.Clone())
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].IsPreset(), out[j].IsPreset()
		if pi != pj {
			return pi
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Replace swaps the non-preset items for items.
func (l *Library) Replace(items []*Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, it := range l.items {
		if !it.IsPreset() {
			delete(l.items, id)
		}
	}
	for _, it := range items {
		l.items[it.ID] = it.Clone()
	}
}

// UpdateProbe records probed duration and dimensions.
func (l *Library) UpdateProbe(id string, duration float64, width, height int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return false
	}
	if duration > 0 {
		it.Duration = duration
	}
	if width > 0 && height > 0 {
		it.Width, it.Height = width, height
	}
	return true
}
