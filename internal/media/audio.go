package media

import (
	"sort"
	"sync"
	"time"
)

// AudioHandle is the playback state of the element backing one audio
// segment.
type AudioHandle interface {
	Position() float64
	Seek(t float64)
	Play()
	Pause()
	Playing() bool
}

// VirtualAudio models an audio element: a position that advances with wall
// time while playing. Preview clients mirror its state.
type VirtualAudio struct {
	mu      sync.Mutex
	now     func() time.Time
	pos     float64
	since   time.Time
	playing bool
	seeks   int
}

func (a *VirtualAudio) Position() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position()
}

func (a *VirtualAudio) position() float64 {
	if !a.playing {
		return a.pos
	}
	return a.pos + a.now().Sub(a.since).Seconds()
}

func (a *VirtualAudio) Seek(t float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t < 0 {
		t = 0
	}
	a.pos = t
	a.since = a.now()
	a.seeks++
}

func (a *VirtualAudio) Play() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.playing {
		return
	}
	a.since = a.now()
	a.playing = true
}

func (a *VirtualAudio) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.playing {
		return
	}
	a.pos = a.position()
	a.playing = false
}

func (a *VirtualAudio) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

// Seeks counts resynchronizations.
func (a *VirtualAudio) Seeks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seeks
}

// AudioState is the serializable view of one handle.
type AudioState struct {
	SegmentID string  `json:"segmentId"`
	Position  float64 `json:"position"`
	Playing   bool    `json:"playing"`
}

// AudioPool owns one VirtualAudio per audio segment.
type AudioPool struct {
	mu      sync.Mutex
	now     func() time.Time
	handles map[string]*VirtualAudio
}

// NewAudioPool creates a pool. now defaults to time.Now.
func NewAudioPool(now func() time.Time) *AudioPool {
	if now == nil {
		now = time.Now
	}
	return &AudioPool{now: now, handles: make(map[string]*VirtualAudio)}
}

// Handle returns the handle for segID, creating it paused at 0.
func (p *AudioPool) Handle(segID string) AudioHandle {
	return p.handle(segID)
}

func (p *AudioPool) handle(segID string) *VirtualAudio {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[segID]
	if !ok {
		h = &VirtualAudio{now: p.now}
		p.handles[segID] = h
	}
	return h
}

// Lookup returns an existing handle without creating one.
func (p *AudioPool) Lookup(segID string) (*VirtualAudio, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[segID]
	return h, ok
}

// PauseAll pauses every handle that is playing.
func (p *AudioPool) PauseAll() {
	p.mu.Lock()
	handles := make([]*VirtualAudio, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.mu.Unlock()
	for _, h := range handles {
		h.Pause()
	}
}

// Retain drops handles whose segment is not in live.
func (p *AudioPool) Retain(live map[string]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, h := range p.handles {
		if !live[id] {
			h.Pause()
			delete(p.handles, id)
		}
	}
}

// States returns the handles sorted by segment id.
func (p *AudioPool) States() []AudioState {
	p.mu.Lock()
	ids := make([]string, 0, len(p.handles))
	for id := range p.handles {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Strings(ids)

	out := make([]AudioState, 0, len(ids))
	for _, id := range ids {
		h, ok := p.Lookup(id)
		if !ok {
			continue
		}
		out = append(out, AudioState{SegmentID: id, Position: h.Position(), Playing: h.Playing()})
	}
	return out
}
