package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibedstudio/studio-agent/internal/pipeline"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeExtractor struct {
	calls atomic.Int32
	err   error
	data  []byte
}

func (f *fakeExtractor) ExtractFrame(ctx context.Context, path string, offset float64) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func TestLibrary_Presets(t *testing.T) {
	lib := NewLibrary()

	overlay, ok := lib.Get("text-preset-overlay")
	require.True(t, ok)
	assert.Equal(t, 48.0, overlay.Text.FontSize)
	assert.Equal(t, 600, overlay.Text.FontWeight)
	assert.Equal(t, "transparent", overlay.Text.Background)

	title, ok := lib.Get("text-preset-title")
	require.True(t, ok)
	assert.True(t, title.Text.IsTitle())
	assert.Equal(t, 72.0, title.Text.FontSize)
	assert.Equal(t, "#000000", title.Text.Background)
	assert.Equal(t, 0.0, title.Text.Padding)

	want := map[string]float64{"zoom-punch": 2.0, "glitch": 1.5, "vhs": 3.0, "blur-in": 1.2}
	for key, dur := range want {
		fx, ok := lib.Get("fx-" + key)
		require.True(t, ok, key)
		assert.Equal(t, dur, fx.Duration)
		assert.Equal(t, timeline.MediaEffect, fx.Kind)
		assert.True(t, KnownEffect(key))
	}
	assert.False(t, lib.Remove("fx-glitch"), "presets are permanent")
}

func TestLibrary_PutListReplace(t *testing.T) {
	lib := NewLibrary()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lib.Put(&Item{ID: "b", Kind: timeline.MediaVideo, CreatedAt: base.Add(time.Minute)})
	lib.Put(&Item{ID: "a", Kind: timeline.MediaImage, CreatedAt: base})

	items := lib.List()
	require.Len(t, items, len(Presets())+2)
	assert.True(t, items[0].IsPreset())
	assert.Equal(t, "a", items[len(items)-2].ID)
	assert.Equal(t, "b", items[len(items)-1].ID)

	got, _ := lib.Get("a")
	got.Name = "mutated"
	again, _ := lib.Get("a")
	assert.Empty(t, again.Name, "Get returns copies")

	lib.Replace([]*Item{{ID: "c", Kind: timeline.MediaAudio}})
	_, ok := lib.Get("a")
	assert.False(t, ok)
	_, ok = lib.Get("c")
	assert.True(t, ok)
	_, ok = lib.Get("text-preset-title")
	assert.True(t, ok, "presets survive Replace")

	assert.True(t, lib.UpdateProbe("c", 12.5, 0, 0))
	c, _ := lib.Get("c")
	assert.Equal(t, 12.5, c.Duration)
	assert.False(t, c.HasDimensions())
}

func TestItem_SegmentDuration(t *testing.T) {
	assert.Equal(t, timeline.DefaultSegmentDuration, (&Item{}).SegmentDuration())
	assert.Equal(t, 2.5, (&Item{Duration: 2.5}).SegmentDuration())
}

func TestNormalizeTextStyle(t *testing.T) {
	s := NormalizeTextStyle(&timeline.TextStyle{Preset: TextPresetTitle})
	assert.Equal(t, 72.0, s.FontSize)
	assert.Equal(t, "Text", s.Text)

	d := NormalizeTextStyle(nil)
	assert.Equal(t, 48.0, d.FontSize)
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.png")
	writePNG(t, path, 2, 2)
	r := NewResolver(dir)

	got, err := r.Resolve("clip.png")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	got, err = r.Resolve("file://" + path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = r.Resolve("https://cdn.example.com/clip.mp4")
	assert.ErrorIs(t, err, ErrUnsupportedLocator)

	_, err = r.Resolve("missing.png")
	assert.Error(t, err)

	_, err = r.Resolve("")
	assert.ErrorIs(t, err, ErrUnsupportedLocator)
}

func TestFrames_StillAsync(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "still.png"), 8, 6)
	frames := NewFrames(NewResolver(dir), &fakeExtractor{}, 30, nil)
	defer frames.Close()
	item := &Item{ID: "i", Kind: timeline.MediaImage, Locator: "still.png"}

	_, err := frames.Frame(item, 0)
	require.ErrorIs(t, err, ErrNotReady)

	require.Eventually(t, func() bool {
		_, err := frames.Frame(item, 0)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	img, err := frames.Frame(item, 99)
	require.NoError(t, err, "stills ignore time")
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestFrames_VideoQuantizedAndCached(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v.mp4"), []byte("x"), 0o644))
	ff := &fakeExtractor{data: pngBytes(t, color.White)}
	frames := NewFrames(NewResolver(dir), ff, 10, nil)
	defer frames.Close()
	item := &Item{ID: "v", Kind: timeline.MediaVideo, Locator: "v.mp4"}

	_, err := frames.FrameSync(context.Background(), item, 1.01)
	require.NoError(t, err)
	_, err = frames.FrameSync(context.Background(), item, 1.04)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ff.calls.Load(), "1.01 and 1.04 share the 1.0 frame at 10fps")

	_, err = frames.FrameSync(context.Background(), item, 1.06)
	require.NoError(t, err)
	assert.Equal(t, int32(2), ff.calls.Load())
	assert.Equal(t, 2, frames.Len())
}

func TestFrames_FailureIsSticky(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v.mp4"), []byte("x"), 0o644))
	boom := errors.New("corrupt stream")
	ff := &fakeExtractor{err: boom}
	frames := NewFrames(NewResolver(dir), ff, 30, nil)
	defer frames.Close()
	item := &Item{ID: "v", Kind: timeline.MediaVideo, Locator: "v.mp4"}

	_, err := frames.Frame(item, 0)
	require.ErrorIs(t, err, ErrNotReady)

	require.Eventually(t, func() bool {
		_, err := frames.Frame(item, 0)
		return errors.Is(err, boom)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), ff.calls.Load(), "failed frames are not retried immediately")
}

func TestFrames_UnresolvableLocator(t *testing.T) {
	frames := NewFrames(NewResolver(t.TempDir()), &fakeExtractor{}, 30, nil)
	defer frames.Close()
	_, err := frames.Frame(&Item{Kind: timeline.MediaImage, Locator: "nope.png"}, 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotReady)
}

type gatedExtractor struct {
	calls   atomic.Int32
	started chan struct{}
	gate    chan struct{}
	data    []byte
}

func (g *gatedExtractor) ExtractFrame(ctx context.Context, path string, offset float64) ([]byte, error) {
	g.calls.Add(1)
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
		return g.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestFrames_CancelledCallerDoesNotAbortDecode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "v.mp4"), []byte("x"), 0o644))
	ff := &gatedExtractor{started: make(chan struct{}, 1), gate: make(chan struct{}), data: pngBytes(t, color.White)}
	frames := NewFrames(NewResolver(dir), ff, 10, nil)
	defer frames.Close()
	item := &Item{ID: "v", Kind: timeline.MediaVideo, Locator: "v.mp4"}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := frames.FrameSync(ctx, item, 2)
		errc <- err
	}()
	<-ff.started
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	close(ff.gate)
	require.Eventually(t, func() bool { return frames.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	img, err := frames.FrameSync(context.Background(), item, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, int32(1), ff.calls.Load())
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock               { return &fakeClock{t: time.Unix(1000, 0)} }

func TestVirtualAudio(t *testing.T) {
	clk := newFakeClock()
	pool := NewAudioPool(clk.Now)
	h := pool.Handle("s1")

	assert.False(t, h.Playing())
	h.Play()
	clk.Advance(1500 * time.Millisecond)
	assert.InDelta(t, 1.5, h.Position(), 1e-9)

	h.Seek(10)
	clk.Advance(time.Second)
	assert.InDelta(t, 11, h.Position(), 1e-9)

	pool.PauseAll()
	clk.Advance(time.Second)
	assert.False(t, h.Playing())
	assert.InDelta(t, 11, h.Position(), 1e-9)

	pool.Handle("s2")
	pool.Retain(map[string]bool{"s2": true})
	_, ok := pool.Lookup("s1")
	assert.False(t, ok)
	states := pool.States()
	require.Len(t, states, 1)
	assert.Equal(t, "s2", states[0].SegmentID)
}

type fakeProber struct{ res *pipeline.ProbeResult }

func (f fakeProber) Probe(ctx context.Context, path string) (*pipeline.ProbeResult, error) {
	return f.res, nil
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 640, 360)

	info, err := Inspect(context.Background(), nil, timeline.MediaImage, path)
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 360, info.Height)

	prober := fakeProber{res: &pipeline.ProbeResult{Duration: 7, Width: 1920, Height: 1080, Codec: "h264", AudioCodec: "aac"}}
	info, err = Inspect(context.Background(), prober, timeline.MediaVideo, "ignored.mp4")
	require.NoError(t, err)
	assert.Equal(t, 7.0, info.Duration)
	assert.True(t, info.HasAudio)

	_, err = Inspect(context.Background(), prober, timeline.MediaText, "")
	assert.Error(t, err)
}
