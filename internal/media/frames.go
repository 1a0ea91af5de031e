package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

const (
	defaultFrameCapacity = 240
	defaultDecoders      = 4
	failureRetryAfter    = 2 * time.Second
)

// FrameExtractor decodes a single video frame to an encoded image.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, path string, offset float64) ([]byte, error)
}

// FrameSource supplies decoded frames of spatial media.
type FrameSource interface {
	// Frame never blocks. When the frame is not decoded yet it schedules the
	// decode and returns ErrNotReady.
	Frame(it *Item, t float64) (image.Image, error)
	// FrameSync blocks until the frame is available.
	FrameSync(ctx context.Context, it *Item, t float64) (image.Image, error)
	// Prefetch warms the cache for the frame at t.
	Prefetch(it *Item, t float64)
}

type failure struct {
	err error
	at  time.Time
}

// Frames is a FrameSource backed by an LRU cache of decoded frames. Stills
// are decoded in-process; video frames come from the extractor, quantized to
// the configured frame rate.
type Frames struct {
	resolver *Resolver
	ff       FrameExtractor
	logger   *slog.Logger
	quantum  float64
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	sf     singleflight.Group

	cache *lru.Cache[string, image.Image]

	mu      sync.Mutex
	pending map[string]bool
	failed  map[string]failure
}

// NewFrames creates a frame source quantizing video frames to fps.
func NewFrames(resolver *Resolver, ff FrameExtractor, fps int, logger *slog.Logger) *Frames {
	if fps <= 0 {
		fps = 30
	}
	// Only a non-positive size fails.
	cache, _ := lru.New[string, image.Image](defaultFrameCapacity)
	ctx, cancel := context.WithCancel(context.Background())
	return &Frames{
		resolver: resolver,
		ff:       ff,
		logger:   logging.WithComponent(logging.OrDiscard(logger), "frames"),
		quantum:  1 / float64(fps),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sem:      semaphore.NewWeighted(defaultDecoders),
		cache:    cache,
		pending:  make(map[string]bool),
		failed:   make(map[string]failure),
	}
}

// Close stops background decodes.
func (f *Frames) Close() {
	f.cancel()
}

func (f *Frames) key(it *Item, path string, t float64) (string, float64) {
	if it.Kind != timeline.MediaVideo {
		return "img|" + path, 0
	}
	q := math.Round(math.Max(0, t)/f.quantum) * f.quantum
	return fmt.Sprintf("vid|%s|%d", path, int64(math.Round(q/f.quantum))), q
}

func (f *Frames) Frame(it *Item, t float64) (image.Image, error) {
	path, err := f.resolver.Resolve(it.Locator)
	if err != nil {
		return nil, err
	}
	key, q := f.key(it, path, t)
	if img, ok := f.cache.Get(key); ok {
		return img, nil
	}

	f.mu.Lock()
	if fl, ok := f.failed[key]; ok && f.now().Sub(fl.at) < failureRetryAfter {
		f.mu.Unlock()
		return nil, fl.err
	}
	if f.pending[key] {
		f.mu.Unlock()
		return nil, ErrNotReady
	}
	f.pending[key] = true
	f.mu.Unlock()

	go f.loadAsync(key, it.Kind, path, q)
	return nil, ErrNotReady
}

func (f *Frames) FrameSync(ctx context.Context, it *Item, t float64) (image.Image, error) {
	path, err := f.resolver.Resolve(it.Locator)
	if err != nil {
		return nil, err
	}
	key, q := f.key(it, path, t)
	if img, ok := f.cache.Get(key); ok {
		return img, nil
	}

	// The decode runs under the source's context so a caller that gives up
	// does not fail the others waiting on the same frame.
	ch := f.sf.DoChan(key, func() (interface{}, error) {
		return f.load(key, it.Kind, path, q)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Frames) Prefetch(it *Item, t float64) {
	_, _ = f.Frame(it, t)
}

func (f *Frames) loadAsync(key string, kind timeline.MediaKind, path string, q float64) {
	err := f.sem.Acquire(f.ctx, 1)
	if err == nil {
		_, err, _ = f.sf.Do(key, func() (interface{}, error) {
			return f.load(key, kind, path, q)
		})
		f.sem.Release(1)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, key)
	if err != nil {
		f.failed[key] = failure{err: err, at: f.now()}
		f.logger.Warn("frame decode failed", "path", logging.SanitizePath(path), "error", err)
	}
}

// load decodes a frame and caches it.
func (f *Frames) load(key string, kind timeline.MediaKind, path string, q float64) (image.Image, error) {
	img, err := f.decode(f.ctx, kind, path, q)
	if err != nil {
		return nil, err
	}
	f.cache.Add(key, img)
	f.mu.Lock()
	delete(f.failed, key)
	f.mu.Unlock()
	return img, nil
}

func (f *Frames) decode(ctx context.Context, kind timeline.MediaKind, path string, offset float64) (image.Image, error) {
	if kind == timeline.MediaVideo {
		data, err := f.ff.ExtractFrame(ctx, path, offset)
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode video frame: %w", err)
		}
		return img, nil
	}
	return DecodeStill(path)
}

// DecodeStill reads an image file in any registered format.
func DecodeStill(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Len returns the number of cached frames.
func (f *Frames) Len() int {
	return f.cache.Len()
}
