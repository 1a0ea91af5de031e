package export

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibedstudio/studio-agent/internal/compositor"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
	"github.com/vibedstudio/studio-agent/internal/playback"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// timedFrames returns a solid frame whose red channel encodes the media time.
type timedFrames struct{}

func (timedFrames) Frame(it *media.Item, t float64) (image.Image, error) {
	return nil, media.ErrNotReady
}

func (timedFrames) FrameSync(ctx context.Context, it *media.Item, t float64) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 9))
	c := color.RGBA{R: uint8(math.Round(t * 100)), G: 40, B: 200, A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img, nil
}

func (timedFrames) Prefetch(it *media.Item, t float64) {}

// fileSink writes a placeholder file on Close, standing in for ffmpeg.
type fileSink struct {
	path   string
	frames int
}

func (s *fileSink) WriteFrame(img *image.RGBA) error {
	s.frames++
	return nil
}

func (s *fileSink) Close() (Artifact, error) {
	if err := os.WriteFile(s.path, []byte("webm"), 0o644); err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: s.path, Format: FormatWebM, Frames: s.frames}, nil
}

type fakeFinisher struct {
	mu           sync.Mutex
	transcodeErr error
	clips        []pipeline.AudioClip
	transcoded   int
}

func (f *fakeFinisher) MuxAudio(ctx context.Context, videoPath string, clips []pipeline.AudioClip, outPath string) (pipeline.RunResult, error) {
	f.mu.Lock()
	f.clips = clips
	f.mu.Unlock()
	return pipeline.RunResult{OutputPath: outPath}, os.WriteFile(outPath, []byte("mixed"), 0o644)
}

func (f *fakeFinisher) Transcode(ctx context.Context, inPath, outPath string) (pipeline.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcoded++
	if f.transcodeErr != nil {
		return pipeline.RunResult{ExitCode: 1, StderrTail: "encoder missing"}, f.transcodeErr
	}
	return pipeline.RunResult{OutputPath: outPath}, os.WriteFile(outPath, []byte("mp4"), 0o644)
}

type recorder struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *recorder) ExportUpdated(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, j := range r.jobs {
		if len(out) == 0 || out[len(out)-1] != j.Status {
			out = append(out, j.Status)
		}
	}
	return out
}

type fixture struct {
	tl       *timeline.Timeline
	lib      *media.Library
	resolver *media.Resolver
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	lib := media.NewLibrary()
	lib.Put(&media.Item{ID: "v1", Kind: timeline.MediaVideo, Name: "Intro", Locator: "intro.webm", Duration: 2, Width: 16, Height: 9})

	tl := timeline.NewWithDefaultTracks()
	seg := &timeline.Segment{
		MediaRef:  "v1",
		Kind:      timeline.MediaVideo,
		Start:     0,
		Duration:  2,
		FadeIn:    timeline.Fade{Enabled: true, Duration: 1},
		Transform: timeline.IdentityTransform(),
	}
	_, err := tl.InsertSegment(tl.Tracks()[0].ID, seg, 0)
	require.NoError(t, err)
	return &fixture{tl: tl, lib: lib, resolver: media.NewResolver(dir), dir: dir}
}

func (f *fixture) exporter(sinks SinkFactory, fin Finisher, obs Observer) *Exporter {
	e := New(Options{Dir: f.dir, FPS: 10, Base: 64}, Deps{
		Renderer: compositor.New(f.lib, timedFrames{}, nil),
		Sinks:    sinks,
		Finisher: fin,
		Items:    f.lib,
		Resolver: f.resolver,
		Observer: obs,
	})
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return e
}

func memorySinks(sink *MemorySink) SinkFactory {
	return SinkFactoryFunc(func(ctx context.Context, format Format, spec SinkSpec) (FrameSink, error) {
		return sink, nil
	})
}

// drive ticks clock at 60Hz wall time until the export finishes.
func drive(t *testing.T, e *Exporter, clock *playback.Clock, duration float64) {
	t.Helper()
	now := time.Unix(0, 0)
	for i := 0; i < 100000; i++ {
		tick := clock.Tick(now, duration)
		e.Advance(tick.Time)
		if tick.Finished {
			break
		}
		now = now.Add(time.Second / 60)
	}
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("export did not finish")
	}
}

func TestExporter_DeterministicAcrossSpeeds(t *testing.T) {
	capture := func(format Format) ([]*image.RGBA, Job) {
		f := newFixture(t)
		sink := NewMemorySink()
		e := f.exporter(memorySinks(sink), nil, nil)
		clock := playback.NewClock()

		job, err := e.Start(context.Background(), f.tl, clock, Request{Format: format})
		require.NoError(t, err)
		assert.Equal(t, playback.StateExporting, clock.State())
		drive(t, e, clock, f.tl.Duration())

		last, ok := e.Last()
		require.True(t, ok)
		assert.Equal(t, StatusCompleted, last.Status)
		assert.True(t, sink.Closed())
		return sink.Frames(), job
	}

	slow, slowJob := capture(FormatWebM)
	fast, fastJob := capture(FormatMP4)

	assert.Equal(t, 1.0, slowJob.Speed)
	assert.Equal(t, 4.0, fastJob.Speed)
	require.Len(t, slow, 20, "2s at 10fps")
	require.Len(t, fast, 20)
	for i := range slow {
		require.Equal(t, slow[i].Pix, fast[i].Pix, "frame %d differs", i)
	}

	// the fade-in makes frame 0 darker than frame 15
	center := func(img *image.RGBA) uint8 {
		b := img.Bounds()
		return img.RGBAAt(b.Dx()/2, b.Dy()/2).B
	}
	assert.Less(t, center(slow[0]), center(slow[15]))
}

func TestExporter_Errors(t *testing.T) {
	f := newFixture(t)
	sink := NewMemorySink()
	e := f.exporter(memorySinks(sink), nil, nil)

	_, err := e.Start(context.Background(), timeline.NewWithDefaultTracks(), nil, Request{})
	assert.ErrorIs(t, err, ErrNothingToExport)

	_, err = e.Start(context.Background(), f.tl, nil, Request{Format: "gif"})
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = e.Start(context.Background(), f.tl, nil, Request{Format: FormatWebM})
	require.NoError(t, err)
	_, err = e.Start(context.Background(), f.tl, nil, Request{Format: FormatWebM})
	assert.ErrorIs(t, err, ErrExportInProgress)

	e.Cancel()
	<-e.Done()
}

func TestExporter_NoCaptureStreamLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t)
	failing := SinkFactoryFunc(func(ctx context.Context, format Format, spec SinkSpec) (FrameSink, error) {
		return nil, pipeline.ErrFFmpegUnavailable
	})
	e := f.exporter(failing, nil, nil)
	clock := playback.NewClock()
	clock.Seek(1.5, f.tl.Duration())
	before := f.tl.Snapshot()

	_, err := e.Start(context.Background(), f.tl, clock, Request{Format: FormatMP4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCaptureStream))

	assert.Equal(t, before, f.tl.Snapshot())
	assert.Equal(t, playback.StateStopped, clock.State())
	assert.Equal(t, 1.5, clock.Time())
	_, active := e.Active()
	assert.False(t, active)
}

func TestExporter_CancelFlushesShortArtifact(t *testing.T) {
	f := newFixture(t)
	sink := NewMemorySink()
	rec := &recorder{}
	e := f.exporter(memorySinks(sink), nil, rec)

	_, err := e.Start(context.Background(), f.tl, nil, Request{Format: FormatWebM})
	require.NoError(t, err)
	e.Advance(0.5)

	require.Eventually(t, func() bool {
		job, ok := e.Active()
		return ok && job.Frames == 6
	}, 2*time.Second, time.Millisecond)

	assert.True(t, e.Cancel())
	e.Cancel()
	<-e.Done()

	job, _ := e.Last()
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Equal(t, 6, job.Frames)
	assert.True(t, sink.Closed())
	assert.Len(t, sink.Frames(), 6)
	assert.False(t, e.Cancel(), "nothing left to cancel")

	assert.Equal(t, []Status{StatusRunning, StatusCancelled}, rec.statuses())
}

func TestExporter_EditsDuringExportDoNotLeak(t *testing.T) {
	f := newFixture(t)
	sink := NewMemorySink()
	e := f.exporter(memorySinks(sink), nil, nil)

	_, err := e.Start(context.Background(), f.tl, nil, Request{Format: FormatWebM})
	require.NoError(t, err)

	seg := f.tl.Tracks()[0].Segments()[0]
	require.NoError(t, f.tl.RemoveSegment(f.tl.Tracks()[0].ID, seg.ID))

	e.Advance(math.Inf(1))
	<-e.Done()
	job, _ := e.Last()
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 20, job.Frames)
}

func TestExporter_TranscodeAndAudio(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "music.wav"), []byte("RIFF"), 0o644))
	f.lib.Put(&media.Item{ID: "a1", Kind: timeline.MediaAudio, Name: "Music", Locator: "music.wav", Duration: 10})
	audioTrack := f.tl.Tracks()[2]
	_, err := f.tl.InsertSegment(audioTrack.ID, &timeline.Segment{MediaRef: "a1", Kind: timeline.MediaAudio, Start: 0.5, Duration: 10}, 0)
	require.NoError(t, err)

	sinks := SinkFactoryFunc(func(ctx context.Context, format Format, spec SinkSpec) (FrameSink, error) {
		assert.Equal(t, FormatWebM, format, "video exports capture webm first")
		return &fileSink{path: spec.Path}, nil
	})
	fin := &fakeFinisher{}
	e := f.exporter(sinks, fin, nil)

	_, err = e.Start(context.Background(), f.tl, nil, Request{Format: FormatMP4})
	require.NoError(t, err)
	e.Advance(math.Inf(1))
	<-e.Done()

	job, _ := e.Last()
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, FormatMP4, job.Format)
	assert.Empty(t, job.Notice)
	assert.Equal(t, "vibedstudio-edit-1700000000000.mp4", job.Filename)
	assert.Equal(t, filepath.Join(f.dir, job.Filename), job.Path)
	assert.FileExists(t, job.Path)

	require.Len(t, fin.clips, 1)
	assert.Equal(t, 0.5, fin.clips[0].Start)
	assert.InDelta(t, 1.5, fin.clips[0].Duration, 1e-9, "audio is cut at the export end")

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".webm"), "intermediate %s left behind", entry.Name())
	}
}

func TestExporter_TranscodeFallbackDeliversWebM(t *testing.T) {
	f := newFixture(t)
	sinks := SinkFactoryFunc(func(ctx context.Context, format Format, spec SinkSpec) (FrameSink, error) {
		return &fileSink{path: spec.Path}, nil
	})
	fin := &fakeFinisher{transcodeErr: errors.New("exit status 1")}
	e := f.exporter(sinks, fin, nil)

	_, err := e.Start(context.Background(), f.tl, nil, Request{Format: FormatMP4, Name: "My Cut"})
	require.NoError(t, err)
	e.Advance(math.Inf(1))
	<-e.Done()

	job, _ := e.Last()
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, FormatWebM, job.Format)
	assert.Equal(t, FormatMP4, job.Requested)
	assert.Contains(t, job.Notice, "mp4 conversion is unavailable")
	assert.Equal(t, "My Cut.webm", job.Filename)
	assert.FileExists(t, job.Path)
	assert.Equal(t, 1, fin.transcoded)
}

func TestExporter_ZipSink(t *testing.T) {
	f := newFixture(t)
	e := f.exporter(FileSinks{}, nil, nil)

	_, err := e.Start(context.Background(), f.tl, nil, Request{Format: FormatPNGZip})
	require.NoError(t, err)
	e.Advance(math.Inf(1))
	<-e.Done()

	job, _ := e.Last()
	require.Equal(t, StatusCompleted, job.Status, job.Error)
	assert.Equal(t, FormatPNGZip, job.Format)
	assert.Equal(t, 20, job.Frames)
	assert.True(t, strings.HasSuffix(job.Path, ".zip"))
	assert.FileExists(t, job.Path)
}

func TestFrameCount(t *testing.T) {
	assert.Equal(t, 60, FrameCount(2, 30))
	assert.Equal(t, 61, FrameCount(2.01, 30))
	assert.Equal(t, 1, FrameCount(0.001, 30))
	assert.Equal(t, 15, FrameCount(0.5, 30))
}
