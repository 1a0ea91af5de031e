package catalog

import (
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vibedstudio/studio-agent/internal/db"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
)

type fakeFFmpeg struct {
	pipeline.Unavailable

	probeCalled atomic.Int32
	thumbCalled atomic.Int32

	probe    *pipeline.ProbeResult
	probeErr error
	thumbErr error
}

func (f *fakeFFmpeg) Probe(ctx context.Context, path string) (*pipeline.ProbeResult, error) {
	f.probeCalled.Add(1)
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.probe, nil
}

func (f *fakeFFmpeg) GenerateThumbnail(ctx context.Context, path, outPath string, offset float64) error {
	f.thumbCalled.Add(1)
	if f.thumbErr != nil {
		return f.thumbErr
	}
	return os.WriteFile(outPath, []byte("jpeg"), 0644)
}

type fakeDoctorRunner struct {
	caps *pipeline.Capabilities
}

func (f *fakeDoctorRunner) RunDoctor(ctx context.Context) (*pipeline.Capabilities, error) {
	if f.caps == nil {
		return nil, pipeline.ErrFFmpegUnavailable
	}
	c := *f.caps
	c.ProbedAt = time.Now()
	return &c, nil
}

type runnerFixture struct {
	runner  *Runner
	repo    Repository
	service *Service
	library *media.Library
	dir     string
}

func setupRunnerTest(t *testing.T, ff pipeline.FFmpeg, caps *pipeline.Capabilities) *runnerFixture {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.New(filepath.Join(tmpDir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	repo := NewRepository(database.Conn())
	lib := media.NewLibrary()
	svc := NewService(repo, lib, logger)

	doctor := pipeline.NewCachedDoctor(&fakeDoctorRunner{caps: caps}, logger)
	runner := NewRunner(svc, repo, ff, doctor, media.NewResolver(tmpDir), filepath.Join(tmpDir, "thumbs"), logger)
	return &runnerFixture{runner: runner, repo: repo, service: svc, library: lib, dir: tmpDir}
}

func (f *runnerFixture) importFile(t *testing.T, name string, write func(path string)) *media.Item {
	t.Helper()
	path := filepath.Join(f.dir, "media", name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	write(path)
	item, err := f.service.ImportFile(context.Background(), path, "")
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	return item
}

func (f *runnerFixture) drain(t *testing.T) []*Job {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10 && f.runner.processNextJob(ctx); i++ {
	}
	jobs, err := f.repo.ListJobs(ctx, "", 100)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	return jobs
}

func writeBytes(path string) {
	os.WriteFile(path, []byte("not really a video"), 0644)
}

var fullCaps = &pipeline.Capabilities{FFmpegVersion: "7.0", HasProbe: true, HasWebM: true, HasMP4: true}

func TestRunner_ProbeAndThumbnailVideo(t *testing.T) {
	ff := &fakeFFmpeg{probe: &pipeline.ProbeResult{Duration: 12.5, Width: 1920, Height: 1080, Codec: "h264", AudioCodec: "aac"}}
	f := setupRunnerTest(t, ff, fullCaps)
	item := f.importFile(t, "clip.mp4", writeBytes)

	jobs := f.drain(t)
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.Status != JobStatusCompleted {
			t.Errorf("%s job status = %s (%s), want completed", j.Type, j.Status, j.Error)
		}
		if j.Progress != 100 {
			t.Errorf("%s job progress = %d, want 100", j.Type, j.Progress)
		}
	}

	got, _ := f.library.Get(item.ID)
	if got.Duration != 12.5 || got.Width != 1920 || got.Height != 1080 {
		t.Errorf("library item = %.1fs %dx%d, want probed values", got.Duration, got.Width, got.Height)
	}
	stored, _ := f.repo.GetMedia(context.Background(), item.ID)
	if stored.Duration != 12.5 || stored.Width != 1920 {
		t.Errorf("stored item = %.1fs %dpx, want probed values", stored.Duration, stored.Width)
	}

	if _, err := os.Stat(f.runner.ThumbnailPath(item.ID)); err != nil {
		t.Errorf("thumbnail not written: %v", err)
	}
	if ff.thumbCalled.Load() != 1 {
		t.Errorf("thumbnail calls = %d, want 1", ff.thumbCalled.Load())
	}
}

func TestRunner_ProbeImageWithoutFFmpeg(t *testing.T) {
	f := setupRunnerTest(t, nil, nil)
	item := f.importFile(t, "still.png", func(path string) {
		out, _ := os.Create(path)
		defer out.Close()
		png.Encode(out, image.NewRGBA(image.Rect(0, 0, 64, 36)))
	})

	jobs := f.drain(t)
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Status != JobStatusCompleted {
		t.Fatalf("probe status = %s (%s), want completed", jobs[0].Status, jobs[0].Error)
	}

	got, _ := f.library.Get(item.ID)
	if got.Width != 64 || got.Height != 36 {
		t.Errorf("image size = %dx%d, want 64x36", got.Width, got.Height)
	}
}

func TestRunner_NoFFmpegFailsVideoJobs(t *testing.T) {
	f := setupRunnerTest(t, nil, nil)
	f.importFile(t, "clip.mov", writeBytes)

	for _, j := range f.drain(t) {
		if j.Status != JobStatusFailed {
			t.Errorf("%s job status = %s, want failed", j.Type, j.Status)
		}
		if j.Error != "ffmpeg not configured" {
			t.Errorf("%s job error = %q", j.Type, j.Error)
		}
	}
}

func TestRunner_DoctorWithoutProbe(t *testing.T) {
	ff := &fakeFFmpeg{}
	f := setupRunnerTest(t, ff, &pipeline.Capabilities{FFmpegVersion: "7.0"})
	f.importFile(t, "song.wav", writeBytes)

	jobs := f.drain(t)
	if len(jobs) != 1 || jobs[0].Status != JobStatusFailed {
		t.Fatalf("jobs = %+v, want one failed", jobs)
	}
	if ff.probeCalled.Load() != 0 {
		t.Error("probe should not run without ffprobe")
	}
}

func TestRunner_ProbeErrorIsRecorded(t *testing.T) {
	ff := &fakeFFmpeg{probeErr: errors.New("moov atom not found")}
	f := setupRunnerTest(t, ff, fullCaps)
	f.importFile(t, "song.m4a", writeBytes)

	jobs := f.drain(t)
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Status != JobStatusFailed || jobs[0].Error != "probe failed: moov atom not found" {
		t.Errorf("job = %s %q", jobs[0].Status, jobs[0].Error)
	}
}

func TestRunner_MissingFileFailsJob(t *testing.T) {
	ff := &fakeFFmpeg{probe: &pipeline.ProbeResult{Duration: 1}}
	f := setupRunnerTest(t, ff, fullCaps)
	item := f.importFile(t, "gone.mp3", writeBytes)
	os.Remove(item.Locator)

	jobs := f.drain(t)
	if len(jobs) != 1 || jobs[0].Status != JobStatusFailed {
		t.Fatalf("jobs = %+v, want one failed", jobs)
	}
	if ff.probeCalled.Load() != 0 {
		t.Error("probe should not run for a missing file")
	}
}

func TestRunner_PausedSkipsWork(t *testing.T) {
	ff := &fakeFFmpeg{probe: &pipeline.ProbeResult{Duration: 3}}
	f := setupRunnerTest(t, ff, fullCaps)
	f.runner.pollInterval = 10 * time.Millisecond
	f.importFile(t, "song.ogg", writeBytes)

	f.runner.Pause()
	if !f.runner.IsPaused() {
		t.Fatal("runner should report paused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.runner.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if ff.probeCalled.Load() != 0 {
		t.Error("paused runner processed a job")
	}
	if got := f.runner.GetActiveJobCount(context.Background()); got != 1 {
		t.Errorf("active jobs = %d, want 1", got)
	}

	f.runner.Resume()
	deadline := time.Now().Add(2 * time.Second)
	for ff.probeCalled.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if ff.probeCalled.Load() != 1 {
		t.Errorf("probe calls = %d, want 1", ff.probeCalled.Load())
	}
	if f.runner.IsRunning() {
		t.Error("runner should stop with its context")
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("abcdef", 3); got != "def" {
		t.Errorf("truncateStr() = %q, want tail", got)
	}
	if got := truncateStr("ab", 3); got != "ab" {
		t.Errorf("truncateStr() = %q, want unchanged", got)
	}
}
