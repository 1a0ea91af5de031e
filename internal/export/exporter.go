package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibedstudio/studio-agent/internal/compositor"
	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

const (
	DefaultFPS   = 30
	DefaultSpeed = 4.0
)

// Renderer composes and rasterizes frames.
type Renderer interface {
	Compose(tl *timeline.Timeline, t float64, stage compositor.Stage) *compositor.Frame
	Render(ctx context.Context, frame *compositor.Frame, target compositor.RenderTarget, mode compositor.FetchMode) error
}

// Pacer is the clock that paces an export.
type Pacer interface {
	StartExport(end, speed float64)
}

// Finisher post-processes an intermediate webm.
type Finisher interface {
	MuxAudio(ctx context.Context, videoPath string, clips []pipeline.AudioClip, outPath string) (pipeline.RunResult, error)
	Transcode(ctx context.Context, inPath, outPath string) (pipeline.RunResult, error)
}

// Options configures an Exporter.
type Options struct {
	Dir   string
	FPS   int
	Base  int
	Ratio string
	// Speed is the capture speed of mp4 exports. Other formats run at 1x.
	Speed float64
}

// Deps are the Exporter's collaborators. Finisher, Resolver and Observer
// may be nil.
type Deps struct {
	Renderer Renderer
	Sinks    SinkFactory
	Finisher Finisher
	Items    compositor.ItemLookup
	Resolver *media.Resolver
	Observer Observer
	Logger   *slog.Logger
}

// Exporter runs one export at a time. Start, Advance and Cancel are called
// from the session loop; capture runs on its own goroutine against a frozen
// copy of the timeline, so later edits never reach a running export.
type Exporter struct {
	opts     Options
	renderer Renderer
	sinks    SinkFactory
	finisher Finisher
	items    compositor.ItemLookup
	resolver *media.Resolver
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	run  *run
	last Job
}

type run struct {
	mu        sync.Mutex
	job       Job
	due       float64
	cancelled bool
	wake      chan struct{}
	done      chan struct{}

	tl     *timeline.Timeline
	stage  compositor.Stage
	sink   FrameSink
	audio  []pipeline.AudioClip
	logger *slog.Logger
}

func New(opts Options, deps Deps) *Exporter {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.Speed <= 0 {
		opts.Speed = DefaultSpeed
	}
	if opts.Ratio == "" {
		opts.Ratio = compositor.DefaultRatio
	}
	return &Exporter{
		opts:     opts,
		renderer: deps.Renderer,
		sinks:    deps.Sinks,
		finisher: deps.Finisher,
		items:    deps.Items,
		resolver: deps.Resolver,
		observer: deps.Observer,
		logger:   logging.WithComponent(logging.OrDiscard(deps.Logger), "export"),
		now:      time.Now,
	}
}

// SpeedFor is the capture speed for format.
func (e *Exporter) SpeedFor(format Format) float64 {
	if format == FormatMP4 {
		return e.opts.Speed
	}
	return 1
}

// Start begins exporting tl and starts pacer at the export speed. ctx bounds
// the capture goroutine, not just this call.
func (e *Exporter) Start(ctx context.Context, tl *timeline.Timeline, pacer Pacer, req Request) (Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil {
		return Job{}, ErrExportInProgress
	}
	format, err := ParseFormat(string(req.Format))
	if err != nil {
		return Job{}, err
	}
	end := tl.MaxEnd(timeline.MediaVideo)
	if end <= 0 {
		return Job{}, ErrNothingToExport
	}

	frozen := timeline.New()
	snap := tl.Snapshot()
	if err := frozen.Restore(&snap, nil); err != nil {
		return Job{}, fmt.Errorf("freeze timeline: %w", err)
	}

	ratio := req.Ratio
	if ratio == "" {
		ratio = e.opts.Ratio
	}
	w, h := compositor.RasterSize(ratio, e.opts.Base)
	job := Job{
		ID:          "exp-" + uuid.NewString(),
		Status:      StatusRunning,
		Format:      format,
		Requested:   format,
		Speed:       e.SpeedFor(format),
		FPS:         e.opts.FPS,
		Width:       w,
		Height:      h,
		End:         end,
		TotalFrames: FrameCount(end, e.opts.FPS),
		StartedAt:   e.now(),
	}
	job.Filename = SuggestedFilename(req.Name, format, job.StartedAt)
	logger := logging.WithExportID(e.logger, job.ID)

	intermediate := FormatWebM
	if format == FormatPNGZip {
		intermediate = FormatPNGZip
	}
	sink, err := e.sinks.OpenSink(ctx, intermediate, SinkSpec{
		Width:  w,
		Height: h,
		FPS:    e.opts.FPS,
		Path:   filepath.Join(e.opts.Dir, job.ID+intermediate.Ext()),
	})
	if err != nil {
		logger.Error("export aborted: no capture stream", "error", err)
		return Job{}, fmt.Errorf("%w: %v", ErrNoCaptureStream, err)
	}

	r := &run{
		job:    job,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		tl:     frozen,
		stage:  compositor.StageFor(ratio, e.opts.Base),
		sink:   sink,
		audio:  e.audioClips(frozen, end),
		logger: logger,
	}
	e.run = r
	e.last = job
	if pacer != nil {
		pacer.StartExport(end, job.Speed)
	}

	logger.Info("export started",
		"format", format,
		"end", end,
		"speed", job.Speed,
		"frames", job.TotalFrames,
		"size", fmt.Sprintf("%dx%d", w, h),
	)
	go e.capture(ctx, r)
	return job, nil
}

// FrameCount is the number of frames sampled at k/fps in [0, end).
func FrameCount(end float64, fps int) int {
	n := int(math.Ceil(end*float64(fps) - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

// Advance releases every frame whose timestamp is at or before t.
func (e *Exporter) Advance(t float64) {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	if t > r.due {
		r.due = t
	}
	r.mu.Unlock()
	r.signal()
}

// Cancel stops the running export. Captured frames are flushed into a
// valid short artifact. It reports whether an export was running and is
// safe to call repeatedly.
func (e *Exporter) Cancel() bool {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return false
	}
	r.mu.Lock()
	already := r.cancelled
	r.cancelled = true
	r.mu.Unlock()
	r.signal()
	if !already {
		r.logger.Info("export cancelled")
	}
	return true
}

// Active returns the running job.
func (e *Exporter) Active() (Job, bool) {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return Job{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job, true
}

// Last returns the most recent job, running or finished.
func (e *Exporter) Last() (Job, bool) {
	if job, ok := e.Active(); ok {
		return job, true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.last.ID != ""
}

// Done is closed when the running export has been delivered. It returns a
// closed channel when nothing runs.
func (e *Exporter) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.run.done
}

func (r *run) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// waitDue blocks until frame time t is released. It returns false when the
// export is cancelled or ctx ends.
func (r *run) waitDue(ctx context.Context, t float64) bool {
	for {
		r.mu.Lock()
		cancelled, due := r.cancelled, r.due
		end := r.job.End
		r.mu.Unlock()
		if cancelled {
			return false
		}
		if due >= end || t <= due+1e-9 {
			return true
		}
		select {
		case <-r.wake:
		case <-ctx.Done():
			return false
		}
	}
}

func (e *Exporter) capture(ctx context.Context, r *run) {
	defer close(r.done)
	e.notify(r.job)

	fps := float64(r.job.FPS)
	raster := compositor.NewRaster(r.job.Width, r.job.Height)
	every := max(1, r.job.FPS/2)

	var captureErr error
	for k := 0; k < r.job.TotalFrames; k++ {
		t := float64(k) / fps
		if !r.waitDue(ctx, t) {
			break
		}
		frame := e.renderer.Compose(r.tl, t, r.stage)
		if err := e.renderer.Render(ctx, frame, raster, compositor.FetchBlocking); err != nil {
			captureErr = fmt.Errorf("render frame %d: %w", k, err)
			break
		}
		if err := r.sink.WriteFrame(raster.Image()); err != nil {
			captureErr = fmt.Errorf("capture frame %d: %w", k, err)
			break
		}
		r.mu.Lock()
		r.job.Frames = k + 1
		job := r.job
		r.mu.Unlock()
		if (k+1)%every == 0 {
			e.notify(job)
		}
	}

	artifact, closeErr := r.sink.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("finalize capture: %w", closeErr)
	}
	job := e.deliver(ctx, r, artifact, errors.Join(captureErr, closeErr))

	e.mu.Lock()
	e.run = nil
	e.last = job
	e.mu.Unlock()
	e.notify(job)
}

// deliver post-processes the captured artifact and settles the job.
func (e *Exporter) deliver(ctx context.Context, r *run, art Artifact, captureErr error) Job {
	r.mu.Lock()
	job := r.job
	cancelled := r.cancelled
	r.mu.Unlock()

	job.Frames = art.Frames
	job.Format = art.Format
	job.Path = art.Path
	job.FinishedAt = e.now()

	switch {
	case captureErr != nil:
		job.Status = StatusFailed
		job.Error = captureErr.Error()
		r.logger.Error("export failed", "error", captureErr, "frames", art.Frames)
		return job
	case cancelled || ctx.Err() != nil:
		job.Status = StatusCancelled
	default:
		job.Status = StatusCompleted
	}

	if art.Format == FormatWebM && art.Path != "" && art.Frames > 0 && ctx.Err() == nil {
		job = e.finishVideo(ctx, r, job)
	}
	if job.Path != "" {
		job = e.place(r, job)
	}

	r.logger.Info("export delivered",
		"status", job.Status,
		"format", job.Format,
		"frames", job.Frames,
		"path", logging.SanitizePath(job.Path),
		"elapsed", job.FinishedAt.Sub(job.StartedAt),
	)
	return job
}

// finishVideo mixes audio under the captured video and converts it to mp4
// when requested. Either step failing keeps the previous file and records a
// notice.
func (e *Exporter) finishVideo(ctx context.Context, r *run, job Job) Job {
	var notices []string
	if len(r.audio) > 0 {
		if e.finisher == nil {
			notices = append(notices, "audio could not be mixed; exported without sound")
		} else {
			mixed := trimExt(job.Path) + ".mix.webm"
			res, err := e.finisher.MuxAudio(ctx, job.Path, r.audio, mixed)
			if err == nil && res.IsSuccess() {
				os.Remove(job.Path)
				job.Path = mixed
			} else {
				r.logger.Warn("audio mix failed, keeping silent video", "error", err, "stderr", res.StderrTail)
				os.Remove(mixed)
				notices = append(notices, "audio could not be mixed; exported without sound")
			}
		}
	}

	if job.Requested == FormatMP4 {
		if e.finisher == nil {
			notices = append(notices, "mp4 conversion is unavailable; delivered webm instead")
		} else {
			out := trimExt(job.Path) + ".mp4"
			res, err := e.finisher.Transcode(ctx, job.Path, out)
			if err == nil && res.IsSuccess() {
				os.Remove(job.Path)
				job.Path = out
				job.Format = FormatMP4
			} else {
				r.logger.Warn("transcode failed, delivering webm", "error", err, "stderr", res.StderrTail)
				os.Remove(out)
				notices = append(notices, "mp4 conversion is unavailable; delivered webm instead")
			}
		}
	}
	if len(notices) > 0 {
		job.Notice = strings.Join(notices, "; ")
	}
	return job
}

// place renames the artifact to its suggested filename in the export dir.
func (e *Exporter) place(r *run, job Job) Job {
	job.Filename = SuggestedFilename(trimExt(job.Filename), job.Format, job.StartedAt)
	final := filepath.Join(filepath.Dir(job.Path), job.Filename)
	if final == job.Path {
		return job
	}
	if _, err := os.Stat(final); err == nil {
		final = filepath.Join(filepath.Dir(job.Path), trimExt(job.Filename)+"-"+job.ID[len(job.ID)-8:]+job.Format.Ext())
	}
	if err := os.Rename(job.Path, final); err != nil {
		r.logger.Warn("could not rename export", "error", err)
		job.Filename = filepath.Base(job.Path)
		return job
	}
	job.Path = final
	job.Filename = filepath.Base(final)
	return job
}

// audioClips collects the unmuted audio segments that start before end.
func (e *Exporter) audioClips(tl *timeline.Timeline, end float64) []pipeline.AudioClip {
	if e.items == nil || e.resolver == nil {
		return nil
	}
	var clips []pipeline.AudioClip
	for _, track := range tl.Tracks() {
		if track.Kind != timeline.TrackAudio {
			continue
		}
		for _, seg := range track.Segments() {
			if seg.Muted || seg.Start >= end {
				continue
			}
			item, ok := e.items.Get(seg.MediaRef)
			if !ok {
				continue
			}
			path, err := e.resolver.Resolve(item.Locator)
			if err != nil {
				e.logger.Warn("audio segment skipped in export", "segment_id", seg.ID, "error", err)
				continue
			}
			clips = append(clips, pipeline.AudioClip{
				Path:     path,
				Start:    seg.Start,
				Duration: math.Min(seg.Duration, end-seg.Start),
			})
		}
	}
	return clips
}

func (e *Exporter) notify(job Job) {
	if e.observer != nil {
		e.observer.ExportUpdated(job)
	}
}

func trimExt(path string) string {
	return path[:len(path)-len(filepath.Ext(path))]
}
