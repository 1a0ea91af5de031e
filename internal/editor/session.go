// Package editor hosts the editing session: one timeline, the media library
// it draws from, and the clock, compositor and exporter that play and render
// it. A Session is created explicitly, runs on a single loop goroutine and is
// torn down with Close; every public method hands its work to that loop, so
// edits land between ticks and never mid-frame.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibedstudio/studio-agent/internal/catalog"
	"github.com/vibedstudio/studio-agent/internal/compositor"
	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
	"github.com/vibedstudio/studio-agent/internal/playback"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

var (
	ErrExporting      = errors.New("an export is running")
	ErrClipboardEmpty = errors.New("clipboard is empty")
	ErrNoCatalog      = errors.New("no catalog configured")
	ErrNoLayer        = errors.New("no layer under the playhead")
	ErrNoDrag         = errors.New("no drag in progress")
	ErrTitleFixed     = errors.New("title text fills the stage and cannot be resized")
	ErrWrongKind      = errors.New("segment kind does not support this edit")
	ErrUnknownEffect  = errors.New("unknown effect")
)

const (
	// holdFrameDuration is the length of a captured still.
	holdFrameDuration  = 2.0
	defaultPreviewBase = 1280
	closeTimeout       = 10 * time.Second
)

// Catalog persists media items and projects. It may be nil, in which case
// generated items live only in the library and projects are unavailable.
type Catalog interface {
	RegisterItem(ctx context.Context, item *media.Item) error
	SaveProject(ctx context.Context, name string, snap timeline.Snapshot, stageRatio string) (*catalog.Project, error)
	GetProject(ctx context.Context, id string) (*catalog.Project, error)
}

// Publisher receives the session state whenever it changes.
type Publisher interface {
	Publish(update Update)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Update)

func (f PublisherFunc) Publish(u Update) { f(u) }

// Options configures a Session.
type Options struct {
	TickInterval time.Duration
	StageRatio   string
	// PreviewBase is the long edge of the preview stage in pixels.
	PreviewBase int
	// WorkDir holds generated media: extracted audio and hold frames.
	WorkDir string
	Export  export.Options
}

// Deps are the Session's collaborators. Frames, FFmpeg, Catalog, Sinks,
// Observer and Publisher may be nil.
type Deps struct {
	Library   *media.Library
	Resolver  *media.Resolver
	Frames    media.FrameSource
	FFmpeg    pipeline.FFmpeg
	Catalog   Catalog
	Sinks     export.SinkFactory
	Observer  export.Observer
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Session is one open editor. The fields from tl down are owned by the
// loop goroutine.
type Session struct {
	id        string
	opts      Options
	logger    *slog.Logger
	library   *media.Library
	resolver  *media.Resolver
	ff        pipeline.FFmpeg
	catalog   Catalog
	publisher Publisher
	observer  export.Observer
	now       func() time.Time

	loop     *playback.Loop
	exporter *export.Exporter
	comp     *compositor.Compositor
	audio    *media.AudioPool
	sched    *compositor.AudioScheduler

	runMu  sync.Mutex
	runCtx context.Context
	stop   context.CancelFunc
	done   chan struct{}

	tl        *timeline.Timeline
	clock     *playback.Clock
	view      *compositor.ViewTarget
	ratio     string
	pxPerSec  float64
	selection string
	clip      *clipboard
	drag      *activeDrag
	resumeAt  float64
	version   uint64
	published published
}

type published struct {
	version uint64
	time    float64
	state   playback.State
	export  string
}

// New creates a session with an empty timeline of two video and two audio
// tracks. It does not start the loop; call Run.
func New(opts Options, deps Deps) *Session {
	if opts.StageRatio == "" {
		opts.StageRatio = compositor.DefaultRatio
	}
	if opts.PreviewBase <= 0 {
		opts.PreviewBase = defaultPreviewBase
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "vibedstudio-work")
	}
	if deps.Library == nil {
		deps.Library = media.NewLibrary()
	}
	if deps.Resolver == nil {
		deps.Resolver = media.NewResolver(opts.WorkDir)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Session{
		id:        "ses-" + uuid.NewString()[:8],
		opts:      opts,
		library:   deps.Library,
		resolver:  deps.Resolver,
		ff:        deps.FFmpeg,
		catalog:   deps.Catalog,
		publisher: deps.Publisher,
		observer:  deps.Observer,
		now:       deps.Now,
		done:      make(chan struct{}),
		tl:        timeline.NewWithDefaultTracks(),
		clock:     playback.NewClock(),
		view:      compositor.NewViewTarget(),
		ratio:     opts.StageRatio,
		pxPerSec:  timeline.DefaultPxPerSec,
	}
	s.logger = logging.WithSessionID(logging.WithComponent(logging.OrDiscard(deps.Logger), "editor"), s.id)
	s.comp = compositor.New(s.library, deps.Frames, deps.Logger)
	s.audio = media.NewAudioPool(deps.Now)
	s.sched = compositor.NewAudioScheduler(s.audio)
	s.loop = playback.NewLoop(opts.TickInterval, s.tick, deps.Logger)

	var finisher export.Finisher
	if deps.FFmpeg != nil {
		finisher = deps.FFmpeg
	}
	sinks := deps.Sinks
	if sinks == nil {
		sinks = export.FileSinks{Encoders: deps.FFmpeg}
	}
	s.exporter = export.New(opts.Export, export.Deps{
		Renderer: s.comp,
		Sinks:    sinks,
		Finisher: finisher,
		Items:    s.library,
		Resolver: s.resolver,
		Observer: export.ObserverFunc(s.exportUpdated),
		Logger:   deps.Logger,
	})
	return s
}

// ID identifies the session in logs and state updates.
func (s *Session) ID() string { return s.id }

// Library is the media library the session draws from.
func (s *Session) Library() *media.Library { return s.library }

// Run drives the session until ctx is done or Close is called. It returns
// nil on cancellation so it composes with errgroup.
func (s *Session) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.stop != nil {
		s.runMu.Unlock()
		return fmt.Errorf("session %s already running", s.id)
	}
	runCtx, stop := context.WithCancel(ctx)
	s.runCtx, s.stop = runCtx, stop
	s.runMu.Unlock()
	defer close(s.done)

	s.logger.Info("session started", "ratio", s.ratio)
	err := s.loop.Run(runCtx)
	s.teardown()
	return err
}

// teardown runs after the loop exits, when no task can touch the session.
func (s *Session) teardown() {
	if s.clock.State() == playback.StateExporting {
		s.clock.Pause()
	}
	s.exporter.Cancel()
	s.sched.Stop()
	select {
	case <-s.exporter.Done():
	case <-time.After(closeTimeout):
		s.logger.Warn("export did not finish before shutdown")
	}
	s.logger.Info("session closed")
}

// Close stops the loop, cancels a running export and pauses all audio. It
// is safe to call more than once and before Run.
func (s *Session) Close() {
	s.runMu.Lock()
	stop := s.stop
	s.runMu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-s.done
}

// do runs fn on the loop goroutine and returns its error.
func (s *Session) do(ctx context.Context, fn func() error) error {
	var err error
	if loopErr := s.loop.Do(ctx, func() { err = fn() }); loopErr != nil {
		return loopErr
	}
	return err
}

// changed marks the timeline edited so the next publish carries it.
func (s *Session) changed() {
	s.version++
}

// clampPlayhead keeps the playhead inside a timeline that just got shorter.
// A running export keeps its own boundary.
func (s *Session) clampPlayhead() {
	if s.clock.State() == playback.StateExporting {
		return
	}
	s.clock.Seek(s.clock.Time(), s.tl.Duration())
}

func (s *Session) stage() compositor.Stage {
	return compositor.StageFor(s.ratio, s.opts.PreviewBase)
}

func (s *Session) snapTolerance() float64 {
	return timeline.SnapTolerance(s.pxPerSec)
}

// tick advances the clock, paces a running export and re-renders.
func (s *Session) tick(now time.Time) {
	exporting := s.clock.State() == playback.StateExporting
	tick := s.clock.Tick(now, s.tl.Duration())
	if exporting {
		s.exporter.Advance(tick.Time)
	}
	if tick.Finished {
		if tick.Exported {
			// Release whatever is left so the capture always completes.
			s.exporter.Advance(math.Inf(1))
			s.logger.Info("export capture reached the end", "time", tick.Time)
			s.clock.Seek(s.resumeAt, s.tl.Duration())
		} else {
			s.logger.Info("playback reached the end", "time", tick.Time)
		}
	}
	s.render()
}

// render projects the current time into the view and syncs audio.
func (s *Session) render() {
	t := s.clock.Time()
	frame := s.comp.Compose(s.tl, t, s.stage())
	if s.clock.State() == playback.StatePlaying {
		s.comp.Prefetch(s.tl, frame)
	}
	if err := s.comp.Render(context.Background(), frame, s.view, compositor.FetchBestEffort); err != nil {
		s.logger.Warn("preview render failed", "error", err)
	}
	s.sched.Sync(s.tl, t, s.clock.State() == playback.StatePlaying)
	s.publish(false)
}

// publish sends an update when anything visible changed since the last one.
func (s *Session) publish(force bool) {
	if s.publisher == nil {
		return
	}
	exportKey := ""
	if job, ok := s.exporter.Last(); ok {
		exportKey = fmt.Sprintf("%s/%s/%d", job.ID, job.Status, job.Frames)
	}
	cur := published{version: s.version, time: s.clock.Time(), state: s.clock.State(), export: exportKey}
	if !force && cur == s.published {
		return
	}
	withTimeline := force || cur.version != s.published.version
	s.published = cur
	s.publisher.Publish(s.update(withTimeline))
}

// exportUpdated runs on the capture goroutine.
func (s *Session) exportUpdated(job export.Job) {
	if s.observer != nil {
		s.observer.ExportUpdated(job)
	}
	if job.Status.Terminal() {
		s.loop.Post(func() { s.exportFinished(job) })
	}
}

// exportFinished runs on the loop once the artifact is delivered.
func (s *Session) exportFinished(job export.Job) {
	s.logger.Info("export finished", "export_id", job.ID, "status", job.Status, "notice", job.Notice)
	// a failed capture leaves the clock running toward the export end
	if s.clock.State() == playback.StateExporting {
		s.clock.Pause()
		s.clock.Seek(s.resumeAt, s.tl.Duration())
	}
	s.publish(true)
}

func (s *Session) baseContext() context.Context {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}
