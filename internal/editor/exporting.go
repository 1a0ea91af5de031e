package editor

import (
	"context"
	"fmt"
	"strings"

	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/playback"
)

// StartExport begins rendering the timeline into a file. The clock rewinds
// to 0 and runs at the export speed; the playhead is restored when the
// export ends. The export works on a copy, so edits made meanwhile do not
// reach the artifact.
func (s *Session) StartExport(ctx context.Context, req export.Request) (export.Job, error) {
	var job export.Job
	err := s.do(ctx, func() error {
		if s.clock.State() == playback.StateExporting {
			return export.ErrExportInProgress
		}
		if req.Ratio == "" {
			req.Ratio = s.ratio
		}
		resumeAt := s.clock.Time()
		var err error
		if job, err = s.exporter.Start(s.baseContext(), s.tl, s.clock, req); err != nil {
			return err
		}
		s.resumeAt = resumeAt
		s.drag = nil
		s.render()
		s.publish(true)
		return nil
	})
	return job, err
}

// CancelExport stops a running export. The frames captured so far are
// delivered as a short artifact. It reports whether an export was running.
func (s *Session) CancelExport(ctx context.Context) (bool, error) {
	var cancelled bool
	err := s.do(ctx, func() error {
		cancelled = s.cancelExport()
		return nil
	})
	return cancelled, err
}

func (s *Session) cancelExport() bool {
	if s.clock.State() == playback.StateExporting {
		s.clock.Pause()
		s.clock.Seek(s.resumeAt, s.tl.Duration())
	}
	cancelled := s.exporter.Cancel()
	s.render()
	return cancelled
}

// ExportJob returns the running or most recent export.
func (s *Session) ExportJob() (export.Job, bool) {
	return s.exporter.Last()
}

// WaitExport blocks until the running export is delivered and returns its
// final state.
func (s *Session) WaitExport(ctx context.Context) (export.Job, error) {
	select {
	case <-s.exporter.Done():
	case <-ctx.Done():
		return export.Job{}, ctx.Err()
	}
	job, ok := s.exporter.Last()
	if !ok {
		return export.Job{}, export.ErrNothingToExport
	}
	return job, nil
}

// ExportEDL renders the video and audio tracks as a CMX3600 edit decision
// list.
func (s *Session) ExportEDL(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = export.FilenamePrefix
	}
	fps := s.opts.Export.FPS
	if fps <= 0 {
		fps = export.DefaultFPS
	}
	var edl string
	err := s.do(ctx, func() error {
		events := export.EDLEvents(s.tl, s.library, s.resolver)
		if len(events) == 0 {
			return fmt.Errorf("%w: no video or audio segments", export.ErrNothingToExport)
		}
		edl = export.GenerateEDL(events, title, float64(fps))
		return nil
	})
	return edl, err
}
