package catalog

import (
	"context"
	"path/filepath"

	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/watcher"
)

// IsMediaFile reports whether path has an importable extension. It is the
// filter for watched media folders.
func IsMediaFile(path string) bool {
	_, ok := KindForFile(path)
	return ok
}

// MediaFolderChanged keeps the catalog in step with a watched folder. New
// files are imported, changed files are probed again. A deleted file keeps
// its item so open timelines still reference it; its layers render as
// placeholders until the file returns.
func (s *Service) MediaFolderChanged(ctx context.Context, path string, ev watcher.EventType) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return
	}
	logPath := logging.SanitizePath(absPath)

	switch ev {
	case watcher.EventCreate:
		if _, err := s.ImportFile(ctx, absPath, ""); err != nil {
			s.logger.Warn("failed to import watched file", "path", logPath, "error", err)
		}
	case watcher.EventModify:
		existing, err := s.repo.GetMediaByLocator(ctx, absPath)
		if err != nil {
			s.logger.Warn("failed to look up watched file", "path", logPath, "error", err)
			return
		}
		if existing == nil {
			if _, err := s.ImportFile(ctx, absPath, ""); err != nil {
				s.logger.Warn("failed to import watched file", "path", logPath, "error", err)
			}
			return
		}
		if _, err := s.queueJob(ctx, JobTypeProbe, existing.ID); err != nil {
			s.logger.Warn("failed to queue probe", "media_id", existing.ID, "error", err)
		}
	case watcher.EventDelete:
		s.logger.Info("watched media file removed", "path", logPath)
	}
}
