package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

var (
	ErrUnsupportedFile = errors.New("unsupported media file")
	ErrProjectNotFound = errors.New("project not found")
	ErrEmptyName       = errors.New("project name is required")
)

// persistTimeout bounds job writes made from the export goroutine, which has
// no request context of its own.
const persistTimeout = 5 * time.Second

type CatalogService interface {
	ImportFile(ctx context.Context, path, name string) (*media.Item, error)
	ImportFolder(ctx context.Context, path string) ([]*media.Item, error)
	RegisterItem(ctx context.Context, item *media.Item) error
	RemoveMedia(ctx context.Context, id string) error
	LoadLibrary(ctx context.Context) error
	SaveProject(ctx context.Context, name string, snap timeline.Snapshot, stageRatio string) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*ProjectSummary, error)
	DeleteProject(ctx context.Context, id string) error
	ListExports(ctx context.Context, limit int) ([]*Job, error)
}

// Service keeps the SQLite catalog and the in-memory library in step.
type Service struct {
	repo    Repository
	library *media.Library
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(repo Repository, library *media.Library, logger *slog.Logger) *Service {
	if library == nil {
		library = media.NewLibrary()
	}
	return &Service{
		repo:    repo,
		library: library,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "catalog"),
		now:     time.Now,
	}
}

func (s *Service) Library() *media.Library {
	return s.library
}

// ImportFile adds a local media file to the library and queues its ingest
// jobs. Importing the same file twice returns the existing item.
func (s *Service) ImportFile(ctx context.Context, path, name string) (*media.Item, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file", ErrUnsupportedFile)
	}
	kind, ok := KindForFile(absPath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(absPath))
	}

	existing, err := s.repo.GetMediaByLocator(ctx, absPath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if _, ok := s.library.Get(existing.ID); !ok {
			s.library.Put(existing)
		}
		return existing, nil
	}

	if name == "" {
		name = filepath.Base(absPath)
	}
	item := &media.Item{
		ID:        NewID("media"),
		Kind:      kind,
		Name:      name,
		Locator:   absPath,
		Source:    media.SourceUpload,
		CreatedAt: s.now(),
	}
	if err := s.RegisterItem(ctx, item); err != nil {
		return nil, err
	}
	s.logger.Info("media imported", "media_id", item.ID, "kind", kind, "path", logging.SanitizePath(absPath))
	return item, nil
}

// ImportFolder imports every supported file below path, skipping hidden
// directories. Files that fail are logged and skipped.
func (s *Service) ImportFolder(ctx context.Context, path string) ([]*media.Item, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory")
	}

	var files []string
	err = filepath.WalkDir(absPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && p != absPath && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			if _, ok := KindForFile(d.Name()); ok {
				files = append(files, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	items := make([]*media.Item, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		it, err := s.ImportFile(ctx, f, "")
		if err != nil {
			s.logger.Warn("failed to import file", "path", logging.SanitizePath(f), "error", err)
			continue
		}
		items = append(items, it)
	}
	s.logger.Info("folder imported", "path", logging.SanitizePath(absPath), "count", len(items))
	return items, nil
}

// RegisterItem persists an item created by the editor (hold frames,
// extracted audio) or by an import, and queues probing for file-backed
// items whose size or length is still unknown.
func (s *Service) RegisterItem(ctx context.Context, item *media.Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	if err := s.repo.SaveMedia(ctx, item); err != nil {
		return fmt.Errorf("save media: %w", err)
	}
	s.library.Put(item)

	if item.Locator == "" {
		return nil
	}
	needsProbe := item.Kind == timeline.MediaImage && !item.HasDimensions() ||
		item.Kind != timeline.MediaImage && item.Duration <= 0
	if needsProbe {
		if _, err := s.queueJob(ctx, JobTypeProbe, item.ID); err != nil {
			return err
		}
	}
	if item.Kind == timeline.MediaVideo {
		if _, err := s.queueJob(ctx, JobTypeThumbnail, item.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) queueJob(ctx context.Context, jobType, mediaID string) (*Job, error) {
	now := s.now()
	job := &Job{
		ID:        NewID("job"),
		Type:      jobType,
		Status:    JobStatusPending,
		MediaID:   mediaID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create %s job: %w", jobType, err)
	}
	s.logger.Debug("job queued", "job_id", job.ID, "type", jobType, "media_id", mediaID)
	return job, nil
}

// RemoveMedia deletes an item from the catalog and the library. Presets are
// built in and cannot be removed.
func (s *Service) RemoveMedia(ctx context.Context, id string) error {
	it, ok := s.library.Get(id)
	if ok && it.IsPreset() {
		return fmt.Errorf("%w: %s is a preset", media.ErrItemNotFound, id)
	}
	stored, err := s.repo.GetMedia(ctx, id)
	if err != nil {
		return err
	}
	if !ok && stored == nil {
		return fmt.Errorf("%w: %s", media.ErrItemNotFound, id)
	}
	if err := s.repo.DeleteMedia(ctx, id); err != nil {
		return err
	}
	s.library.Remove(id)
	return nil
}

// LoadLibrary replaces the library's user items with the catalog contents.
func (s *Service) LoadLibrary(ctx context.Context) error {
	items, err := s.repo.ListMedia(ctx)
	if err != nil {
		return fmt.Errorf("list media: %w", err)
	}
	s.library.Replace(items)
	s.logger.Info("library loaded", "count", len(items))
	return nil
}

// SaveProject stores snap under name, replacing an existing project of the
// same name. The items the snapshot references are stored with it so the
// project can be opened on a catalog that no longer holds them.
func (s *Service) SaveProject(ctx context.Context, name string, snap timeline.Snapshot, stageRatio string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	p := &Project{
		ID:         NewID("proj"),
		Name:       name,
		Snapshot:   snap,
		Media:      s.referencedItems(snap),
		StageRatio: stageRatio,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	existing, err := s.repo.GetProjectByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.SaveProject(ctx, p); err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}
	s.logger.Info("project saved", "project_id", p.ID, "name", name, "media", len(p.Media))
	return p, nil
}

func (s *Service) referencedItems(snap timeline.Snapshot) []*media.Item {
	seen := make(map[string]bool)
	var items []*media.Item
	for _, ts := range snap.Tracks {
		for _, seg := range ts.Segments {
			if seen[seg.MediaRef] {
				continue
			}
			seen[seg.MediaRef] = true
			it, ok := s.library.Get(seg.MediaRef)
			if !ok || it.IsPreset() {
				continue
			}
			items = append(items, it)
		}
	}
	return items
}

// GetProject returns a project and merges its media into the library.
func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	for _, it := range p.Media {
		if _, ok := s.library.Get(it.ID); !ok {
			s.library.Put(it)
		}
	}
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]*ProjectSummary, error) {
	return s.repo.ListProjects(ctx)
}

func (s *Service) DeleteProject(ctx context.Context, id string) error {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return s.repo.DeleteProject(ctx, id)
}

// ExportUpdated records export progress. It implements export.Observer.
func (s *Service) ExportUpdated(j export.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	updated := j.FinishedAt
	if updated.IsZero() {
		updated = s.now()
	}
	job := &Job{
		ID:         j.ID,
		Type:       JobTypeExport,
		Status:     exportStatus(j.Status),
		Progress:   int(j.Progress() * 100),
		Error:      j.Error,
		Format:     string(j.Format),
		OutputPath: j.Path,
		Notice:     j.Notice,
		CreatedAt:  j.StartedAt,
		UpdatedAt:  updated,
	}
	if err := s.repo.SaveJob(ctx, job); err != nil {
		s.logger.Warn("failed to record export job", "export_id", j.ID, "error", err)
	}
}

func exportStatus(st export.Status) string {
	switch st {
	case export.StatusCompleted:
		return JobStatusCompleted
	case export.StatusCancelled:
		return JobStatusCancelled
	case export.StatusFailed:
		return JobStatusFailed
	default:
		return JobStatusRunning
	}
}

func (s *Service) ListExports(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, JobTypeExport, limit)
}
