package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

// thumbnailOffset is where in a video the poster frame is taken.
const thumbnailOffset = 1.0

// jobsPerTick bounds how many queued jobs one poll drains.
const jobsPerTick = 16

// Runner executes queued ingest jobs one at a time: probing imported files
// for duration and size, and rendering video thumbnails.
type Runner struct {
	service      *Service
	repo         Repository
	ff           pipeline.FFmpeg
	doctor       *pipeline.CachedDoctor
	resolver     *media.Resolver
	thumbDir     string
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo Repository, ff pipeline.FFmpeg, doctor *pipeline.CachedDoctor, resolver *media.Resolver, thumbDir string, logger *slog.Logger) *Runner {
	return &Runner{
		service:      service,
		repo:         repo,
		ff:           ff,
		doctor:       doctor,
		resolver:     resolver,
		thumbDir:     thumbDir,
		logger:       logging.WithComponent(logging.OrDiscard(logger), "ingest"),
		pollInterval: 2 * time.Second,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				for i := 0; i < jobsPerTick && ctx.Err() == nil && !r.paused.Load(); i++ {
					if !r.processNextJob(ctx) {
						break
					}
				}
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ThumbnailPath is where the poster frame of a video item is written.
func (r *Runner) ThumbnailPath(mediaID string) string {
	return filepath.Join(r.thumbDir, mediaID+".jpg")
}

// processNextJob runs the oldest pending job and reports whether one ran.
func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}

	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	r.logger.Info("processing job", "job_id", job.ID, "type", job.Type)

	item, err := r.repo.GetMedia(ctx, job.MediaID)
	if err != nil || item == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "media not found")
		return true
	}
	path, err := r.resolver.Resolve(item.Locator)
	if err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		return true
	}

	switch job.Type {
	case JobTypeProbe:
		r.processProbeJob(ctx, job, item, path)
	case JobTypeThumbnail:
		r.processThumbnailJob(ctx, job, item, path)
	default:
		r.logger.Warn("unknown job type", "type", job.Type)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "unknown job type")
	}
	return true
}

// requireFFmpeg fails job when the toolchain is missing.
func (r *Runner) requireFFmpeg(ctx context.Context, job *Job) bool {
	if r.ff == nil || r.doctor == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "ffmpeg not configured")
		return false
	}
	caps, err := r.doctor.Get(ctx)
	if err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, fmt.Sprintf("doctor probe failed: %v", err))
		return false
	}
	if !caps.HasProbe {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "ffprobe is not available")
		return false
	}
	return true
}

func (r *Runner) processProbeJob(ctx context.Context, job *Job, item *media.Item, path string) {
	if item.Kind != timeline.MediaImage && !r.requireFFmpeg(ctx, job) {
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")
	start := time.Now()

	info, err := media.Inspect(ctx, r.ff, item.Kind, path)
	if err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, truncateStr(fmt.Sprintf("probe failed: %v", err), 512))
		return
	}

	if err := r.repo.UpdateMediaProbe(ctx, item.ID, info.Duration, info.Width, info.Height); err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, fmt.Sprintf("save probe: %v", err))
		return
	}
	r.service.Library().UpdateProbe(item.ID, info.Duration, info.Width, info.Height)

	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	r.logger.Info("probe job completed", "job_id", job.ID, "media_id", item.ID,
		"duration", info.Duration, "width", info.Width, "height", info.Height, "elapsed", time.Since(start))
}

func (r *Runner) processThumbnailJob(ctx context.Context, job *Job, item *media.Item, path string) {
	if !r.requireFFmpeg(ctx, job) {
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")

	offset := thumbnailOffset
	if item.Duration > 0 && item.Duration < 2*thumbnailOffset {
		offset = item.Duration / 2
	}
	if err := os.MkdirAll(r.thumbDir, 0755); err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, fmt.Sprintf("thumbnail dir: %v", err))
		return
	}
	if err := r.ff.GenerateThumbnail(ctx, path, r.ThumbnailPath(item.ID), offset); err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, truncateStr(fmt.Sprintf("thumbnail failed: %v", err), 512))
		return
	}

	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	r.logger.Info("thumbnail job completed", "job_id", job.ID, "media_id", item.ID)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

func (r *Runner) GetActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListJobs(ctx, "", 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Type != JobTypeExport && (j.Status == JobStatusRunning || j.Status == JobStatusPending) {
			count++
		}
	}
	return count
}
