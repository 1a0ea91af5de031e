// Package catalog persists the studio's media library, saved projects and
// job records in SQLite, and runs the background ingest jobs that probe
// imported media.
package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

const (
	JobTypeProbe     = "probe"
	JobTypeThumbnail = "thumbnail"
	JobTypeExport    = "export"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusCancelled = "cancelled"
	JobStatusFailed    = "failed"
)

// Job is a persisted ingest or export job.
type Job struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	MediaID    string    `json:"media_id,omitempty"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	Format     string    `json:"format,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	Notice     string    `json:"notice,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Project is a named, saved editor state: a timeline snapshot plus the
// media items it references.
type Project struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Snapshot   timeline.Snapshot `json:"snapshot"`
	Media      []*media.Item     `json:"media"`
	StageRatio string            `json:"stage_ratio"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ProjectSummary is a project without its payload.
type ProjectSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

var extensionKinds = map[string]timeline.MediaKind{
	".mp4":  timeline.MediaVideo,
	".mov":  timeline.MediaVideo,
	".mkv":  timeline.MediaVideo,
	".webm": timeline.MediaVideo,
	".png":  timeline.MediaImage,
	".jpg":  timeline.MediaImage,
	".jpeg": timeline.MediaImage,
	".gif":  timeline.MediaImage,
	".bmp":  timeline.MediaImage,
	".webp": timeline.MediaImage,
	".tif":  timeline.MediaImage,
	".tiff": timeline.MediaImage,
	".mp3":  timeline.MediaAudio,
	".wav":  timeline.MediaAudio,
	".m4a":  timeline.MediaAudio,
	".aac":  timeline.MediaAudio,
	".ogg":  timeline.MediaAudio,
	".flac": timeline.MediaAudio,
}

// KindForFile returns the media kind of filename by extension.
func KindForFile(filename string) (timeline.MediaKind, bool) {
	kind, ok := extensionKinds[strings.ToLower(filepath.Ext(filename))]
	return kind, ok
}

func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
