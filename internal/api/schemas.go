package api

import (
	"errors"
	"math"
	"time"

	"github.com/vibedstudio/studio-agent/internal/catalog"
	"github.com/vibedstudio/studio-agent/internal/editor"
	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	UptimeS   int64  `json:"uptime_s"`
	SessionID string `json:"session_id"`
}

type StatusResponse struct {
	SessionID    string                  `json:"session_id"`
	State        string                  `json:"state"`
	Time         float64                 `json:"time"`
	Duration     float64                 `json:"duration"`
	StageRatio   string                  `json:"stage_ratio"`
	MediaCount   int                     `json:"media_count"`
	JobsRunning  int                     `json:"jobs_running"`
	RunnerPaused bool                    `json:"runner_paused"`
	Export       *export.Job             `json:"export,omitempty"`
	Pipeline     *PipelineStatusResponse `json:"pipeline,omitempty"`
}

type PipelineStatusResponse struct {
	FFmpegVersion string   `json:"ffmpeg_version,omitempty"`
	HasProbe      bool     `json:"has_probe"`
	HasWebM       bool     `json:"has_webm"`
	HasMP4        bool     `json:"has_mp4"`
	Formats       []string `json:"formats"`
	LastProbeAt   string   `json:"last_probe_at,omitempty"`
}

type AddTrackRequest struct {
	Kind timeline.TrackKind `json:"kind"`
}

type TracksResponse struct {
	Tracks []editor.TrackInfo `json:"tracks"`
}

type DropMediaRequest struct {
	MediaID string  `json:"media_id"`
	TrackID string  `json:"track_id"`
	Start   float64 `json:"start"`
}

type MoveSegmentRequest struct {
	TrackID string  `json:"track_id"`
	Start   float64 `json:"start"`
}

type TrimSegmentRequest struct {
	Edge  timeline.Edge `json:"edge"`
	Delta float64       `json:"delta"`
}

// SegmentPatch edits one segment. Absent fields are left alone; fields are
// applied in declaration order and the first failure stops the patch.
type SegmentPatch struct {
	Muted          *bool               `json:"muted,omitempty"`
	FadeIn         *timeline.Fade      `json:"fade_in,omitempty"`
	FadeOut        *timeline.Fade      `json:"fade_out,omitempty"`
	EffectKey      *string             `json:"effect_key,omitempty"`
	Transform      *timeline.Transform `json:"transform,omitempty"`
	ResetTransform bool                `json:"reset_transform,omitempty"`
	Text           *TextStylePatch     `json:"text,omitempty"`
	Box            *BoxRequest         `json:"box,omitempty"`
	ClearBox       bool                `json:"clear_box,omitempty"`
}

func (p SegmentPatch) empty() bool {
	return p.Muted == nil && p.FadeIn == nil && p.FadeOut == nil && p.EffectKey == nil &&
		p.Transform == nil && !p.ResetTransform && p.Text == nil && p.Box == nil && !p.ClearBox
}

type TextStylePatch struct {
	Text          *string  `json:"text,omitempty"`
	FontFamily    *string  `json:"font_family,omitempty"`
	FontSize      *float64 `json:"font_size,omitempty"`
	FontWeight    *int     `json:"font_weight,omitempty"`
	FontStyle     *string  `json:"font_style,omitempty"`
	Color         *string  `json:"color,omitempty"`
	Align         *string  `json:"align,omitempty"`
	Background    *string  `json:"background,omitempty"`
	Padding       *float64 `json:"padding,omitempty"`
	LineHeight    *float64 `json:"line_height,omitempty"`
	LetterSpacing *float64 `json:"letter_spacing,omitempty"`
	Underline     *bool    `json:"underline,omitempty"`
}

var errBadStyle = errors.New("invalid text style value")

func (p TextStylePatch) apply(s *timeline.TextStyle) error {
	positive := func(v *float64) bool { return v == nil || (*v > 0 && !math.IsInf(*v, 0)) }
	nonNegative := func(v *float64) bool { return v == nil || (*v >= 0 && !math.IsInf(*v, 0)) }
	if !positive(p.FontSize) || !positive(p.LineHeight) || !nonNegative(p.Padding) {
		return errBadStyle
	}
	if p.FontWeight != nil && (*p.FontWeight < 100 || *p.FontWeight > 900) {
		return errBadStyle
	}
	set(&s.Text, p.Text)
	set(&s.FontFamily, p.FontFamily)
	set(&s.FontSize, p.FontSize)
	set(&s.FontWeight, p.FontWeight)
	set(&s.FontStyle, p.FontStyle)
	set(&s.Color, p.Color)
	set(&s.Align, p.Align)
	set(&s.Background, p.Background)
	set(&s.Padding, p.Padding)
	set(&s.LineHeight, p.LineHeight)
	set(&s.LetterSpacing, p.LetterSpacing)
	set(&s.Underline, p.Underline)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

type BoxRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type SegmentResponse struct {
	Segment *timeline.Segment `json:"segment"`
	Box     *BoxRequest       `json:"box,omitempty"`
}

type TransitionRequest struct {
	Type timeline.TransitionType `json:"type"`
	// Either both segment ids, or a track and a time near their boundary.
	LeftID  string   `json:"left_id,omitempty"`
	RightID string   `json:"right_id,omitempty"`
	TrackID string   `json:"track_id,omitempty"`
	At      *float64 `json:"at,omitempty"`
}

type SeekRequest struct {
	Time float64 `json:"time"`
}

type SeekResponse struct {
	Time float64 `json:"time"`
}

type SelectRequest struct {
	SegmentID string `json:"segment_id"`
}

type ViewRequest struct {
	Zoom       *float64 `json:"zoom,omitempty"`
	StageRatio *string  `json:"stage_ratio,omitempty"`
}

type ViewResponse struct {
	Zoom        float64 `json:"zoom,omitempty"`
	StageWidth  float64 `json:"stage_width,omitempty"`
	StageHeight float64 `json:"stage_height,omitempty"`
}

type DragStartRequest struct {
	SegmentID string `json:"segment_id"`
	Modifier  bool   `json:"modifier"`
	Handle    bool   `json:"handle"`
}

type DragStartResponse struct {
	Mode string `json:"mode"`
}

type DragMoveRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type ImportMediaRequest struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

type ImportFolderRequest struct {
	Path string `json:"path"`
}

type MediaListResponse struct {
	Media []*media.Item `json:"media"`
}

type SaveProjectRequest struct {
	Name string `json:"name"`
}

type ProjectResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	StageRatio string `json:"stage_ratio,omitempty"`
	MediaCount int    `json:"media_count"`
	UpdatedAt  string `json:"updated_at"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type StartExportRequest struct {
	Format string `json:"format,omitempty"`
	Name   string `json:"name,omitempty"`
	Ratio  string `json:"ratio,omitempty"`
}

type ExportJobResponse struct {
	export.Job
	Progress float64 `json:"progress"`
}

type ExportsResponse struct {
	Exports []JobResponse `json:"exports"`
}

type JobResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	MediaID    string `json:"media_id,omitempty"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
	Format     string `json:"format,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	Notice     string `json:"notice,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type EDLRequest struct {
	Title string `json:"title,omitempty"`
	// OutputDir, when set, receives <title>.edl; otherwise the list is
	// returned inline.
	OutputDir string `json:"output_dir,omitempty"`
}

type EDLResponse struct {
	Status     string `json:"status"`
	OutputPath string `json:"output_path,omitempty"`
	EDL        string `json:"edl,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToResponse(p *catalog.Project) ProjectResponse {
	return ProjectResponse{
		ID:         p.ID,
		Name:       p.Name,
		StageRatio: p.StageRatio,
		MediaCount: len(p.Media),
		UpdatedAt:  p.UpdatedAt.Format(time.RFC3339),
	}
}

func SummaryToResponse(p *catalog.ProjectSummary) ProjectResponse {
	return ProjectResponse{
		ID:        p.ID,
		Name:      p.Name,
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		Type:       j.Type,
		Status:     j.Status,
		MediaID:    j.MediaID,
		Progress:   j.Progress,
		Error:      j.Error,
		Format:     j.Format,
		OutputPath: j.OutputPath,
		Notice:     j.Notice,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
}

func ExportToResponse(j export.Job) ExportJobResponse {
	return ExportJobResponse{Job: j, Progress: j.Progress()}
}
