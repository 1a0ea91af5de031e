// Package export renders a timeline into a deliverable media file. The
// playback clock paces the run; frames are sampled at fixed k/fps
// timestamps so the artifact does not depend on the speed multiplier.
package export

import (
	"errors"
	"time"
)

var (
	// ErrNothingToExport is returned when the timeline has no video segments.
	ErrNothingToExport = errors.New("nothing to export: add a video segment first")
	// ErrNoCaptureStream is returned when no frame sink could be opened. The
	// export is aborted and the timeline is left untouched.
	ErrNoCaptureStream = errors.New("no capture stream available")
	// ErrExportInProgress is returned by Start while another export runs.
	ErrExportInProgress = errors.New("an export is already running")
	// ErrUnknownFormat is returned for unsupported output formats.
	ErrUnknownFormat = errors.New("unknown export format")
)

// Format is a deliverable container.
type Format string

const (
	FormatWebM Format = "webm"
	FormatMP4  Format = "mp4"
	// FormatPNGZip is a zip archive of numbered PNG frames.
	FormatPNGZip Format = "png-zip"
)

// ParseFormat accepts "webm", "mp4" and "png-zip". Empty selects mp4.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "":
		return FormatMP4, nil
	case FormatWebM, FormatMP4, FormatPNGZip:
		return Format(s), nil
	}
	return "", ErrUnknownFormat
}

// Ext is the file extension including the dot.
func (f Format) Ext() string {
	if f == FormatPNGZip {
		return ".zip"
	}
	return "." + string(f)
}

// Status is the lifecycle state of an export job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the job has stopped.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Request configures one export.
type Request struct {
	Format Format `json:"format"`
	// Name overrides the suggested file name stem.
	Name string `json:"name,omitempty"`
	// Ratio overrides the configured stage ratio.
	Ratio string `json:"ratio,omitempty"`
}

// Job is the observable state of an export, from start to delivery.
type Job struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Format      Format    `json:"format"`
	Requested   Format    `json:"requested"`
	Speed       float64   `json:"speed"`
	FPS         int       `json:"fps"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	End         float64   `json:"end"`
	Frames      int       `json:"frames"`
	TotalFrames int       `json:"totalFrames"`
	Path        string    `json:"path,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Notice      string    `json:"notice,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
}

// Progress is the captured fraction in [0, 1].
func (j Job) Progress() float64 {
	if j.TotalFrames <= 0 {
		return 0
	}
	p := float64(j.Frames) / float64(j.TotalFrames)
	if p > 1 {
		return 1
	}
	return p
}

// Observer receives job updates from the capture goroutine. Calls are
// sequential per job.
type Observer interface {
	ExportUpdated(job Job)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(job Job)

func (f ObserverFunc) ExportUpdated(job Job) { f(job) }
