// Package pipeline runs ffmpeg and ffprobe as subprocesses: media probing,
// frame and audio extraction, the export encoder and the mp4 transcode.
package pipeline

import (
	"errors"
	"time"
)

// ErrFFmpegUnavailable is returned by every operation when no ffmpeg binary
// could be located.
var ErrFFmpegUnavailable = errors.New("ffmpeg is not available")

// ErrNoAudioStream is returned by ExtractAudio for inputs without audio.
var ErrNoAudioStream = errors.New("no audio track found in this clip")

// Capabilities reports what the installed ffmpeg build can do.
type Capabilities struct {
	FFmpegVersion  string          `json:"ffmpeg_version"`
	FFprobeVersion string          `json:"ffprobe_version,omitempty"`
	Encoders       map[string]bool `json:"encoders"`

	HasProbe bool      `json:"has_probe"`
	HasWebM  bool      `json:"has_webm"`
	HasMP4   bool      `json:"has_mp4"`
	ProbedAt time.Time `json:"probed_at"`
}

// ExportFormats lists the export formats this build can deliver. An mp4
// export is captured as webm first, so it needs both encoders. PNG archives
// are written in-process and are always available.
func (c *Capabilities) ExportFormats() []string {
	var formats []string
	if c != nil && c.HasWebM {
		formats = append(formats, "webm")
		if c.HasMP4 {
			formats = append(formats, "mp4")
		}
	}
	return append(formats, "png-zip")
}

// RunResult is the structured outcome of one subprocess execution.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ProbeResult is the subset of ffprobe output the editor uses.
type ProbeResult struct {
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Codec       string  `json:"codec,omitempty"`
	Bitrate     int64   `json:"bitrate,omitempty"`
	FrameRate   float64 `json:"frame_rate,omitempty"`
	AudioCodec  string  `json:"audio_codec,omitempty"`
	AudioSample int     `json:"audio_sample,omitempty"`
}

// HasVideo reports whether a video stream was found.
func (p *ProbeResult) HasVideo() bool { return p.Codec != "" }

// HasAudio reports whether an audio stream was found.
func (p *ProbeResult) HasAudio() bool { return p.AudioCodec != "" }

// EncoderSpec describes a raw RGBA frame stream piped into ffmpeg.
type EncoderSpec struct {
	Width      int
	Height     int
	FPS        int
	OutputPath string
}

// ffprobeOutput mirrors `ffprobe -of json` for the entries we request.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
}
