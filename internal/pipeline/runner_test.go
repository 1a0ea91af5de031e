package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	got := buf.String()
	if len(got) > 10 {
		t.Errorf("buffer length %d exceeds limit 10", len(got))
	}
	if want := " test data"; got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestLimitedWriter_ExactLimit(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 5}

	n, err := lw.Write([]byte("12345"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 5 {
		t.Errorf("Write returned %d, want 5", n)
	}
	if buf.String() != "12345" {
		t.Errorf("got %q, want %q", buf.String(), "12345")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestResolveBinary_PreferredNotFound(t *testing.T) {
	if _, err := resolveBinary("/nonexistent/ffmpeg999", "ffmpeg"); err == nil {
		t.Fatal("expected error for nonexistent binary")
	}
}

func TestNewRunner_MissingFFmpeg(t *testing.T) {
	cfg := DefaultConfig(nil)
	cfg.FFmpegPath = "/nonexistent/ffmpeg999"
	_, err := NewRunner(cfg)
	if !errors.Is(err, ErrFFmpegUnavailable) {
		t.Fatalf("NewRunner() error = %v, want ErrFFmpegUnavailable", err)
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"},
			{"codec_type": "audio", "codec_name": "aac", "sample_rate": "48000"}
		],
		"format": {"duration": "12.480000", "bit_rate": "5000000"}
	}`)

	res, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if res.Duration != 12.48 {
		t.Errorf("Duration = %v, want 12.48", res.Duration)
	}
	if res.Width != 1920 || res.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", res.Width, res.Height)
	}
	if !res.HasVideo() || !res.HasAudio() {
		t.Errorf("HasVideo=%v HasAudio=%v, want both", res.HasVideo(), res.HasAudio())
	}
	if res.AudioSample != 48000 {
		t.Errorf("AudioSample = %d, want 48000", res.AudioSample)
	}
	if res.FrameRate < 29.96 || res.FrameRate > 29.98 {
		t.Errorf("FrameRate = %v, want ~29.97", res.FrameRate)
	}
}

func TestParseProbe_AudioOnly(t *testing.T) {
	res, err := parseProbe([]byte(`{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"3.5"}}`))
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if res.HasVideo() {
		t.Error("audio-only file reported a video stream")
	}
	if res.Duration != 3.5 {
		t.Errorf("Duration = %v, want 3.5", res.Duration)
	}
}

func TestParseProbe_Invalid(t *testing.T) {
	if _, err := parseProbe([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"24", 24},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseVersion(t *testing.T) {
	out := "ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc 13\n"
	if got := parseVersion(out); got != "6.1.1-3ubuntu5" {
		t.Errorf("parseVersion() = %q", got)
	}
}

func TestParseEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 A....D aac                  AAC (Advanced Audio Coding)
`
	enc := parseEncoders(out)
	for _, name := range []string{"libx264", "libvpx-vp9", "aac"} {
		if !enc[name] {
			t.Errorf("encoder %s not detected", name)
		}
	}
	if enc["="] || enc["Video"] {
		t.Error("legend rows parsed as encoders")
	}
}

func TestTranscodeArgs(t *testing.T) {
	args := strings.Join(transcodeArgs("in.webm", "out.mp4"), " ")
	for _, want := range []string{"-c:v libx264", "-crf 23", "-c:a aac", "-movflags +faststart"} {
		if !strings.Contains(args, want) {
			t.Errorf("transcode args missing %q: %s", want, args)
		}
	}
	if !strings.HasSuffix(args, "out.mp4") {
		t.Errorf("output path must be last: %s", args)
	}
}

func TestEncoderArgs(t *testing.T) {
	args := strings.Join(encoderArgs(EncoderSpec{Width: 1280, Height: 720, FPS: 30, OutputPath: "x.webm"}), " ")
	for _, want := range []string{"-f rawvideo", "-pix_fmt rgba", "-s 1280x720", "-r 30", "-i pipe:0", "-c:v libvpx-vp9"} {
		if !strings.Contains(args, want) {
			t.Errorf("encoder args missing %q: %s", want, args)
		}
	}
}

func TestMuxArgs(t *testing.T) {
	clips := []AudioClip{
		{Path: "a.wav", Start: 1.5, Duration: 4},
		{Path: "b.mp3", Start: 0, Duration: 2},
	}
	args := muxArgs("video.webm", clips, "out.webm")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-i video.webm -i a.wav -i b.mp3") {
		t.Errorf("inputs out of order: %s", joined)
	}
	var filter string
	for i, a := range args {
		if a == "-filter_complex" {
			filter = args[i+1]
		}
	}
	if !strings.Contains(filter, "[1:a]atrim=0:4.000,asetpts=PTS-STARTPTS,adelay=1500:all=1[a0]") {
		t.Errorf("first clip filter wrong: %s", filter)
	}
	if !strings.Contains(filter, "[a0][a1]amix=inputs=2") {
		t.Errorf("mix stage wrong: %s", filter)
	}
}

func TestUnavailable(t *testing.T) {
	u := NewUnavailable(nil)
	ctx := context.Background()

	if _, err := u.Probe(ctx, "x"); !errors.Is(err, ErrFFmpegUnavailable) {
		t.Errorf("Probe() error = %v", err)
	}
	if _, err := u.OpenEncoder(ctx, EncoderSpec{}); !errors.Is(err, ErrFFmpegUnavailable) {
		t.Errorf("OpenEncoder() error = %v", err)
	}
	if _, err := u.Transcode(ctx, "a", "b"); !errors.Is(err, ErrFFmpegUnavailable) {
		t.Errorf("Transcode() error = %v", err)
	}
	if _, err := u.RunDoctor(ctx); !errors.Is(err, ErrFFmpegUnavailable) {
		t.Errorf("RunDoctor() error = %v", err)
	}
}

func TestSafePath_DebugMode(t *testing.T) {
	r := &SubprocessRunner{cfg: Config{DebugPaths: true}}
	path := "/Users/test/secret/file.webm"
	if got := r.safePath(path); got != path {
		t.Errorf("debug mode: safePath(%q) = %q, want full path", path, got)
	}
}

func TestSafePath_ProductionMode(t *testing.T) {
	r := &SubprocessRunner{cfg: Config{DebugPaths: false}}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	path := filepath.Join(home, ".vibedstudio", "exports", "edit.webm")
	if got := r.safePath(path); got != "~/.vibedstudio/exports/edit.webm" {
		t.Errorf("safePath() = %q, want %q", got, "~/.vibedstudio/exports/edit.webm")
	}
}

// The remaining tests exercise a real ffmpeg and are skipped without one.

func requireFFmpeg(t *testing.T) *SubprocessRunner {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not on PATH")
	}
	r, err := NewRunner(DefaultConfig(nil))
	if err != nil {
		t.Skipf("runner unavailable: %v", err)
	}
	return r
}

func TestEncoder_RoundTrip(t *testing.T) {
	r := requireFFmpeg(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	caps, err := r.RunDoctor(ctx)
	if err != nil {
		t.Fatalf("RunDoctor() error = %v", err)
	}
	if !caps.HasWebM {
		t.Skip("ffmpeg built without libvpx-vp9")
	}

	out := filepath.Join(t.TempDir(), "clip.webm")
	enc, err := r.OpenEncoder(ctx, EncoderSpec{Width: 32, Height: 18, FPS: 10, OutputPath: out})
	if err != nil {
		t.Fatalf("OpenEncoder() error = %v", err)
	}
	frame := make([]byte, 32*18*4)
	for i := 0; i < 10; i++ {
		if err := enc.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame(%d) error = %v", i, err)
		}
	}
	if err := enc.WriteFrame(frame[:10]); err == nil {
		t.Error("short frame accepted")
	}
	if _, err := enc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := enc.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	probe, err := r.Probe(ctx, out)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if probe.Width != 32 || probe.Height != 18 {
		t.Errorf("probed %dx%d, want 32x18", probe.Width, probe.Height)
	}
}
