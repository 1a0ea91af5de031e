package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/vibedstudio/studio-agent/internal/pipeline"
)

// SinkSpec describes the frame stream a sink receives.
type SinkSpec struct {
	Width  int
	Height int
	FPS    int
	// Path is where the intermediate artifact is written. Memory sinks
	// ignore it.
	Path string
}

// Artifact is what a closed sink leaves behind.
type Artifact struct {
	Path   string
	Format Format
	Frames int
}

// FrameSink captures rendered frames. Close must always leave a valid,
// possibly short, artifact and may be called more than once.
type FrameSink interface {
	WriteFrame(img *image.RGBA) error
	Close() (Artifact, error)
}

// SinkFactory opens a sink for an export.
type SinkFactory interface {
	OpenSink(ctx context.Context, format Format, spec SinkSpec) (FrameSink, error)
}

// SinkFactoryFunc adapts a function to SinkFactory.
type SinkFactoryFunc func(ctx context.Context, format Format, spec SinkSpec) (FrameSink, error)

func (f SinkFactoryFunc) OpenSink(ctx context.Context, format Format, spec SinkSpec) (FrameSink, error) {
	return f(ctx, format, spec)
}

// EncoderOpener starts an ffmpeg encoder.
type EncoderOpener interface {
	OpenEncoder(ctx context.Context, spec pipeline.EncoderSpec) (*pipeline.Encoder, error)
}

// FileSinks opens ffmpeg encoder sinks for video formats and zip sinks for
// png-zip.
type FileSinks struct {
	Encoders EncoderOpener
}

func (f FileSinks) OpenSink(ctx context.Context, format Format, spec SinkSpec) (FrameSink, error) {
	if format == FormatPNGZip {
		return NewZipSink(spec.Path)
	}
	if f.Encoders == nil {
		return nil, pipeline.ErrFFmpegUnavailable
	}
	enc, err := f.Encoders.OpenEncoder(ctx, pipeline.EncoderSpec{
		Width:      spec.Width,
		Height:     spec.Height,
		FPS:        spec.FPS,
		OutputPath: spec.Path,
	})
	if err != nil {
		return nil, err
	}
	return &EncoderSink{enc: enc}, nil
}

// EncoderSink pipes frames into an ffmpeg webm encoder.
type EncoderSink struct {
	enc *pipeline.Encoder
}

func (s *EncoderSink) WriteFrame(img *image.RGBA) error {
	return s.enc.WriteFrame(img.Pix)
}

func (s *EncoderSink) Close() (Artifact, error) {
	res, err := s.enc.Close()
	return Artifact{Path: res.OutputPath, Format: FormatWebM, Frames: s.enc.Frames()}, err
}

// ZipSink writes each frame as frame-000000.png into a zip archive.
type ZipSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	zw     *zip.Writer
	frames int
	closed bool
	err    error
}

func NewZipSink(path string) (*ZipSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	return &ZipSink{path: path, file: f, zw: zip.NewWriter(f)}, nil
}

func (s *ZipSink) WriteFrame(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("zip sink closed")
	}
	w, err := s.zw.CreateHeader(&zip.FileHeader{
		Name:   fmt.Sprintf("frame-%06d.png", s.frames),
		Method: zip.Store,
	})
	if err != nil {
		return fmt.Errorf("add frame: %w", err)
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode frame %d: %w", s.frames, err)
	}
	s.frames++
	return nil
}

func (s *ZipSink) Close() (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.err = errors.Join(s.zw.Close(), s.file.Close())
	}
	return Artifact{Path: s.path, Format: FormatPNGZip, Frames: s.frames}, s.err
}

// MemorySink keeps copies of every frame. It backs headless previews and
// tests.
type MemorySink struct {
	mu     sync.Mutex
	frames []*image.RGBA
	closed bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) WriteFrame(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("memory sink closed")
	}
	c := image.NewRGBA(img.Bounds())
	copy(c.Pix, img.Pix)
	s.frames = append(s.frames, c)
	return nil
}

func (s *MemorySink) Close() (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return Artifact{Format: FormatPNGZip, Frames: len(s.frames)}, nil
}

// Frames returns the captured frames.
func (s *MemorySink) Frames() []*image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*image.RGBA(nil), s.frames...)
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
