package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vibedstudio/studio-agent/internal/logging"
)

func init() {
	// not every platform's mime table knows these
	_ = mime.AddExtensionType(".webm", "video/webm")
	_ = mime.AddExtensionType(".mp4", "video/mp4")
	_ = mime.AddExtensionType(".wav", "audio/wav")
	_ = mime.AddExtensionType(".zip", "application/zip")
}

// FileService streams local files to HTTP clients.
type FileService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, path string) error
	ServeAttachment(w http.ResponseWriter, r *http.Request, path, filename string) error
}

// FileServer serves media sources to preview clients and export artifacts
// to downloaders, honoring single byte ranges so players can seek.
type FileServer struct {
	logger *slog.Logger
}

func NewFileServer(logger *slog.Logger) *FileServer {
	return &FileServer{logger: logging.WithComponent(logging.OrDiscard(logger), "files")}
}

// ServeFile writes path inline. A missing file is answered with 404 and no
// error; other failures before the header is written are returned.
func (s *FileServer) ServeFile(w http.ResponseWriter, r *http.Request, path string) error {
	return s.serve(w, r, path, "")
}

// ServeAttachment writes path as a download named filename.
func (s *FileServer) ServeAttachment(w http.ResponseWriter, r *http.Request, path, filename string) error {
	return s.serve(w, r, path, filename)
}

func (s *FileServer) serve(w http.ResponseWriter, r *http.Request, path, attachment string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	size := stat.Size()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	if attachment != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment}))
	}

	br, err := ParseByteRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// malformed ranges are ignored, as RFC 9110 allows
		br = nil
	case err != nil:
		return err
	}

	if br == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, file, size, path)
		}
		return nil
	}

	if _, err := file.Seek(br.Start, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	h.Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	h.Set("Content-Range", br.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		s.copy(w, file, br.Length(), path)
	}
	return nil
}

func (s *FileServer) copy(w io.Writer, file io.Reader, n int64, path string) {
	if _, err := io.CopyN(w, file, n); err != nil {
		// the client went away mid-stream; nothing left to answer
		s.logger.Debug("file stream interrupted", "path", logging.SanitizePath(path), "error", err)
	}
}
