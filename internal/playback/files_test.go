package playback

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileServer_Full(t *testing.T) {
	path := writeTemp(t, "clip.webm", "0123456789")
	s := NewFileServer(nil)

	rec := httptest.NewRecorder()
	if err := s.ServeFile(rec, httptest.NewRequest(http.MethodGet, "/media", nil), path); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/webm" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}
	if rec.Body.String() != "0123456789" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestFileServer_Range(t *testing.T) {
	path := writeTemp(t, "clip.mp4", "0123456789")
	s := NewFileServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	if err := s.ServeFile(rec, req, path); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
	if rec.Body.String() != "2345" {
		t.Errorf("body = %q", rec.Body.String())
	}

	req.Header.Set("Range", "bytes=50-")
	rec = httptest.NewRecorder()
	if err := s.ServeFile(rec, req, path); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */10" {
		t.Errorf("Content-Range = %q", got)
	}

	req.Header.Set("Range", "pages=1-2")
	rec = httptest.NewRecorder()
	if err := s.ServeFile(rec, req, path); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("malformed range: status = %d, want full response", rec.Code)
	}
}

func TestFileServer_AttachmentAndMissing(t *testing.T) {
	path := writeTemp(t, "out.mp4", "data")
	s := NewFileServer(nil)

	rec := httptest.NewRecorder()
	if err := s.ServeAttachment(rec, httptest.NewRequest(http.MethodGet, "/x", nil), path, "vibedstudio-edit-1.mp4"); err != nil {
		t.Fatal(err)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, `filename=vibedstudio-edit-1.mp4`) {
		t.Errorf("Content-Disposition = %q", got)
	}

	rec = httptest.NewRecorder()
	if err := s.ServeFile(rec, httptest.NewRequest(http.MethodGet, "/x", nil), filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	if err := s.ServeFile(rec, httptest.NewRequest(http.MethodHead, "/x", nil), path); err != nil {
		t.Fatal(err)
	}
	if rec.Body.Len() != 0 || rec.Header().Get("Content-Length") != "4" {
		t.Errorf("HEAD: body %d bytes, length %q", rec.Body.Len(), rec.Header().Get("Content-Length"))
	}
}
