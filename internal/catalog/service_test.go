package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vibedstudio/studio-agent/internal/db"
	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/timeline"
	"github.com/vibedstudio/studio-agent/internal/watcher"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewRepository(database.Conn())
	return database, repo
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestService_ImportFile(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	lib := media.NewLibrary()
	svc := NewService(repo, lib, nil)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "clip.MP4")
	writeFile(t, path)

	item, err := svc.ImportFile(ctx, path, "")
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if item.Kind != timeline.MediaVideo {
		t.Errorf("item.Kind = %s, want video", item.Kind)
	}
	if item.Name != "clip.MP4" {
		t.Errorf("item.Name = %s, want clip.MP4", item.Name)
	}
	if _, ok := lib.Get(item.ID); !ok {
		t.Error("imported item missing from library")
	}

	stored, err := repo.GetMedia(ctx, item.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetMedia() = %v, %v", stored, err)
	}
	if stored.Locator != path {
		t.Errorf("stored.Locator = %s, want %s", stored.Locator, path)
	}

	// a video queues a probe and a thumbnail
	jobs, err := repo.ListPendingJobs(ctx)
	if err != nil {
		t.Fatalf("ListPendingJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("pending jobs = %d, want 2", len(jobs))
	}

	again, err := svc.ImportFile(ctx, path, "other name")
	if err != nil {
		t.Fatalf("second ImportFile() error = %v", err)
	}
	if again.ID != item.ID {
		t.Errorf("re-import created %s, want existing %s", again.ID, item.ID)
	}
}

func TestService_ImportFile_Rejects(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	if _, err := svc.ImportFile(ctx, "/nonexistent/clip.mp4", ""); err == nil {
		t.Error("ImportFile() should fail for a missing file")
	}

	doc := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, doc)
	if _, err := svc.ImportFile(ctx, doc, ""); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("ImportFile(txt) error = %v, want ErrUnsupportedFile", err)
	}

	if _, err := svc.ImportFile(ctx, t.TempDir(), ""); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("ImportFile(dir) error = %v, want ErrUnsupportedFile", err)
	}
}

func TestService_ImportFolder_SkipsHiddenDirs(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil, nil)
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "a.mp4"))
	writeFile(t, filepath.Join(root, "sub", "b.png"))
	writeFile(t, filepath.Join(root, "sub", "c.wav"))
	writeFile(t, filepath.Join(root, ".cache", "hidden.mp4"))
	writeFile(t, filepath.Join(root, ".dotfile.mp4"))
	writeFile(t, filepath.Join(root, "readme.md"))

	items, err := svc.ImportFolder(context.Background(), root)
	if err != nil {
		t.Fatalf("ImportFolder() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("imported %d items, want 3", len(items))
	}

	kinds := map[timeline.MediaKind]int{}
	for _, it := range items {
		kinds[it.Kind]++
	}
	if kinds[timeline.MediaVideo] != 1 || kinds[timeline.MediaImage] != 1 || kinds[timeline.MediaAudio] != 1 {
		t.Errorf("kinds = %v, want one of each", kinds)
	}

	if _, err := svc.ImportFolder(context.Background(), filepath.Join(root, "a.mp4")); err == nil {
		t.Error("ImportFolder() should fail for a file path")
	}
}

func TestService_LoadLibraryAndRemove(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	ctx := context.Background()
	first := NewService(repo, media.NewLibrary(), nil)
	path := filepath.Join(t.TempDir(), "song.mp3")
	writeFile(t, path)
	item, err := first.ImportFile(ctx, path, "Song")
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}

	lib := media.NewLibrary()
	svc := NewService(repo, lib, nil)
	if err := svc.LoadLibrary(ctx); err != nil {
		t.Fatalf("LoadLibrary() error = %v", err)
	}
	got, ok := lib.Get(item.ID)
	if !ok {
		t.Fatal("loaded library is missing the imported item")
	}
	if got.Name != "Song" || got.Kind != timeline.MediaAudio {
		t.Errorf("loaded item = %+v", got)
	}

	if err := svc.RemoveMedia(ctx, item.ID); err != nil {
		t.Fatalf("RemoveMedia() error = %v", err)
	}
	if _, ok := lib.Get(item.ID); ok {
		t.Error("removed item still in library")
	}
	if stored, _ := repo.GetMedia(ctx, item.ID); stored != nil {
		t.Error("removed item still in catalog")
	}
	if err := svc.RemoveMedia(ctx, item.ID); !errors.Is(err, media.ErrItemNotFound) {
		t.Errorf("second RemoveMedia() error = %v, want ErrItemNotFound", err)
	}

	preset := media.Presets()[0]
	if err := svc.RemoveMedia(ctx, preset.ID); err == nil {
		t.Error("RemoveMedia() should refuse presets")
	}
}

func TestService_RegisterItem_TextStyleRoundTrip(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	style := media.TitleTextStyle()
	style.Text = "Opening"
	item := &media.Item{ID: "text-1", Kind: timeline.MediaText, Name: "Title", Text: style, Source: media.SourceGenerated}
	if err := svc.RegisterItem(ctx, item); err != nil {
		t.Fatalf("RegisterItem() error = %v", err)
	}

	stored, err := repo.GetMedia(ctx, "text-1")
	if err != nil || stored == nil {
		t.Fatalf("GetMedia() = %v, %v", stored, err)
	}
	if stored.Text == nil || stored.Text.Text != "Opening" {
		t.Errorf("stored.Text = %+v, want content Opening", stored.Text)
	}

	// no locator, nothing to probe
	jobs, _ := repo.ListPendingJobs(ctx)
	if len(jobs) != 0 {
		t.Errorf("pending jobs = %d, want 0", len(jobs))
	}
}

func newProjectTimeline(t *testing.T, mediaRef string) *timeline.Timeline {
	t.Helper()
	tl := timeline.NewWithDefaultTracks()
	seg := &timeline.Segment{
		MediaRef:  mediaRef,
		Kind:      timeline.MediaVideo,
		Start:     1,
		Duration:  3,
		Transform: timeline.IdentityTransform(),
	}
	if _, err := tl.InsertSegment(tl.Tracks()[0].ID, seg, 0); err != nil {
		t.Fatalf("InsertSegment() error = %v", err)
	}
	return tl
}

func TestService_Projects(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	lib := media.NewLibrary()
	svc := NewService(repo, lib, nil)
	ctx := context.Background()

	lib.Put(&media.Item{ID: "v1", Kind: timeline.MediaVideo, Name: "clip", Locator: "/clips/a.mp4", Duration: 3})
	tl := newProjectTimeline(t, "v1")

	saved, err := svc.SaveProject(ctx, "  Cut One ", tl.Snapshot(), "9:16")
	if err != nil {
		t.Fatalf("SaveProject() error = %v", err)
	}
	if saved.Name != "Cut One" {
		t.Errorf("saved.Name = %q, want trimmed", saved.Name)
	}
	if len(saved.Media) != 1 || saved.Media[0].ID != "v1" {
		t.Fatalf("saved.Media = %+v, want v1", saved.Media)
	}

	// same name replaces, keeping the id
	svc.now = func() time.Time { return time.Now().Add(time.Minute) }
	resaved, err := svc.SaveProject(ctx, "Cut One", timeline.NewWithDefaultTracks().Snapshot(), "16:9")
	if err != nil {
		t.Fatalf("second SaveProject() error = %v", err)
	}
	if resaved.ID != saved.ID {
		t.Errorf("resave id = %s, want %s", resaved.ID, saved.ID)
	}

	list, err := svc.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("projects = %d, want 1", len(list))
	}

	got, err := svc.GetProject(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.StageRatio != "16:9" || len(got.Snapshot.Tracks) != 4 {
		t.Errorf("loaded project = ratio %s, %d tracks", got.StageRatio, len(got.Snapshot.Tracks))
	}

	if err := svc.DeleteProject(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if _, err := svc.GetProject(ctx, saved.ID); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("GetProject() after delete error = %v, want ErrProjectNotFound", err)
	}
	if err := svc.DeleteProject(ctx, saved.ID); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("DeleteProject() twice error = %v, want ErrProjectNotFound", err)
	}
}

func TestService_GetProject_RestoresMissingMedia(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	ctx := context.Background()
	src := media.NewLibrary()
	src.Put(&media.Item{ID: "v1", Kind: timeline.MediaVideo, Name: "clip", Locator: "/clips/a.mp4", Duration: 3})
	saved, err := NewService(repo, src, nil).SaveProject(ctx, "Portable", newProjectTimeline(t, "v1").Snapshot(), "16:9")
	if err != nil {
		t.Fatalf("SaveProject() error = %v", err)
	}

	fresh := media.NewLibrary()
	if _, err := NewService(repo, fresh, nil).GetProject(ctx, saved.ID); err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if _, ok := fresh.Get("v1"); !ok {
		t.Error("project media was not merged into the library")
	}
}

func TestService_SaveProject_Rejects(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	if _, err := svc.SaveProject(ctx, " ", timeline.NewWithDefaultTracks().Snapshot(), "16:9"); !errors.Is(err, ErrEmptyName) {
		t.Errorf("SaveProject(blank) error = %v, want ErrEmptyName", err)
	}

	bad := timeline.Snapshot{Tracks: []timeline.TrackSnapshot{{ID: "t", Kind: "bogus"}}}
	if _, err := svc.SaveProject(ctx, "bad", bad, "16:9"); !errors.Is(err, timeline.ErrMalformedSnapshot) {
		t.Errorf("SaveProject(bad) error = %v, want ErrMalformedSnapshot", err)
	}
}

func TestService_ExportUpdated(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var obs export.Observer = svc
	obs.ExportUpdated(export.Job{ID: "exp-1", Status: export.StatusRunning, Format: export.FormatWebM,
		Frames: 5, TotalFrames: 20, StartedAt: started})

	job, err := repo.GetJob(ctx, "exp-1")
	if err != nil || job == nil {
		t.Fatalf("GetJob() = %v, %v", job, err)
	}
	if job.Status != JobStatusRunning || job.Progress != 25 {
		t.Errorf("running job = %s %d%%, want running 25%%", job.Status, job.Progress)
	}

	obs.ExportUpdated(export.Job{ID: "exp-1", Status: export.StatusCompleted, Format: export.FormatWebM,
		Frames: 20, TotalFrames: 20, Path: "/out/cut.webm", Notice: "audio could not be mixed; exported without sound",
		StartedAt: started, FinishedAt: started.Add(time.Minute)})

	exports, err := svc.ListExports(ctx, 10)
	if err != nil {
		t.Fatalf("ListExports() error = %v", err)
	}
	if len(exports) != 1 {
		t.Fatalf("exports = %d, want 1", len(exports))
	}
	got := exports[0]
	if got.Status != JobStatusCompleted || got.Progress != 100 || got.OutputPath != "/out/cut.webm" || got.Notice == "" {
		t.Errorf("completed job = %+v", got)
	}
	if !got.CreatedAt.Equal(started) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, started)
	}
}

func TestKindForFile(t *testing.T) {
	tests := []struct {
		filename string
		kind     timeline.MediaKind
		ok       bool
	}{
		{"video.mp4", timeline.MediaVideo, true},
		{"video.MOV", timeline.MediaVideo, true},
		{"still.jpeg", timeline.MediaImage, true},
		{"still.webp", timeline.MediaImage, true},
		{"track.flac", timeline.MediaAudio, true},
		{"doc.pdf", "", false},
		{"noext", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			kind, ok := KindForFile(tt.filename)
			if kind != tt.kind || ok != tt.ok {
				t.Errorf("KindForFile(%s) = %s, %v, want %s, %v", tt.filename, kind, ok, tt.kind, tt.ok)
			}
		})
	}
}

func TestService_MediaFolderChanged(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	lib := media.NewLibrary()
	svc := NewService(repo, lib, nil)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "drop.wav")
	writeFile(t, path)

	svc.MediaFolderChanged(ctx, path, watcher.EventCreate)
	item, err := repo.GetMediaByLocator(ctx, path)
	if err != nil || item == nil {
		t.Fatalf("GetMediaByLocator() = %v, %v", item, err)
	}
	if item.Kind != timeline.MediaAudio {
		t.Errorf("item.Kind = %s, want audio", item.Kind)
	}

	jobs, _ := repo.ListPendingJobs(ctx)
	before := len(jobs)

	svc.MediaFolderChanged(ctx, path, watcher.EventModify)
	jobs, _ = repo.ListPendingJobs(ctx)
	if len(jobs) != before+1 {
		t.Errorf("pending jobs = %d, want %d after modify", len(jobs), before+1)
	}
	probes := 0
	for _, j := range jobs {
		if j.Type == JobTypeProbe && j.MediaID == item.ID {
			probes++
		}
	}
	if probes != 2 {
		t.Errorf("probe jobs for %s = %d, want 2", item.ID, probes)
	}

	svc.MediaFolderChanged(ctx, path, watcher.EventDelete)
	if _, ok := lib.Get(item.ID); !ok {
		t.Error("deleted file's item was dropped from the library")
	}
}

func TestIsMediaFile(t *testing.T) {
	for path, want := range map[string]bool{
		"a/clip.mov": true,
		"still.PNG":  true,
		"notes.txt":  false,
		"noext":      false,
	} {
		if got := IsMediaFile(path); got != want {
			t.Errorf("IsMediaFile(%q) = %v, want %v", path, got, want)
		}
	}
}
