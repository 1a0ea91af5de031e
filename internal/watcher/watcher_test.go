package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(path string, ev EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.String()+":"+filepath.Base(path))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func startWatcher(t *testing.T, dir string, filter func(string) bool) (*FSWatcher, *recorder) {
	t.Helper()
	w := NewFSWatcher(nil, 30*time.Millisecond, filter)
	rec := &recorder{}
	w.OnChange(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, dir) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	select {
	case <-w.started:
	case err := <-done:
		t.Fatalf("Watch returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not start")
	}
	return w, rec
}

func TestFSWatcher_CreateModifyDelete(t *testing.T) {
	dir := t.TempDir()
	_, rec := startWatcher(t, dir, nil)

	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"create:clip.mp4"}, rec.snapshot())

	require.NoError(t, os.WriteFile(path, []byte("ab"), 0644))
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "modify:clip.mp4", rec.snapshot()[1])

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "delete:clip.mp4", rec.snapshot()[2])
}

func TestFSWatcher_CoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	_, rec := startWatcher(t, dir, nil)

	f, err := os.Create(filepath.Join(dir, "big.wav"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.Write([]byte("chunk"))
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"create:big.wav"}, rec.snapshot())
}

func TestFSWatcher_FilterAndHidden(t *testing.T) {
	dir := t.TempDir()
	onlyPNG := func(p string) bool { return strings.HasSuffix(p, ".png") }
	_, rec := startWatcher(t, dir, onlyPNG)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.png"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "still.png"), []byte("x"), 0644))

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"create:still.png"}, rec.snapshot())
}

func TestFSWatcher_NewDirectory(t *testing.T) {
	dir := t.TempDir()
	_, rec := startWatcher(t, dir, nil)

	sub := filepath.Join(dir, "shoot")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(filepath.Join(sub, "take1.mov"), []byte("x"), 0644))
		return len(rec.snapshot()) > 0
	}, 2*time.Second, 50*time.Millisecond)
	assert.Equal(t, "create:take1.mov", rec.snapshot()[0])
}

func TestFSWatcher_ExistingFilesNotReported(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.mp3"), []byte("x"), 0644))
	_, rec := startWatcher(t, dir, nil)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestFSWatcher_SecondWatchFails(t *testing.T) {
	dir := t.TempDir()
	w, _ := startWatcher(t, dir, nil)
	assert.ErrorIs(t, w.Watch(context.Background(), dir), ErrAlreadyWatching)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "create", EventCreate.String())
	assert.Equal(t, "modify", EventModify.String())
	assert.Equal(t, "delete", EventDelete.String())
	assert.Equal(t, "event(9)", EventType(9).String())
}
