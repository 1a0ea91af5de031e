// Package watcher reports files that appear, change or disappear below a
// directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vibedstudio/studio-agent/internal/logging"
)

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// DefaultSettle is how long a file must be quiet before it is reported.
const DefaultSettle = time.Second

var ErrAlreadyWatching = errors.New("watcher already running")

var _ Watcher = (*FSWatcher)(nil)

// FSWatcher watches a directory tree with fsnotify. Writes are coalesced
// per file: a file is reported once it has been quiet for the settle delay,
// so a copy in progress produces one event. Hidden files and directories are
// ignored.
type FSWatcher struct {
	logger *slog.Logger
	settle time.Duration
	filter func(path string) bool

	mu       sync.Mutex
	callback func(path string, event EventType)
	fsw      *fsnotify.Watcher
	pending  map[string]*time.Timer
	known    map[string]bool
	started  chan struct{}
	once     sync.Once
}

// NewFSWatcher returns a watcher that reports only files accepted by filter.
// A nil filter accepts every file.
func NewFSWatcher(logger *slog.Logger, settle time.Duration, filter func(path string) bool) *FSWatcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &FSWatcher{
		logger:  logging.WithComponent(logging.OrDiscard(logger), "watcher"),
		settle:  settle,
		filter:  filter,
		pending: make(map[string]*time.Timer),
		known:   make(map[string]bool),
		started: make(chan struct{}),
	}
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch blocks until ctx is done or Stop is called. Files already present
// under root are not reported.
func (w *FSWatcher) Watch(ctx context.Context, root string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		fsw.Close()
		return ErrAlreadyWatching
	}
	w.fsw = fsw
	w.mu.Unlock()
	defer w.Stop()

	if _, err := w.addTree(fsw, root); err != nil {
		return err
	}
	w.logger.Info("watching media folder", "path", logging.SanitizePath(root))
	w.once.Do(func() { close(w.started) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Stop ends Watch and drops pending reports.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	if w.fsw == nil {
		return nil
	}
	err := w.fsw.Close()
	w.fsw = nil
	return err
}

// addTree watches root and every visible directory below it, and returns
// the accepted files it found.
func (w *FSWatcher) addTree(fsw *fsnotify.Watcher, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if p != root && hidden(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(p); err != nil {
				return fmt.Errorf("watch %s: %w", logging.SanitizePath(p), err)
			}
			return nil
		}
		if w.accept(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	for _, f := range files {
		w.known[f] = true
	}
	w.mu.Unlock()
	return files, nil
}

func (w *FSWatcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	path := ev.Name
	if hidden(path) {
		return
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.forget(path)
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// Files copied in with the directory arrive before its watch.
			files, err := w.addTree(fsw, path)
			if err != nil {
				w.logger.Warn("failed to watch new directory", "path", logging.SanitizePath(path), "error", err)
				return
			}
			w.mu.Lock()
			for _, f := range files {
				delete(w.known, f)
			}
			w.mu.Unlock()
			for _, f := range files {
				w.schedule(f)
			}
			return
		}
	}
	if w.accept(path) {
		w.schedule(path)
	}
}

func (w *FSWatcher) accept(path string) bool {
	return w.filter == nil || w.filter(path)
}

func (w *FSWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.fire(path) })
}

func (w *FSWatcher) fire(path string) {
	w.mu.Lock()
	if _, ok := w.pending[path]; !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		w.mu.Unlock()
		return
	}
	event := EventCreate
	if w.known[path] {
		event = EventModify
	}
	w.known[path] = true
	cb := w.callback
	w.mu.Unlock()

	w.logger.Debug("file settled", "path", logging.SanitizePath(path), "event", event)
	if cb != nil {
		cb(path, event)
	}
}

// forget reports a deletion for a file that was previously seen.
func (w *FSWatcher) forget(path string) {
	w.mu.Lock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
	wasKnown := w.known[path]
	delete(w.known, path)
	cb := w.callback
	w.mu.Unlock()

	if wasKnown && cb != nil {
		cb(path, EventDelete)
	}
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
