// Package ui is the system tray front end of a non-headless studio.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/vibedstudio/studio-agent/internal/catalog"
	"github.com/vibedstudio/studio-agent/internal/editor"
	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/playback"
)

const actionTimeout = 5 * time.Second

// Controls is the part of the editor session the tray drives.
type Controls interface {
	TogglePlay(ctx context.Context) error
	StartExport(ctx context.Context, req export.Request) (export.Job, error)
	CancelExport(ctx context.Context) (bool, error)
}

type Tray struct {
	controls Controls
	runner   *catalog.Runner
	format   export.Format
	logger   *slog.Logger

	statusItem *systray.MenuItem
	playItem   *systray.MenuItem
	exportItem *systray.MenuItem
	ingestItem *systray.MenuItem

	mu    sync.Mutex
	ready bool
	shown trayState

	onQuit func()
}

type TrayConfig struct {
	Controls Controls
	Runner   *catalog.Runner
	// ExportFormat is what the Export menu item renders.
	ExportFormat export.Format
	Logger       *slog.Logger
	OnQuit       func()
}

// trayState is what the menu currently shows.
type trayState struct {
	status    string
	play      string
	export    string
	exporting bool
}

func NewTray(cfg TrayConfig) *Tray {
	if cfg.ExportFormat == "" {
		cfg.ExportFormat = export.FormatMP4
	}
	return &Tray{
		controls: cfg.Controls,
		runner:   cfg.Runner,
		format:   cfg.ExportFormat,
		logger:   logging.WithComponent(logging.OrDiscard(cfg.Logger), "tray"),
		onQuit:   cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes())
	systray.SetTitle("Studio")
	systray.SetTooltip("VibedStudio")

	initial := stateFor(editor.Update{State: playback.StatePaused})

	t.statusItem = systray.AddMenuItem(initial.status, "Playback state")
	t.statusItem.Disable()

	systray.AddSeparator()

	t.playItem = systray.AddMenuItem(initial.play, "Play or pause the timeline")
	t.exportItem = systray.AddMenuItem(initial.export, "Render the timeline to a file")
	t.ingestItem = systray.AddMenuItem("Pause Media Ingest", "Pause probing imported media")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit VibedStudio")

	t.mu.Lock()
	t.ready = true
	t.shown = initial
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-t.playItem.ClickedCh:
				t.togglePlay()
			case <-t.exportItem.ClickedCh:
				t.toggleExport()
			case <-t.ingestItem.ClickedCh:
				t.toggleIngest()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) togglePlay() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	if err := t.controls.TogglePlay(ctx); err != nil {
		t.logger.Warn("toggle play failed", "error", err)
	}
}

func (t *Tray) toggleExport() {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	t.mu.Lock()
	exporting := t.shown.exporting
	t.mu.Unlock()

	if exporting {
		if _, err := t.controls.CancelExport(ctx); err != nil {
			t.logger.Warn("cancel export failed", "error", err)
		}
		return
	}
	job, err := t.controls.StartExport(ctx, export.Request{Format: t.format})
	if err != nil {
		t.logger.Warn("export failed to start", "error", err)
		return
	}
	t.logger.Info("export started from tray", "export_id", job.ID, "format", job.Format)
}

func (t *Tray) toggleIngest() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}
	if t.runner.IsPaused() {
		t.runner.Resume()
		t.ingestItem.SetTitle("Pause Media Ingest")
	} else {
		t.runner.Pause()
		t.ingestItem.SetTitle("Resume Media Ingest")
	}
}

// Publish refreshes the menu from a session update. It implements
// editor.Publisher and is cheap when nothing visible changed.
func (t *Tray) Publish(u editor.Update) {
	next := stateFor(u)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready || next == t.shown {
		return
	}
	if next.status != t.shown.status {
		t.statusItem.SetTitle(next.status)
	}
	if next.play != t.shown.play {
		t.playItem.SetTitle(next.play)
	}
	if next.exporting {
		t.playItem.Disable()
	} else {
		t.playItem.Enable()
	}
	if next.export != t.shown.export {
		t.exportItem.SetTitle(next.export)
	}
	t.shown = next
}

func stateFor(u editor.Update) trayState {
	s := trayState{play: "Play", export: "Export"}
	switch u.State {
	case playback.StatePlaying:
		s.status = fmt.Sprintf("Playing %s / %s", clockLabel(u.Time), clockLabel(u.Duration))
		s.play = "Pause"
	case playback.StateExporting:
		s.exporting = true
		s.export = "Cancel Export"
		s.status = "Exporting"
		if u.Export != nil {
			s.status = fmt.Sprintf("Exporting %d%%", int(u.Export.Progress()*100))
		}
	default:
		s.status = fmt.Sprintf("Paused at %s", clockLabel(u.Time))
	}
	return s
}

// clockLabel formats seconds as m:ss.
func clockLabel(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func (t *Tray) Quit() {
	systray.Quit()
}
