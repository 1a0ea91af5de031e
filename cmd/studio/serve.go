package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vibedstudio/studio-agent/internal/api"
	"github.com/vibedstudio/studio-agent/internal/catalog"
	"github.com/vibedstudio/studio-agent/internal/editor"
	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/playback"
	"github.com/vibedstudio/studio-agent/internal/preview"
	"github.com/vibedstudio/studio-agent/internal/ui"
	"github.com/vibedstudio/studio-agent/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the editor service (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	authToken, err := ensureAuthToken(ctx, a.repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	printBanner(a.cfg.Port(), authToken)

	hub := preview.NewHub(a.logger, nil)

	var tray *ui.Tray
	session := a.newSession(editor.PublisherFunc(func(u editor.Update) {
		hub.Broadcast(u)
		if tray != nil {
			tray.Publish(u)
		}
	}))

	runner := catalog.NewRunner(a.catalog, a.repo, a.ff, a.doctor, a.resolver, thumbDir(a.cfg), a.logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           a.cfg.Port(),
		Session:        session,
		CatalogService: a.catalog,
		Files:          playback.NewFileServer(a.logger),
		Resolver:       a.resolver,
		Repository:     a.repo,
		Runner:         runner,
		Doctor:         a.doctor,
		Preview:        hub,
		Logger:         a.logger,
		StartTime:      startTime,
	})

	if a.cfg.Headless() {
		a.logger.Info("running in headless mode (no system tray)")
	} else {
		format, err := export.ParseFormat(a.cfg.ExportFormat())
		if err != nil {
			return err
		}
		// Assigned before the session loop starts, so the publisher never
		// races this write.
		tray = ui.NewTray(ui.TrayConfig{
			Controls:     session,
			Runner:       runner,
			ExportFormat: format,
			Logger:       a.logger,
			OnQuit:       stop,
		})
		go tray.Run()
		defer tray.Quit()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		runner.Start(gctx)
		return nil
	})
	if a.cfg.WatchMedia() {
		w := watcher.NewFSWatcher(a.logger, watcher.DefaultSettle, catalog.IsMediaFile)
		w.OnChange(func(path string, ev watcher.EventType) {
			a.catalog.MediaFolderChanged(gctx, path, ev)
		})
		g.Go(func() error {
			return w.Watch(gctx, a.cfg.MediaDir())
		})
	}
	g.Go(func() error {
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shutdown HTTP server", "error", err)
		}
		return nil
	})

	err = g.Wait()
	a.logger.Info("shutdown complete")
	return err
}

func printBanner(port int, token string) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║%-59s║\n", "                    VIBEDSTUDIO v"+api.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    %-45s║\n", fmt.Sprintf("http://127.0.0.1:%d", port))
	fmt.Printf("║  Preview:    %-45s║\n", fmt.Sprintf("ws://127.0.0.1:%d/preview", port))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Printf("  Auth Token: %s\n", token)
	fmt.Println()
}
