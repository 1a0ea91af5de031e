package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vibedstudio/studio-agent/internal/api"
	"github.com/vibedstudio/studio-agent/internal/catalog"
	"github.com/vibedstudio/studio-agent/internal/config"
	"github.com/vibedstudio/studio-agent/internal/db"
	"github.com/vibedstudio/studio-agent/internal/editor"
	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/logging"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
)

// app holds everything serve and render share.
type app struct {
	cfg      *config.EnvConfig
	logger   *slog.Logger
	database *db.DB
	repo     catalog.Repository
	catalog  *catalog.Service
	resolver *media.Resolver
	ff       pipeline.FFmpeg
	doctor   *pipeline.CachedDoctor
	frames   *media.Frames
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.CacheDir(), cfg.ExportsDir(), cfg.MediaDir(), workDir(cfg), thumbDir(cfg)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting studio", "version", api.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	repo := catalog.NewRepository(database.Conn())
	svc := catalog.NewService(repo, media.NewLibrary(), logger)
	if err := svc.LoadLibrary(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load media library: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		database: database,
		repo:     repo,
		catalog:  svc,
		resolver: media.NewResolver(cfg.MediaDir()),
	}
	a.initPipeline(ctx)
	a.frames = media.NewFrames(a.resolver, a.ff, cfg.ExportFPS(), logger)
	return a, nil
}

// initPipeline resolves ffmpeg and probes it once. A missing toolchain is
// not fatal: stills still render and exports fall back to PNG archives.
func (a *app) initPipeline(ctx context.Context) {
	pcfg := pipeline.DefaultConfig(a.logger)
	if p := a.cfg.FFmpegPath(); p != "" {
		pcfg.FFmpegPath = p
	}
	if p := a.cfg.FFprobePath(); p != "" {
		pcfg.FFprobePath = p
	}
	pcfg.ProbeTimeout = a.cfg.ProbeTimeout()
	pcfg.TranscodeTimeout = a.cfg.TranscodeTimeout()

	var doctorRunner pipeline.DoctorRunner
	runner, err := pipeline.NewRunner(pcfg)
	if err != nil {
		a.logger.Warn("ffmpeg unavailable, video decode and mp4 export disabled", "error", err)
		u := pipeline.NewUnavailable(a.logger)
		a.ff, doctorRunner = u, u
	} else {
		a.ff, doctorRunner = runner, runner
	}
	a.doctor = pipeline.NewCachedDoctor(doctorRunner, a.logger)

	probeCtx, cancel := context.WithTimeout(ctx, pcfg.DoctorTimeout)
	defer cancel()
	caps, err := a.doctor.Refresh(probeCtx)
	if err != nil {
		a.logger.Warn("initial ffmpeg probe failed", "error", err)
		return
	}
	a.logger.Info("ffmpeg capabilities detected",
		"version", caps.FFmpegVersion,
		"mp4", caps.HasMP4,
		"webm", caps.HasWebM,
	)
}

func (a *app) newSession(publisher editor.Publisher) *editor.Session {
	return editor.New(editor.Options{
		TickInterval: a.cfg.TickInterval(),
		StageRatio:   a.cfg.StageRatio(),
		WorkDir:      workDir(a.cfg),
		Export: export.Options{
			Dir:   a.cfg.ExportsDir(),
			FPS:   a.cfg.ExportFPS(),
			Base:  a.cfg.ExportBase(),
			Ratio: a.cfg.StageRatio(),
			Speed: a.cfg.ExportSpeed(),
		},
	}, editor.Deps{
		Library:   a.catalog.Library(),
		Resolver:  a.resolver,
		Frames:    a.frames,
		FFmpeg:    a.ff,
		Catalog:   a.catalog,
		Sinks:     export.FileSinks{Encoders: a.ff},
		Observer:  a.catalog,
		Publisher: publisher,
		Logger:    a.logger,
	})
}

func (a *app) Close() {
	a.frames.Close()
	if err := a.database.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

func workDir(cfg *config.EnvConfig) string {
	return filepath.Join(cfg.CacheDir(), "work")
}

func thumbDir(cfg *config.EnvConfig) string {
	return filepath.Join(cfg.CacheDir(), "thumbs")
}

func ensureAuthToken(ctx context.Context, repo catalog.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}

// openProject finds a saved project by id, then by name.
func openProject(ctx context.Context, a *app, session *editor.Session, ref string) (*catalog.Project, error) {
	p, err := session.OpenProject(ctx, ref)
	if err == nil || !errors.Is(err, catalog.ErrProjectNotFound) {
		return p, err
	}
	byName, err := a.repo.GetProjectByName(ctx, ref)
	if err != nil {
		return nil, err
	}
	if byName == nil {
		return nil, fmt.Errorf("%w: %s", catalog.ErrProjectNotFound, ref)
	}
	return session.OpenProject(ctx, byName.ID)
}

const shutdownTimeout = 10 * time.Second
