// Package api exposes the editor session, media library and projects over
// a localhost JSON API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vibedstudio/studio-agent/internal/catalog"
	"github.com/vibedstudio/studio-agent/internal/editor"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
	"github.com/vibedstudio/studio-agent/internal/playback"
)

const Version = "0.1.0"

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Session        *editor.Session
	CatalogService catalog.CatalogService
	Files          playback.FileService
	Resolver       *media.Resolver
	Repository     catalog.Repository
	Runner         *catalog.Runner
	Doctor         *pipeline.CachedDoctor
	// Preview serves the websocket preview feed; nil disables the route.
	Preview   http.Handler
	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
