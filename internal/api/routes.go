package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/media"
)

// maxBodyBytes bounds JSON request bodies; snapshots are the largest.
const maxBodyBytes = 8 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	// Media elements and the preview socket cannot send a bearer header, so
	// these routes are limited to this machine instead.
	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())

		r.Get("/media/{id}/file", mediaFileHandler(cfg))
		r.Head("/media/{id}/file", mediaFileHandler(cfg))
		r.Get("/exports/{id}/file", exportFileHandler(cfg))
		r.Head("/exports/{id}/file", exportFileHandler(cfg))
		if cfg.Preview != nil {
			r.Handle("/preview", cfg.Preview)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/state", stateHandler(cfg))

		r.Post("/playback/play", playHandler(cfg))
		r.Post("/playback/pause", pauseHandler(cfg))
		r.Post("/playback/toggle", toggleHandler(cfg))
		r.Post("/playback/seek", seekHandler(cfg))

		r.Get("/timeline", getTimelineHandler(cfg))
		r.Put("/timeline", restoreTimelineHandler(cfg))
		r.Delete("/timeline", clearTimelineHandler(cfg))
		r.Put("/view", viewHandler(cfg))
		r.Post("/selection", selectHandler(cfg))

		r.Get("/tracks", listTracksHandler(cfg))
		r.Post("/tracks", addTrackHandler(cfg))

		r.Post("/segments", dropMediaHandler(cfg))
		r.Patch("/segments/{id}", patchSegmentHandler(cfg))
		r.Delete("/segments/{id}", removeSegmentHandler(cfg))
		r.Post("/segments/{id}/move", moveSegmentHandler(cfg))
		r.Post("/segments/{id}/trim", trimSegmentHandler(cfg))
		r.Post("/segments/{id}/copy", copySegmentHandler(cfg))
		r.Post("/segments/{id}/extract-audio", extractAudioHandler(cfg))
		r.Post("/clipboard/paste", pasteHandler(cfg))
		r.Post("/hold-frame", holdFrameHandler(cfg))

		r.Post("/transitions", addTransitionHandler(cfg))
		r.Delete("/transitions", removeTransitionHandler(cfg))

		r.Post("/drag", beginDragHandler(cfg))
		r.Patch("/drag", updateDragHandler(cfg))
		r.Delete("/drag", endDragHandler(cfg))

		r.Get("/media", listMediaHandler(cfg))
		r.Post("/media", importMediaHandler(cfg))
		r.Post("/media/folders", importFolderHandler(cfg))
		r.Delete("/media/{id}", removeMediaHandler(cfg))

		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects", saveProjectHandler(cfg))
		r.Post("/projects/{id}/open", openProjectHandler(cfg))
		r.Delete("/projects/{id}", deleteProjectHandler(cfg))

		r.Get("/exports", listExportsHandler(cfg))
		r.Post("/exports", startExportHandler(cfg))
		r.Get("/exports/current", currentExportHandler(cfg))
		r.Delete("/exports/current", cancelExportHandler(cfg))
		r.Post("/exports/edl", exportEDLHandler(cfg))
	})

	return r
}

// decodeBody reads a JSON body into v. An empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		resp := HealthResponse{
			Status:  "ok",
			Version: Version,
			UptimeS: uptime,
		}
		if cfg.Session != nil {
			resp.SessionID = cfg.Session.ID()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		st, err := cfg.Session.State(ctx)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}

		resp := StatusResponse{
			SessionID:  st.SessionID,
			State:      string(st.State),
			Time:       st.Time,
			Duration:   st.Duration,
			StageRatio: st.StageRatio,
			MediaCount: len(cfg.Session.Library().List()),
			Export:     st.Export,
		}
		if cfg.Runner != nil {
			resp.JobsRunning = cfg.Runner.GetActiveJobCount(ctx)
			resp.RunnerPaused = cfg.Runner.IsPaused()
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Pipeline = &PipelineStatusResponse{
					FFmpegVersion: caps.FFmpegVersion,
					HasProbe:      caps.HasProbe,
					HasWebM:       caps.HasWebM,
					HasMP4:        caps.HasMP4,
					Formats:       caps.ExportFormats(),
					LastProbeAt:   caps.ProbedAt.Format(time.RFC3339),
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func stateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cfg.Session.State(r.Context())
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func mediaFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		item, ok := cfg.Session.Library().Get(id)
		if !ok {
			WriteError(w, http.StatusNotFound, "media not found", "NOT_FOUND")
			return
		}
		if item.Locator == "" {
			WriteError(w, http.StatusBadRequest, "media has no file", "BAD_REQUEST")
			return
		}
		path, err := cfg.Resolver.Resolve(item.Locator)
		if err != nil {
			status, code := http.StatusBadRequest, "BAD_REQUEST"
			if !errors.Is(err, media.ErrUnsupportedLocator) {
				status, code = http.StatusNotFound, "NOT_FOUND"
			}
			WriteError(w, status, err.Error(), code)
			return
		}

		if err := cfg.Files.ServeFile(w, r, path); err != nil {
			cfg.Logger.Error("playback error", "error", err, "media_id", id)
		}
	}
}

func exportFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var path, filename string
		if job, ok := cfg.Session.ExportJob(); ok && job.ID == id {
			if job.Status != export.StatusCompleted && job.Status != export.StatusCancelled {
				WriteError(w, http.StatusConflict, "export has no artifact", "CONFLICT")
				return
			}
			path, filename = job.Path, job.Filename
		} else if cfg.Repository != nil {
			stored, err := cfg.Repository.GetJob(r.Context(), id)
			if err != nil {
				writeSessionError(w, r, cfg.Logger, err)
				return
			}
			if stored != nil {
				path = stored.OutputPath
			}
		}
		if path == "" {
			WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
			return
		}

		if err := cfg.Files.ServeAttachment(w, r, path, filename); err != nil {
			cfg.Logger.Error("artifact download error", "error", err, "export_id", id)
		}
	}
}
