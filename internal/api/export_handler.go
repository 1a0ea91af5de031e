package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vibedstudio/studio-agent/internal/export"
)

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartExportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		format, err := export.ParseFormat(strings.ToLower(req.Format))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "format must be mp4, webm or png-zip", "BAD_REQUEST")
			return
		}

		job, err := cfg.Session.StartExport(r.Context(), export.Request{
			Format: format,
			Name:   export.SanitizeName(req.Name, 120),
			Ratio:  req.Ratio,
		})
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, ExportToResponse(job))
	}
}

func currentExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := cfg.Session.ExportJob()
		if !ok {
			WriteError(w, http.StatusNotFound, "no export has run", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, ExportToResponse(job))
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cancelled, err := cfg.Session.CancelExport(r.Context())
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		if !cancelled {
			WriteError(w, http.StatusConflict, "no export is running", "CONFLICT")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, 500)
		}
		jobs, err := cfg.CatalogService.ListExports(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}
		resp := ExportsResponse{Exports: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Exports[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EDLRequest
		if !decodeBody(w, r, &req) {
			return
		}

		title := export.SanitizeName(req.Title, 120)
		if req.OutputDir != "" {
			if err := export.ValidateOutputDir(req.OutputDir); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		}

		edl, err := cfg.Session.ExportEDL(r.Context(), title)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}

		if req.OutputDir == "" {
			WriteJSON(w, http.StatusOK, EDLResponse{Status: "ok", EDL: edl})
			return
		}

		if title == "" {
			title = export.FilenamePrefix
		}
		outputPath := filepath.Join(req.OutputDir, title+".edl")
		if err := os.WriteFile(outputPath, []byte(edl), 0o644); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, EDLResponse{Status: "ok", OutputPath: outputPath})
	}
}
