package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func listMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := cfg.Session.Library().List()
		if kind := r.URL.Query().Get("kind"); kind != "" {
			filtered := items[:0]
			for _, it := range items {
				if string(it.Kind) == kind {
					filtered = append(filtered, it)
				}
			}
			items = filtered
		}
		WriteJSON(w, http.StatusOK, MediaListResponse{Media: items})
	}
}

func importMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportMediaRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}
		item, err := cfg.CatalogService.ImportFile(r.Context(), req.Path, req.Name)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, item)
	}
}

func importFolderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportFolderRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}
		items, err := cfg.CatalogService.ImportFolder(r.Context(), req.Path)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusCreated, MediaListResponse{Media: items})
	}
}

func removeMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.CatalogService.RemoveMedia(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.CatalogService.ListProjects(r.Context())
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		resp := ProjectsResponse{Projects: make([]ProjectResponse, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = SummaryToResponse(p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func saveProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveProjectRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := cfg.Session.SaveProject(r.Context(), req.Name)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(p))
	}
}

func openProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := cfg.Session.OpenProject(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.CatalogService.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
