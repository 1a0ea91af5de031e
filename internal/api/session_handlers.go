package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vibedstudio/studio-agent/internal/timeline"
)

func playHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Play(r.Context()); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Pause(r.Context()); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func toggleHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.TogglePlay(r.Context()); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if !decodeBody(w, r, &req) {
			return
		}
		t, err := cfg.Session.Seek(r.Context(), req.Time)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, SeekResponse{Time: t})
	}
}

func getTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := cfg.Session.Snapshot(r.Context())
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func restoreTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		snap, err := timeline.DecodeSnapshot(data)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		if err := cfg.Session.Restore(r.Context(), snap); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func clearTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Clear(r.Context()); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func viewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ViewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var resp ViewResponse
		if req.Zoom != nil {
			zoom, err := cfg.Session.SetZoom(r.Context(), *req.Zoom)
			if err != nil {
				writeSessionError(w, r, cfg.Logger, err)
				return
			}
			resp.Zoom = zoom
		}
		if req.StageRatio != nil {
			stage, err := cfg.Session.SetStageRatio(r.Context(), *req.StageRatio)
			if err != nil {
				writeSessionError(w, r, cfg.Logger, err)
				return
			}
			resp.StageWidth, resp.StageHeight = stage.Width, stage.Height
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func selectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := cfg.Session.Select(r.Context(), req.SegmentID); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listTracksHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracks, err := cfg.Session.Tracks(r.Context())
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, TracksResponse{Tracks: tracks})
	}
}

func addTrackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddTrackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !req.Kind.Valid() {
			WriteError(w, http.StatusBadRequest, "kind must be video, audio, text or effect", "BAD_REQUEST")
			return
		}
		info, err := cfg.Session.AddTrack(r.Context(), req.Kind)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, info)
	}
}

func dropMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DropMediaRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.MediaID == "" || req.TrackID == "" {
			WriteError(w, http.StatusBadRequest, "media_id and track_id are required", "BAD_REQUEST")
			return
		}
		placed, err := cfg.Session.DropMedia(r.Context(), req.MediaID, req.TrackID, req.Start)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, placed)
	}
}

func moveSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MoveSegmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		placed, err := cfg.Session.MoveSegment(r.Context(), chi.URLParam(r, "id"), req.TrackID, req.Start)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, placed)
	}
}

func trimSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TrimSegmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Edge != timeline.EdgeLeft && req.Edge != timeline.EdgeRight {
			WriteError(w, http.StatusBadRequest, "edge must be left or right", "BAD_REQUEST")
			return
		}
		id := chi.URLParam(r, "id")
		if err := cfg.Session.TrimSegment(r.Context(), id, req.Edge, req.Delta); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		writeSegment(w, r, cfg, id)
	}
}

func removeSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.RemoveSegment(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func patchSegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p SegmentPatch
		if !decodeBody(w, r, &p) {
			return
		}
		if p.empty() {
			WriteError(w, http.StatusBadRequest, "nothing to change", "BAD_REQUEST")
			return
		}

		ctx := r.Context()
		s := cfg.Session
		id := chi.URLParam(r, "id")
		var box *BoxRequest

		steps := []func() error{
			func() error {
				if p.Muted == nil {
					return nil
				}
				return s.SetMuted(ctx, id, *p.Muted)
			},
			func() error {
				if p.FadeIn == nil {
					return nil
				}
				return s.SetFade(ctx, id, timeline.EdgeLeft, *p.FadeIn)
			},
			func() error {
				if p.FadeOut == nil {
					return nil
				}
				return s.SetFade(ctx, id, timeline.EdgeRight, *p.FadeOut)
			},
			func() error {
				if p.EffectKey == nil {
					return nil
				}
				return s.SetEffectKey(ctx, id, *p.EffectKey)
			},
			func() error {
				switch {
				case p.ResetTransform:
					return s.ResetTransform(ctx, id)
				case p.Transform != nil:
					return s.SetTransform(ctx, id, *p.Transform)
				}
				return nil
			},
			func() error {
				if p.Text == nil {
					return nil
				}
				return s.UpdateTextStyle(ctx, id, p.Text.apply)
			},
			func() error {
				switch {
				case p.ClearBox:
					return s.ClearTextBox(ctx, id)
				case p.Box != nil:
					size, err := s.ResizeText(ctx, id, p.Box.Width, p.Box.Height)
					if err != nil {
						return err
					}
					box = &BoxRequest{Width: size.W, Height: size.H}
				}
				return nil
			},
		}
		for _, step := range steps {
			if err := step(); err != nil {
				writeSessionError(w, r, cfg.Logger, err)
				return
			}
		}

		seg, err := findSegment(r, cfg, id)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, SegmentResponse{Segment: seg, Box: box})
	}
}

func findSegment(r *http.Request, cfg ServerConfig, id string) (*timeline.Segment, error) {
	snap, err := cfg.Session.Snapshot(r.Context())
	if err != nil {
		return nil, err
	}
	for _, tr := range snap.Tracks {
		for i := range tr.Segments {
			if tr.Segments[i].ID == id {
				return &tr.Segments[i], nil
			}
		}
	}
	return nil, timeline.ErrSegmentNotFound
}

func writeSegment(w http.ResponseWriter, r *http.Request, cfg ServerConfig, id string) {
	seg, err := findSegment(r, cfg, id)
	if err != nil {
		writeSessionError(w, r, cfg.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, SegmentResponse{Segment: seg})
}

func copySegmentHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.Copy(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pasteHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		placed, err := cfg.Session.Paste(r.Context())
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, placed)
	}
}

func extractAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		placed, err := cfg.Session.ExtractAudio(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, placed)
	}
}

func holdFrameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := cfg.Session.HoldFrame(r.Context())
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, item)
	}
}

func addTransitionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !req.Type.Valid() {
			WriteError(w, http.StatusBadRequest, "type must be fade-in, fade-out or crossfade", "BAD_REQUEST")
			return
		}

		var (
			tr  timeline.Transition
			err error
		)
		switch {
		case req.LeftID != "" && req.RightID != "":
			tr, err = cfg.Session.AddTransition(r.Context(), req.LeftID, req.RightID, req.Type)
		case req.TrackID != "" && req.At != nil:
			tr, err = cfg.Session.DropTransition(r.Context(), req.TrackID, *req.At, req.Type)
		default:
			WriteError(w, http.StatusBadRequest, "left_id and right_id, or track_id and at, are required", "BAD_REQUEST")
			return
		}
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, tr)
	}
}

func removeTransitionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		left, right := r.URL.Query().Get("left_id"), r.URL.Query().Get("right_id")
		if left == "" || right == "" {
			WriteError(w, http.StatusBadRequest, "left_id and right_id are required", "BAD_REQUEST")
			return
		}
		removed, err := cfg.Session.RemoveTransition(r.Context(), left, right)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		if !removed {
			WriteError(w, http.StatusNotFound, "transition not found", "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func beginDragHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DragStartRequest
		if !decodeBody(w, r, &req) {
			return
		}
		mode, err := cfg.Session.BeginDrag(r.Context(), req.SegmentID, req.Modifier, req.Handle)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, DragStartResponse{Mode: string(mode)})
	}
}

func updateDragHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DragMoveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := cfg.Session.UpdateDrag(r.Context(), req.DX, req.DY)
		if err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func endDragHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Session.EndDrag(r.Context()); err != nil {
			writeSessionError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
