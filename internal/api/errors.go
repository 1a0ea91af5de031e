package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vibedstudio/studio-agent/internal/catalog"
	"github.com/vibedstudio/studio-agent/internal/editor"
	"github.com/vibedstudio/studio-agent/internal/export"
	"github.com/vibedstudio/studio-agent/internal/media"
	"github.com/vibedstudio/studio-agent/internal/pipeline"
	"github.com/vibedstudio/studio-agent/internal/playback"
	"github.com/vibedstudio/studio-agent/internal/timeline"
)

type errorClass struct {
	status int
	code   string
}

var errorClasses = []struct {
	errs  []error
	class errorClass
}{
	{[]error{timeline.ErrNoSpace}, errorClass{http.StatusConflict, "NO_SPACE"}},
	{[]error{
		timeline.ErrTrackNotFound,
		timeline.ErrSegmentNotFound,
		media.ErrItemNotFound,
		catalog.ErrProjectNotFound,
		editor.ErrNoLayer,
	}, errorClass{http.StatusNotFound, "NOT_FOUND"}},
	{[]error{
		export.ErrExportInProgress,
		editor.ErrExporting,
		editor.ErrClipboardEmpty,
		editor.ErrNoDrag,
	}, errorClass{http.StatusConflict, "CONFLICT"}},
	{[]error{
		timeline.ErrIncompatibleTrack,
		timeline.ErrNotAdjacent,
		timeline.ErrInvalidSegment,
		timeline.ErrMalformedSnapshot,
		editor.ErrTitleFixed,
		editor.ErrWrongKind,
		editor.ErrUnknownEffect,
		export.ErrUnknownFormat,
		export.ErrNothingToExport,
		catalog.ErrEmptyName,
		catalog.ErrUnsupportedFile,
		pipeline.ErrNoAudioStream,
		errBadStyle,
	}, errorClass{http.StatusBadRequest, "BAD_REQUEST"}},
	{[]error{
		pipeline.ErrFFmpegUnavailable,
		export.ErrNoCaptureStream,
		editor.ErrNoCatalog,
		playback.ErrLoopStopped,
	}, errorClass{http.StatusServiceUnavailable, "INTERNAL_ERROR"}},
}

func classify(err error) errorClass {
	for _, c := range errorClasses {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return errorClass{http.StatusInternalServerError, "INTERNAL_ERROR"}
}

// writeSessionError maps a domain error onto an HTTP status and error code.
// Unclassified errors are logged and reported without detail.
func writeSessionError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c := classify(err)
	if c.status == http.StatusInternalServerError {
		requestID, _ := r.Context().Value(RequestIDKey).(string)
		logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", requestID)
		WriteError(w, c.status, "internal error", c.code)
		return
	}
	WriteError(w, c.status, err.Error(), c.code)
}
