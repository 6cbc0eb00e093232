package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error      string `json:"error"`
	CapBytes   int64  `json:"cap_bytes,omitempty"`
	TotalBytes int64  `json:"total_bytes,omitempty"`
	Delta      int64  `json:"delta,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}

// writeServiceError maps service errors to status codes. Storage failures
// are logged with their cause but answered with a fixed message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var qe *simpleasset.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		render.Status(r, http.StatusRequestEntityTooLarge)
		render.JSON(w, r, ErrorResponse{
			Error:      simpleasset.ErrQuotaExceeded.Error(),
			CapBytes:   qe.CapBytes,
			TotalBytes: qe.TotalBytes,
			Delta:      qe.Delta,
		})
	case errors.Is(err, simpleasset.ErrRecordNotFound):
		writeError(w, r, http.StatusNotFound, "record not found")
	case errors.Is(err, simpleasset.ErrObjectNotFound):
		writeError(w, r, http.StatusNotFound, "object not found")
	case errors.Is(err, simpleasset.ErrVersionConflict):
		writeError(w, r, http.StatusConflict, "record was modified concurrently")
	case errors.Is(err, simpleasset.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err, "cause", errors.Unwrap(err))
		writeError(w, r, http.StatusInternalServerError, simpleasset.ErrStorageFailure.Error())
	}
}
