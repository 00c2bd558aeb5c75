package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"aadhaar-velocity/internal/logger"
	"aadhaar-velocity/internal/model"
	"aadhaar-velocity/internal/script"
	"aadhaar-velocity/internal/store/sqlite"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg, TraceID: logger.TraceID(r.Context())})
}

// statusOf maps a backend error to an HTTP status.
func statusOf(err error) int {
	var execErr *script.ExecutionError
	switch {
	case errors.Is(err, model.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnknownIndicator), errors.Is(err, sqlite.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sqlite.ErrDuplicateName):
		return http.StatusConflict
	case errors.As(err, &execErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := ErrorResponse{Error: err.Error(), TraceID: logger.TraceID(r.Context())}
	if kind, ok := script.KindOf(err); ok {
		resp.Kind = string(kind)
	}
	if status == http.StatusInternalServerError {
		logger.Ctx(r.Context(), h.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp.Error = "internal error"
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}
