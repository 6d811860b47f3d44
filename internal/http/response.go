package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"haushalt/internal/auth"
	"haushalt/internal/core"
	"haushalt/internal/log"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Lines int    `json:"lines,omitempty"`
}

type affectedBody struct {
	Affected int `json:"affected"`
}

type userBody struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"created_at"`
}

func newUserBody(u core.User) userBody {
	return userBody{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("JSON encode failed", log.FieldError, err)
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="haushalt", charset="UTF-8"`)
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: auth.ErrInvalidCredentials.Error()})
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and answered with a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *core.ValidationError
		inUse      *core.CategoryInUseError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: validation.Error(), Field: validation.Field})
	case errors.As(err, &inUse):
		writeJSON(w, http.StatusConflict, errorBody{Error: inUse.Error(), Lines: inUse.Lines})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, core.ErrUsernameTaken):
		writeJSON(w, http.StatusConflict, errorBody{Error: core.ErrUsernameTaken.Error(), Field: "username"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w)
	case errors.Is(err, core.ErrConcurrencyTimeout):
		log.FromContext(r.Context()).WarnContext(r.Context(), "Ledger lock timed out",
			log.NewFields().WithError(err).WithErrorType(log.ErrorTypeTimeout).
				WithOperation(r.Method+" "+r.URL.Path).ToSlice()...)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "ledger busy, retry shortly"})
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
	case errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.NewFields().WithError(err).WithErrorType(log.ErrorTypeInternal).
				WithOperation(r.Method+" "+r.URL.Path).ToSlice()...)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
