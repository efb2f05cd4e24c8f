package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		RequestID: requestID(r),
	})
}

func (s *Server) writeFieldErrors(w http.ResponseWriter, r *http.Request, details interface{}) {
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     http.StatusText(http.StatusBadRequest),
		Message:   "submission fields failed validation",
		RequestID: requestID(r),
		Details:   details,
	})
}

// writeErr maps an error kind to its status code. Unknown errors are
// logged and surface as 500 without leaking internals.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", requestID(r)).Str("path", r.URL.Path).Msg("handler failed")
		s.writeError(w, r, status, "internal error")
		return
	}
	if status == http.StatusServiceUnavailable {
		log.Warn().Err(err).Str("request_id", requestID(r)).Str("path", r.URL.Path).Msg("upstream unavailable")
	}
	s.writeError(w, r, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsUnauthorized(err):
		return http.StatusUnauthorized
	case apperr.IsForbidden(err):
		return http.StatusForbidden
	case apperr.IsNotFound(err):
		return http.StatusNotFound
	case apperr.IsConflict(err):
		return http.StatusConflict
	case apperr.IsRateLimited(err):
		return http.StatusTooManyRequests
	case apperr.IsUpstream(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
