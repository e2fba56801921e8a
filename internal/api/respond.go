package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/provider-booking-engine/internal/appointment"
)

const busyRetryAfterSeconds = "1"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusFor maps a business error kind to its HTTP status.
func statusFor(kind appointment.Kind) int {
	switch kind {
	case appointment.KindValidation:
		return http.StatusBadRequest
	case appointment.KindNotFound:
		return http.StatusNotFound
	case appointment.KindConflict, appointment.KindInvalidTransition:
		return http.StatusConflict
	case appointment.KindBusy:
		return http.StatusServiceUnavailable
	case appointment.KindUnauthorized:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeServiceError renders a service error. Business errors carry their code
// to the client; anything else is logged and reported as internal.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	var domainErr *appointment.Error
	if !errors.As(err, &domainErr) {
		logger.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	status := statusFor(domainErr.Kind)
	switch {
	case errors.Is(err, appointment.ErrMissingActor):
		status = http.StatusUnauthorized
	case domainErr.Kind == appointment.KindBusy:
		w.Header().Set("Retry-After", busyRetryAfterSeconds)
	}

	writeError(w, status, domainErr.Code, domainErr.Error())
}
