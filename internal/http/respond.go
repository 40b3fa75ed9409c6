package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"burnrate/internal/core"
	"burnrate/internal/log"
)

type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case core.IsValidation(err),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidStartDay),
		errors.Is(err, core.ErrUnknownCategory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSyncInProgress),
		errors.Is(err, core.ErrTokenMissing):
		return http.StatusConflict
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err at a level matching its status and answers with a
// JSON body. Internal failures are not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), RequestID: w.Header().Get("X-Request-ID")}

	var ve *core.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}

	logger := log.FromContext(r.Context())
	switch {
	case status >= 500:
		logger.ErrorContext(r.Context(), "request failed",
			log.FieldError, err,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, status)
		body.Error = http.StatusText(status)
	case status == http.StatusUnauthorized:
		logger.DebugContext(r.Context(), "request unauthorized", log.FieldError, err)
		body.Error = http.StatusText(status)
	default:
		logger.InfoContext(r.Context(), "request rejected",
			log.FieldError, err,
			log.FieldStatusCode, status)
	}
	writeJSON(w, status, body)
}
