// Package trace assigns every request an id that follows it through logs
// and back to the caller.
package trace

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ContextKey type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"

	// HeaderRequestID is read from trusted callers and echoed on responses.
	HeaderRequestID = "X-Request-ID"
)

// Middleware stores a request id on the context and the response. An
// incoming X-Request-ID is kept when it is a valid UUID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// FromRequest is GetRequestID for a request, shaped for log.Middleware.
func FromRequest(r *http.Request) string {
	return GetRequestID(r.Context())
}
