package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey namespaces values this package stores on a request context
// so they can't collide with keys other packages might use.
type contextKey string

// RequestIDKey is the context key RequestID stores the generated or
// forwarded request id under.
const RequestIDKey contextKey = "request_id"

// RequestID assigns every request a correlation id: the inbound
// X-Request-ID header if the caller supplied one, otherwise a freshly
// generated UUID. The id is echoed back on the response and threaded
// through the request context so handlers and loggers can pick it up.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request id stashed on ctx by RequestID, or
// "" if none is present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
