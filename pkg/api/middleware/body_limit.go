package middleware

import (
	"net/http"
)

// DefaultMaxBodyBytes bounds parameter payloads
const DefaultMaxBodyBytes = 1 << 20

// BodySizeLimit creates middleware that limits the size of incoming request bodies.
func BodySizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}

			// Chunked bodies carry no Content-Length.
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			next.ServeHTTP(w, r)
		})
	}
}
