package middleware

import (
	"net/http"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/logging"
)

// Logging creates middleware that logs every request with its status and latency.
// It uses the request ID from context if available.
func Logging(logger logging.Logger, getRequestID func(*http.Request) string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", sw.statusCode),
				logging.Int("bytes", sw.bytesWritten),
				logging.Latency(time.Since(start)),
			}
			if getRequestID != nil {
				if id := getRequestID(r); id != "" {
					fields = append(fields, logging.String("request_id", id))
				}
			}

			switch {
			case sw.statusCode >= http.StatusInternalServerError:
				logger.Error("http request", fields...)
			case sw.statusCode >= http.StatusBadRequest:
				logger.Warn("http request", fields...)
			default:
				logger.Debug("http request", fields...)
			}
		})
	}
}
