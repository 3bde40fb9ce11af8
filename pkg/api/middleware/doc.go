// Package middleware provides the HTTP middleware chain of the simulation server.
//
// The package is organized into separate files by concern:
//
//   - recovery.go: panic recovery
//   - logging.go: structured request logging
//   - cors.go: Cross-Origin Resource Sharing for the browser frontend
//   - security_headers.go: response hardening headers
//   - body_limit.go: request body size limit
//   - request_id.go: request ID generation and propagation
//   - metrics.go: Prometheus request metrics
//   - auth.go: HS256 bearer-token guard for mutating requests
//   - writer.go: status-capturing response writer that keeps streaming working
//
// All middleware follows the standard pattern: func(http.Handler) http.Handler
//
//	handler := middleware.Metrics(registry)(mux)
//	handler = middleware.BearerAuth(tokens, logger)(handler)
//	handler = middleware.Logging(logger, middleware.GetRequestID)(handler)
//	handler = middleware.RequestID()(handler)
//	handler = middleware.CORS(corsConfig)(handler)
//	handler = middleware.PanicRecovery(logger)(handler)
package middleware
