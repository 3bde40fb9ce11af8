package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dd0wney/cluso-gridsim/pkg/auth"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
)

// ClaimsContextKey is the context key for validated token claims
const ClaimsContextKey ContextKey = "claims"

// TokenValidator validates a raw bearer token
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// ClaimsFromContext returns the claims of an authenticated request
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.Claims)
	return claims, ok
}

// BearerAuth requires a valid bearer token on every request that can change
// simulation state. Safe methods pass through untouched. A nil validator
// disables the check.
func BearerAuth(validator TokenValidator, logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gridsim"`)
				writeError(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				logger.Warn("rejected bearer token",
					logging.String("path", r.URL.Path),
					logging.String("request_id", GetRequestID(r)),
					logging.Error(err),
				)
				message := "Invalid bearer token"
				if errors.Is(err, auth.ErrExpiredToken) {
					message = "Bearer token has expired"
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="gridsim", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, message)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
