package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const ServiceKey contextKey = "service"

var (
	errMissingHeader = errors.New("authorization header required")
	errBadScheme     = errors.New("invalid authorization format")
)

// bearerToken extracts the token from an "Authorization: Bearer <token>" header
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errBadScheme
	}
	return strings.TrimSpace(token), nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="collegecue-notify"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// Middleware rejects requests without a valid bearer service token and
// stores the calling service in the request context. A nil TokenService
// disables the check.
func Middleware(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			claims, err := tokens.Validate(raw)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ServiceKey, claims.Service)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetService returns the calling service stored by Middleware
func GetService(ctx context.Context) (string, bool) {
	svc, ok := ctx.Value(ServiceKey).(string)
	return svc, ok
}
