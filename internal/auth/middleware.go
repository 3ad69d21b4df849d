package auth

import (
	"context"
	"net/http"
	"strings"

	pkghttp "github.com/rowanvale/sentinel/pkg/http"
)

type contextKey string

const identityContextKey contextKey = "identity"

// RequireSession extracts the bearer value from the Authorization header and
// validates it through the SessionValidator. The validated identity key is
// placed on the request context.
func RequireSession(validator *SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			bearer, found := strings.CutPrefix(header, "Bearer ")
			if !found || bearer == "" {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			identity, token, ok := SplitBearer(bearer)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !validator.Verify(r.Context(), identity, token) {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalSession populates the identity when a valid bearer is present and
// passes the request through either way. Handlers that serve both pre-auth
// and authenticated callers decide per request whether an identity is
// required.
func OptionalSession(validator *SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			bearer, found := strings.CutPrefix(header, "Bearer ")
			if found && bearer != "" {
				if identity, token, ok := SplitBearer(bearer); ok && validator.Verify(r.Context(), identity, token) {
					r = r.WithContext(ContextWithIdentity(r.Context(), identity))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ContextWithIdentity returns a context carrying a validated identity key.
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the identity key set by RequireSession, or ""
// when the request was not authenticated.
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(identityContextKey).(string)
	return identity
}
