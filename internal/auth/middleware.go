package auth

import (
	"context"
	"net/http"
)

type contextKey string

const identityKey contextKey = "identity"

// Authenticator resolves request headers into an Identity. *Resolver
// implements it.
type Authenticator interface {
	Resolve(ctx context.Context, apiKey, authorization string) (Identity, error)
}

// ErrorWriter renders a resolution failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RequireIdentity resolves the caller before the handler runs. Failures
// short-circuit the request through onError.
//
// Usage with chi:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(auth.RequireIdentity(resolver, writeError))
//	    r.Get("/active-users", h.ActiveUsers)
//	})
func RequireIdentity(a Authenticator, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Resolve(r.Context(),
				r.Header.Get("X-API-Key"),
				r.Header.Get("Authorization"),
			)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity stored by RequireIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id != nil
}
