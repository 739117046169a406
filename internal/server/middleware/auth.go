package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"planning-board/internal/identity/domain"
	identityservice "planning-board/internal/identity/service"
)

// Authenticator resolves a bearer token into an identity. Implemented by identityservice.Authenticator.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Identity, error)
}

// RequestToken returns the bearer token from the Authorization header, falling back to the
// access_token query parameter (browsers cannot set headers on WebSocket upgrades).
func RequestToken(r *http.Request) string {
	if t := identityservice.BearerToken(r.Header.Get("Authorization")); t != "" {
		return t
	}
	return r.URL.Query().Get("access_token")
}

// Auth validates the bearer token and sets the identity in the request context. Paths in
// publicPaths pass through without a token; a valid token on a public path still sets the identity.
func Auth(auth Authenticator, publicPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			public := publicPaths[r.URL.Path]
			token := RequestToken(r)
			if token == "" {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				unauthenticated(w)
				return
			}

			ident, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, identityservice.ErrAuthentication) {
					log.Printf("auth: authenticate %s %s: %v", r.Method, r.URL.Path, err)
				}
				if public {
					next.ServeHTTP(w, r)
					return
				}
				unauthenticated(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

func unauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="planning-board"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "missing or invalid authorization",
		"code":  "authentication_error",
	})
}
