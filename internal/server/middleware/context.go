// Package middleware holds the HTTP middleware shared by the REST and WebSocket endpoints:
// bearer authentication, client IP capture, request logging, and request telemetry.
package middleware

import (
	"context"

	"planning-board/internal/identity/domain"
)

type contextKey struct{ name string }

var (
	identityKey = contextKey{"identity"}
	clientIPKey = contextKey{"client_ip"}
)

// WithIdentity returns a context carrying the authenticated caller.
func WithIdentity(ctx context.Context, ident *domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// IdentityFrom returns the identity set by WithIdentity, or nil, false.
func IdentityFrom(ctx context.Context) (*domain.Identity, bool) {
	v, ok := ctx.Value(identityKey).(*domain.Identity)
	return v, ok && v != nil
}

// GetUserID returns the authenticated user id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	ident, ok := IdentityFrom(ctx)
	if !ok {
		return "", false
	}
	return ident.UserID, true
}

// WithClientIP returns a context carrying the client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the IP stored by the ClientIP middleware, or "unknown".
// It matches audit.IPExtractor.
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
