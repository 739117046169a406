package service

import (
	"context"
	"errors"
	"strings"

	"planning-board/internal/identity/domain"
	"planning-board/internal/security"
	userdomain "planning-board/internal/user/domain"
)

// ErrAuthentication is returned for a missing, invalid or expired bearer token, or a token whose
// user is unknown or disabled.
var ErrAuthentication = errors.New("authentication failed")

// TokenValidator validates access tokens. Implemented by security.TokenProvider.
type TokenValidator interface {
	ValidateAccess(token string) (*security.AccessClaims, error)
}

// UserRepo is the minimal user repository needed by the authenticator.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Authenticator resolves bearer tokens into identities.
type Authenticator struct {
	tokens TokenValidator
	users  UserRepo
}

// NewAuthenticator returns an Authenticator. users may be nil, in which case the identity is
// taken from the token claims alone.
func NewAuthenticator(tokens TokenValidator, users UserRepo) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate validates token and returns the caller's identity.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || a.tokens == nil {
		return nil, ErrAuthentication
	}
	claims, err := a.tokens.ValidateAccess(token)
	if err != nil {
		return nil, ErrAuthentication
	}
	ident := &domain.Identity{
		UserID:      claims.Subject,
		DisplayName: claims.Name,
		Role:        claims.Role,
	}
	if a.users == nil {
		return ident, nil
	}

	u, err := a.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if u == nil || u.Status == userdomain.UserStatusDisabled {
		return nil, ErrAuthentication
	}
	if ident.DisplayName == "" {
		ident.DisplayName = u.Name
	}
	// The stored role wins over the token so demotions apply before the token expires.
	if u.Role != "" {
		ident.Role = string(u.Role)
	}
	return ident, nil
}

// BearerToken extracts the token from an Authorization header value, or "" if it is not a Bearer credential.
func BearerToken(header string) string {
	const prefix = "bearer "
	v := strings.TrimSpace(header)
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}
