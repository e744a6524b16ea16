package auth

import (
	"context"
	"errors"
	"time"
)

const (
	RoleClinic = "clinic"
	RoleAdmin  = "admin"
	RoleStaff  = "staff"
)

// ErrUnauthorized is returned by operations invoked without a verified
// identity in their context.
var ErrUnauthorized = errors.New("Unauthorized")

// Identity is the verified caller attached to a request by the auth
// middleware.
type Identity struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// HasRole reports whether the identity holds any of roles. Admins hold every
// role.
func (i Identity) HasRole(roles ...string) bool {
	for _, has := range i.Roles {
		if has == RoleAdmin {
			return true
		}
		for _, want := range roles {
			if has == want {
				return true
			}
		}
	}
	return false
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// RequireIdentity returns the caller or ErrUnauthorized.
func RequireIdentity(ctx context.Context) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}
