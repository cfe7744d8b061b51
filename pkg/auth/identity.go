package auth

import (
	"context"

	"bookhaven/pkg/domain"
)

type identityContextKey struct{}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID string
	Email  string
	Roles  []domain.UserRole
}

// HasRole reports whether the identity carries role.
func (id Identity) HasRole(role domain.UserRole) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool {
	return id.HasRole(domain.RoleAdmin)
}

// ContextWithIdentity returns a child context carrying id.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached to ctx, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok || id.Email == "" {
		return Identity{}, false
	}
	return id, true
}
