package auth

import (
	"context"
	"testing"

	"bookhaven/pkg/domain"
)

func TestIdentityContextRoundTrip(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatalf("expected no identity on empty context")
	}
	ctx := ContextWithIdentity(context.Background(), Identity{
		UserID: "u-1",
		Email:  "alice@x.com",
		Roles:  []domain.UserRole{domain.RoleUser},
	})
	id, ok := IdentityFromContext(ctx)
	if !ok {
		t.Fatalf("expected identity in context")
	}
	if id.Email != "alice@x.com" || id.IsAdmin() {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestIdentityWithoutEmailIsIgnored(t *testing.T) {
	ctx := ContextWithIdentity(context.Background(), Identity{UserID: "u-1"})
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatalf("expected identity without email to be treated as absent")
	}
}
