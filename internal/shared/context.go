package shared

import (
	"context"

	"github.com/google/uuid"
)

// Principal is the caller resolved by the upstream identity provider.
type Principal struct {
	OrgID  uuid.UUID
	UserID uuid.UUID
	Level  Level
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || p.OrgID == uuid.Nil {
		return Principal{}, false
	}
	return p, true
}

// SystemPrincipal acts for background processing inside one org.
func SystemPrincipal(orgID uuid.UUID) Principal {
	return Principal{OrgID: orgID, Level: L5}
}
