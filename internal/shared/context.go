package shared

import "context"

// Principal identifies the authenticated caller. Identity management lives in
// the surrounding gateway; every request arrives with a resolved pharmacy and
// user id.
type Principal struct {
	PharmacyID int64
	UserID     int64
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
