package authz

import "context"

// contextKey is the type for context keys to prevent collisions
type contextKey string

// principalKey carries the *Principal resolved by the HTTP middleware.
const principalKey contextKey = "principal"

// WithPrincipal attaches the principal to a context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the principal from a context. Returns nil when the
// request is unauthenticated.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
