package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var principalCtxKey = &contextKey{"principal"}

type contextKey struct {
	name string
}

// WithPrincipal sets the Principal in the given context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext finds the principal in the standard context
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	raw, ok := ctx.Value(principalCtxKey).(*Principal)
	if !ok || raw == nil {
		return nil, false
	}
	return raw, true
}

// PrincipalFromRouter extracts the Principal from the router context
func PrincipalFromRouter(ctx router.Context, key string) (*Principal, bool) {
	if key == "" {
		key = "principal"
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	p, ok := raw.(*Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// Can is a convenience capability check against the standard context
func Can(ctx context.Context, c Capability) bool {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return false
	}
	return p.Can(c)
}

// CanFromRouter is a convenience capability check against the router context
func CanFromRouter(ctx router.Context, key string, c Capability) bool {
	p, ok := PrincipalFromRouter(ctx, key)
	if !ok {
		return false
	}
	return p.Can(c)
}
