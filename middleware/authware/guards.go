package authware

import (
	"github.com/goliatone/go-router"

	"github.com/centsible/centsible/auth"
)

// RequireAuthenticated rejects requests that reached the handler without a
// resolved principal. Pair it with New, which only degrades.
func RequireAuthenticated(contextKey string) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if _, ok := auth.PrincipalFromRouter(ctx, contextKey); !ok {
				return ctx.JSON(router.StatusUnauthorized, map[string]any{
					"error": "authentication required",
				})
			}
			return hf(ctx)
		}
	}
}

// RequireCapability rejects authenticated requests whose principal lacks the
// capability, and anonymous requests outright.
func RequireCapability(contextKey string, capability auth.Capability) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			principal, ok := auth.PrincipalFromRouter(ctx, contextKey)
			if !ok {
				return ctx.JSON(router.StatusUnauthorized, map[string]any{
					"error": "authentication required",
				})
			}
			if !principal.Can(capability) {
				return ctx.JSON(router.StatusForbidden, map[string]any{
					"error": "insufficient permissions",
				})
			}
			return hf(ctx)
		}
	}
}

// RequireRole rejects requests whose principal sits below the given role in
// the role hierarchy.
func RequireRole(contextKey string, minRole auth.UserRole) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			principal, ok := auth.PrincipalFromRouter(ctx, contextKey)
			if !ok {
				return ctx.JSON(router.StatusUnauthorized, map[string]any{
					"error": "authentication required",
				})
			}
			if !principal.IsAtLeast(minRole) {
				return ctx.JSON(router.StatusForbidden, map[string]any{
					"error": "insufficient permissions",
				})
			}
			return hf(ctx)
		}
	}
}
