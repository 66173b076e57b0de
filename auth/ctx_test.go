package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/centsible/centsible/auth"
)

func TestPrincipalContext(t *testing.T) {
	t.Run("round trips a principal", func(t *testing.T) {
		user := newVerifiedUser("irrelevant password")
		principal := auth.NewPrincipal(user, "session-1")

		ctx := auth.WithPrincipal(context.Background(), principal)

		got, ok := auth.PrincipalFromContext(ctx)
		assert.True(t, ok)
		assert.Equal(t, principal.UserID, got.UserID)
	})

	t.Run("empty context has no principal", func(t *testing.T) {
		_, ok := auth.PrincipalFromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("nil principal stays anonymous", func(t *testing.T) {
		ctx := auth.WithPrincipal(context.Background(), nil)
		_, ok := auth.PrincipalFromContext(ctx)
		assert.False(t, ok)
	})

	t.Run("Can consults the stored principal", func(t *testing.T) {
		user := newVerifiedUser("irrelevant password")
		ctx := auth.WithPrincipal(context.Background(), auth.NewPrincipal(user, "session-1"))

		assert.True(t, auth.Can(ctx, auth.CapTransactionsRead))
		assert.False(t, auth.Can(ctx, auth.CapUsersManage))
		assert.False(t, auth.Can(context.Background(), auth.CapTransactionsRead))
	})
}
