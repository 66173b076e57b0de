package authware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/centsible/centsible/auth"
	"github.com/centsible/centsible/middleware/authware"
)

// stubValidator returns canned claims without touching real signatures.
type stubValidator struct {
	claims auth.AuthClaims
	err    error
}

func (v stubValidator) Validate(string) (auth.AuthClaims, error) {
	return v.claims, v.err
}

// fakeAccounts is an in-memory AccountResolver.
type fakeAccounts struct {
	user       *auth.User
	getErr     error
	clearErr   error
	clearCalls int
}

func (f *fakeAccounts) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.user, nil
}

func (f *fakeAccounts) ClearLock(ctx context.Context, user *auth.User) error {
	f.clearCalls++
	return f.clearErr
}

func activeUser(role auth.UserRole, version int) *auth.User {
	return &auth.User{
		ID:            uuid.New(),
		Email:         "pat@example.com",
		Role:          role,
		EmailVerified: true,
		TokenVersion:  version,
	}
}

func accessClaims(user *auth.User, sessionID string) *auth.JWTClaims {
	return &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: user.ID.String(),
		},
		UID:      user.ID.String(),
		SID:      sessionID,
		Version:  user.TokenVersion,
		TokenUse: auth.TokenKindAccess,
		UserRole: string(user.Role),
	}
}

func TestResolvePrincipal(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	baseConfig := func(accounts *fakeAccounts) authware.Config {
		return authware.Config{
			Accounts: accounts,
			Clock:    func() time.Time { return now },
		}
	}

	t.Run("access token resolves to a principal", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 3)
		accounts := &fakeAccounts{user: user}
		claims := accessClaims(user, "session-1")

		principal, err := authware.ResolvePrincipal(ctx, claims, baseConfig(accounts))
		require.NoError(t, err)
		require.NotNil(t, principal)

		assert.Equal(t, user.ID.String(), principal.UserID)
		assert.Equal(t, "session-1", principal.SessionID)
		assert.Equal(t, auth.RoleMember, principal.Role)
		assert.True(t, principal.Can(auth.CapTransactionsWrite))
	})

	t.Run("refresh tokens are rejected", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 0)
		claims := accessClaims(user, "session-1")
		claims.TokenUse = auth.TokenKindRefresh

		_, err := authware.ResolvePrincipal(ctx, claims, baseConfig(&fakeAccounts{user: user}))
		assert.ErrorIs(t, err, auth.ErrTokenMalformed)
	})

	t.Run("unknown account", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 0)
		claims := accessClaims(user, "")

		_, err := authware.ResolvePrincipal(ctx, claims, baseConfig(&fakeAccounts{user: nil}))
		assert.ErrorIs(t, err, auth.ErrIdentityNotFound)
	})

	t.Run("resolver failure propagates", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 0)
		claims := accessClaims(user, "")
		boom := errors.New("connection refused")

		_, err := authware.ResolvePrincipal(ctx, claims, baseConfig(&fakeAccounts{getErr: boom}))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("active lockout is rejected", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 0)
		lockedUntil := now.Add(10 * time.Minute)
		user.LockedUntil = &lockedUntil
		user.LoginAttempts = 5
		accounts := &fakeAccounts{user: user}

		_, err := authware.ResolvePrincipal(ctx, accessClaims(user, ""), baseConfig(accounts))
		assert.ErrorIs(t, err, auth.ErrAccountLocked)
		assert.Zero(t, accounts.clearCalls)
	})

	t.Run("expired lockout is cleared on read", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 0)
		lockedUntil := now.Add(-time.Minute)
		attemptAt := now.Add(-20 * time.Minute)
		user.LockedUntil = &lockedUntil
		user.LoginAttemptAt = &attemptAt
		user.LoginAttempts = 5
		accounts := &fakeAccounts{user: user}

		principal, err := authware.ResolvePrincipal(ctx, accessClaims(user, ""), baseConfig(accounts))
		require.NoError(t, err)
		require.NotNil(t, principal)

		assert.Equal(t, 1, accounts.clearCalls)
		assert.Zero(t, user.LoginAttempts)
		assert.Nil(t, user.LoginAttemptAt)
		assert.Nil(t, user.LockedUntil)
	})

	t.Run("lock clear failure propagates", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 0)
		lockedUntil := now.Add(-time.Minute)
		user.LockedUntil = &lockedUntil
		boom := errors.New("update failed")

		_, err := authware.ResolvePrincipal(ctx, accessClaims(user, ""), baseConfig(&fakeAccounts{user: user, clearErr: boom}))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("stale token version is revoked", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 2)
		claims := accessClaims(user, "")
		claims.Version = 1

		_, err := authware.ResolvePrincipal(ctx, claims, baseConfig(&fakeAccounts{user: user}))
		assert.ErrorIs(t, err, auth.ErrTokenRevoked)
	})
}

func TestNewDegradesToAnonymous(t *testing.T) {
	next := func(ctx router.Context) error { return nil }

	t.Run("valid token attaches the principal", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 0)
		cfg := authware.Config{
			Validator: stubValidator{claims: accessClaims(user, "session-1")},
			Accounts:  &fakeAccounts{user: user},
		}

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer token-value"
		ctx.On("GetString", "Authorization", "").Return("Bearer token-value")
		ctx.On("Context").Return(context.Background())
		ctx.On("SetContext", mock.Anything).Return()
		ctx.On("Locals", "principal", mock.MatchedBy(func(v any) bool {
			p, ok := v.(*auth.Principal)
			return ok && p != nil && p.UserID == user.ID.String()
		})).Return(nil)

		err := authware.New(cfg)(next)(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
	})

	t.Run("missing token continues anonymously", func(t *testing.T) {
		cfg := authware.Config{
			Validator: stubValidator{err: auth.ErrTokenMalformed},
			Accounts:  &fakeAccounts{},
		}

		ctx := router.NewMockContext()
		ctx.On("GetString", "Authorization", "").Return("")
		ctx.On("Cookies", "access_token").Return("")
		ctx.On("Locals", "principal", nil).Return(nil)

		err := authware.New(cfg)(next)(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
	})

	t.Run("rejected token continues anonymously", func(t *testing.T) {
		cfg := authware.Config{
			Validator: stubValidator{err: auth.ErrTokenExpired},
			Accounts:  &fakeAccounts{},
			Logger:    auth.DefaultLogger(),
		}

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer expired-token"
		ctx.On("GetString", "Authorization", "").Return("Bearer expired-token")
		ctx.On("Locals", "principal", nil).Return(nil)

		err := authware.New(cfg)(next)(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
	})

	t.Run("revoked token continues anonymously", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 2)
		claims := accessClaims(user, "")
		claims.Version = 0

		cfg := authware.Config{
			Validator: stubValidator{claims: claims},
			Accounts:  &fakeAccounts{user: user},
		}

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer stale-token"
		ctx.On("GetString", "Authorization", "").Return("Bearer stale-token")
		ctx.On("Context").Return(context.Background())
		ctx.On("Locals", "principal", nil).Return(nil)

		err := authware.New(cfg)(next)(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
	})

	t.Run("validation listener failure continues anonymously", func(t *testing.T) {
		user := activeUser(auth.RoleMember, 0)
		cfg := authware.Config{
			Validator: stubValidator{claims: accessClaims(user, "")},
			Accounts:  &fakeAccounts{user: user},
			ValidationListeners: []authware.ValidationListener{
				func(ctx router.Context, claims auth.AuthClaims) error {
					return errors.New("audit hook rejected the request")
				},
			},
		}

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer token-value"
		ctx.On("GetString", "Authorization", "").Return("Bearer token-value")
		ctx.On("Locals", "principal", nil).Return(nil)

		err := authware.New(cfg)(next)(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
	})

	t.Run("filter bypasses the middleware", func(t *testing.T) {
		cfg := authware.Config{
			Validator: stubValidator{},
			Accounts:  &fakeAccounts{},
			Filter: func(ctx router.Context) bool {
				return true
			},
		}

		ctx := router.NewMockContext()

		err := authware.New(cfg)(next)(ctx)
		require.NoError(t, err)
		assert.True(t, ctx.NextCalled)
	})
}

func TestGuards(t *testing.T) {
	member := auth.NewPrincipal(activeUser(auth.RoleMember, 0), "session-1")
	admin := auth.NewPrincipal(activeUser(auth.RoleAdmin, 0), "session-2")

	withPrincipal := func(p *auth.Principal) *router.MockContext {
		ctx := router.NewMockContext()
		if p != nil {
			ctx.LocalsMock["principal"] = p
			ctx.On("Locals", "principal").Return(p)
		} else {
			ctx.On("Locals", "principal").Return(nil)
		}
		return ctx
	}

	nextCalled := false
	next := func(ctx router.Context) error {
		nextCalled = true
		return nil
	}

	t.Run("RequireAuthenticated rejects anonymous requests", func(t *testing.T) {
		nextCalled = false
		ctx := withPrincipal(nil)
		ctx.On("JSON", router.StatusUnauthorized, mock.Anything).Return(nil)

		err := authware.RequireAuthenticated("principal")(next)(ctx)
		require.NoError(t, err)
		assert.False(t, nextCalled)
	})

	t.Run("RequireAuthenticated passes a resolved principal", func(t *testing.T) {
		nextCalled = false
		ctx := withPrincipal(member)

		err := authware.RequireAuthenticated("principal")(next)(ctx)
		require.NoError(t, err)
		assert.True(t, nextCalled)
	})

	t.Run("RequireCapability rejects a principal without it", func(t *testing.T) {
		nextCalled = false
		ctx := withPrincipal(member)
		ctx.On("JSON", router.StatusForbidden, mock.Anything).Return(nil)

		err := authware.RequireCapability("principal", auth.CapUsersManage)(next)(ctx)
		require.NoError(t, err)
		assert.False(t, nextCalled)
	})

	t.Run("RequireCapability passes a principal holding it", func(t *testing.T) {
		nextCalled = false
		ctx := withPrincipal(admin)

		err := authware.RequireCapability("principal", auth.CapUsersManage)(next)(ctx)
		require.NoError(t, err)
		assert.True(t, nextCalled)
	})

	t.Run("RequireRole enforces the hierarchy", func(t *testing.T) {
		nextCalled = false
		ctx := withPrincipal(member)
		ctx.On("JSON", router.StatusForbidden, mock.Anything).Return(nil)

		err := authware.RequireRole("principal", auth.RoleAdmin)(next)(ctx)
		require.NoError(t, err)
		assert.False(t, nextCalled)

		nextCalled = false
		ctx = withPrincipal(admin)
		err = authware.RequireRole("principal", auth.RoleAdmin)(next)(ctx)
		require.NoError(t, err)
		assert.True(t, nextCalled)
	})

	t.Run("guards reject anonymous capability checks", func(t *testing.T) {
		nextCalled = false
		ctx := withPrincipal(nil)
		ctx.On("JSON", router.StatusUnauthorized, mock.Anything).Return(nil)

		err := authware.RequireCapability("principal", auth.CapTransactionsRead)(next)(ctx)
		require.NoError(t, err)
		assert.False(t, nextCalled)
	})
}

func TestGetDefaultConfig(t *testing.T) {
	t.Run("fills sensible defaults", func(t *testing.T) {
		cfg := authware.GetDefaultConfig(authware.Config{
			Accounts:   &fakeAccounts{},
			SigningKey: authware.SigningKey{Key: []byte("secret")},
		})

		assert.Equal(t, "principal", cfg.ContextKey)
		assert.Equal(t, "Bearer", cfg.AuthScheme)
		assert.Contains(t, cfg.TokenLookup, "header:Authorization")
		assert.Contains(t, cfg.TokenLookup, "cookie:access_token")
		assert.NotNil(t, cfg.Validator)
		assert.NotNil(t, cfg.Clock)
		assert.NotNil(t, cfg.SuccessHandler)
		assert.NotNil(t, cfg.ContextEnricher)
	})

	t.Run("keeps a provided validator", func(t *testing.T) {
		validator := stubValidator{err: auth.ErrTokenMalformed}
		cfg := authware.GetDefaultConfig(authware.Config{
			Accounts:  &fakeAccounts{},
			Validator: validator,
		})

		assert.Equal(t, validator, cfg.Validator)
	})

	t.Run("panics without an account resolver", func(t *testing.T) {
		assert.Panics(t, func() {
			authware.GetDefaultConfig(authware.Config{
				SigningKey: authware.SigningKey{Key: []byte("secret")},
			})
		})
	})

	t.Run("panics without any key material or validator", func(t *testing.T) {
		assert.Panics(t, func() {
			authware.GetDefaultConfig(authware.Config{
				Accounts: &fakeAccounts{},
			})
		})
	})
}

func TestKeyfuncFallbackValidator(t *testing.T) {
	signingKey := []byte("fallback-secret")

	sign := func(t *testing.T, claims *auth.JWTClaims) string {
		t.Helper()
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
		require.NoError(t, err)
		return signed
	}

	cfg := authware.GetDefaultConfig(authware.Config{
		Accounts: &fakeAccounts{},
		SigningKey: authware.SigningKey{
			Key:    signingKey,
			JWTAlg: jwt.SigningMethodHS256.Alg(),
		},
	})

	t.Run("accepts a signed token", func(t *testing.T) {
		token := sign(t, &auth.JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			UID: "user-1",
		})

		claims, err := cfg.Validator.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID())
	})

	t.Run("reports expiry distinctly", func(t *testing.T) {
		token := sign(t, &auth.JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})

		_, err := cfg.Validator.Validate(token)
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := cfg.Validator.Validate("not.a.token")
		assert.ErrorIs(t, err, auth.ErrTokenMalformed)
	})
}

func TestGetExtractors(t *testing.T) {
	t.Run("parses every supported source", func(t *testing.T) {
		extractors := authware.GetExtractors("header:Authorization,cookie:access_token,query:token,param:token")
		assert.Len(t, extractors, 4)
	})

	t.Run("skips malformed and unknown entries", func(t *testing.T) {
		extractors := authware.GetExtractors("bogus,body:token,header:Authorization")
		assert.Len(t, extractors, 1)
	})
}
