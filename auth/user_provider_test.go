package auth_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centsible/centsible/auth"
)

func TestUserProvider_VerifyIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials return an identity with the live token version", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		user.TokenVersion = 3
		store := newMemUserStore(user)
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		identity, err := provider.VerifyIdentity(ctx, user.Email, "correct horse battery")

		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), identity.ID())
		assert.Equal(t, user.Email, identity.Email())
		assert.Equal(t, string(auth.RoleMember), identity.Role())
		assert.Equal(t, 3, identity.TokenVersion())
	})

	t.Run("lookup is case insensitive", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		store := newMemUserStore(user)
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		_, err := provider.VerifyIdentity(ctx, "PAT@EXAMPLE.COM", "correct horse battery")
		assert.NoError(t, err)
	})

	t.Run("unknown identifier reads as invalid credentials", func(t *testing.T) {
		store := newMemUserStore()
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		_, err := provider.VerifyIdentity(ctx, "nobody@example.com", "whatever")

		require.Error(t, err)
		assert.True(t, goerrors.Is(err, auth.ErrMismatchedHashAndPassword))
	})

	t.Run("wrong password reads as invalid credentials and counts the attempt", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		store := newMemUserStore(user)
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		_, err := provider.VerifyIdentity(ctx, user.Email, "wrong")

		require.Error(t, err)
		assert.True(t, goerrors.Is(err, auth.ErrMismatchedHashAndPassword))
		assert.Equal(t, 1, store.snapshot(user.ID).LoginAttempts)
	})

	t.Run("unverified email is rejected", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		user.EmailVerified = false
		store := newMemUserStore(user)
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		_, err := provider.VerifyIdentity(ctx, user.Email, "correct horse battery")

		require.Error(t, err)
		assert.True(t, goerrors.Is(err, auth.ErrEmailNotVerified))
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		user.Role = auth.UserRole("superuser")
		store := newMemUserStore(user)
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		_, err := provider.VerifyIdentity(ctx, user.Email, "correct horse battery")
		assert.Error(t, err)
	})

	t.Run("success resets the attempt counter", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		store := newMemUserStore(user)
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		for i := 0; i < 3; i++ {
			_, err := provider.VerifyIdentity(ctx, user.Email, "wrong")
			require.Error(t, err)
		}
		assert.Equal(t, 3, store.snapshot(user.ID).LoginAttempts)

		_, err := provider.VerifyIdentity(ctx, user.Email, "correct horse battery")
		require.NoError(t, err)
		assert.Equal(t, 0, store.snapshot(user.ID).LoginAttempts)
	})
}

// racingUserStore simulates a concurrent failed attempt landing in the
// store between the provider's read and its own increment
type racingUserStore struct {
	*memUserStore
}

func (s *racingUserStore) TrackAttemptedLogin(ctx context.Context, user *auth.User, threshold int, lockUntil time.Time) (int, error) {
	if _, err := s.memUserStore.TrackAttemptedLogin(ctx, user, threshold, lockUntil); err != nil {
		return 0, err
	}
	return s.memUserStore.TrackAttemptedLogin(ctx, user, threshold, lockUntil)
}

func TestUserProvider_Lockout(t *testing.T) {
	ctx := context.Background()

	t.Run("fifth consecutive failure locks the account", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		store := newMemUserStore(user)
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		for i := 0; i < auth.MaxLoginAttempts-1; i++ {
			_, err := provider.VerifyIdentity(ctx, user.Email, "wrong")
			require.Error(t, err)
			assert.True(t, goerrors.Is(err, auth.ErrMismatchedHashAndPassword), "attempt %d", i+1)
		}

		_, err := provider.VerifyIdentity(ctx, user.Email, "wrong")
		require.Error(t, err)
		assert.True(t, goerrors.Is(err, auth.ErrTooManyLoginAttempts))
		assert.NotNil(t, store.snapshot(user.ID).LockedUntil)
	})

	t.Run("the attempt that engages the lock reports it under racing failures", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		user.LoginAttempts = auth.MaxLoginAttempts - 2
		store := &racingUserStore{memUserStore: newMemUserStore(user)}
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		// the racing store lands a second failure inside the same
		// increment, pushing the count to the threshold
		_, err := provider.VerifyIdentity(ctx, user.Email, "wrong")
		require.Error(t, err)
		assert.True(t, goerrors.Is(err, auth.ErrTooManyLoginAttempts))
		assert.NotNil(t, store.snapshot(user.ID).LockedUntil)
	})

	t.Run("correct password is rejected while the lock window is active", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		store := newMemUserStore(user)
		provider := auth.NewUserProvider(store).WithLogger(noopLogger{})

		for i := 0; i < auth.MaxLoginAttempts; i++ {
			provider.VerifyIdentity(ctx, user.Email, "wrong")
		}

		_, err := provider.VerifyIdentity(ctx, user.Email, "correct horse battery")
		require.Error(t, err)
		assert.True(t, goerrors.Is(err, auth.ErrAccountLocked))
	})

	t.Run("lock expires after the window and the counter restarts", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		store := newMemUserStore(user)

		now := time.Now()
		clock := &now
		provider := auth.NewUserProvider(store).
			WithLogger(noopLogger{}).
			WithClock(func() time.Time { return *clock })

		for i := 0; i < auth.MaxLoginAttempts; i++ {
			provider.VerifyIdentity(ctx, user.Email, "wrong")
		}

		_, err := provider.VerifyIdentity(ctx, user.Email, "correct horse battery")
		assert.True(t, goerrors.Is(err, auth.ErrAccountLocked))

		// elapse the lock window
		later := now.Add(16 * time.Minute)
		clock = &later

		identity, err := provider.VerifyIdentity(ctx, user.Email, "correct horse battery")
		require.NoError(t, err)
		assert.NotNil(t, identity)

		snap := store.snapshot(user.ID)
		assert.Equal(t, 0, snap.LoginAttempts)
		assert.Nil(t, snap.LockedUntil)
	})

	t.Run("lock cycles: a fresh run of failures locks again", func(t *testing.T) {
		user := newVerifiedUser("correct horse battery")
		store := newMemUserStore(user)

		now := time.Now()
		clock := &now
		provider := auth.NewUserProvider(store).
			WithLogger(noopLogger{}).
			WithClock(func() time.Time { return *clock })

		for i := 0; i < auth.MaxLoginAttempts; i++ {
			provider.VerifyIdentity(ctx, user.Email, "wrong")
		}
		later := now.Add(16 * time.Minute)
		clock = &later

		// window elapsed, wrong password clears the lock then counts anew
		_, err := provider.VerifyIdentity(ctx, user.Email, "wrong")
		assert.True(t, goerrors.Is(err, auth.ErrMismatchedHashAndPassword))
		assert.Equal(t, 1, store.snapshot(user.ID).LoginAttempts)

		for i := 0; i < auth.MaxLoginAttempts-1; i++ {
			_, err = provider.VerifyIdentity(ctx, user.Email, "wrong")
			require.Error(t, err)
		}
		assert.True(t, goerrors.Is(err, auth.ErrTooManyLoginAttempts))
	})
}
