package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// UserTracker is the store slice the provider needs to verify identities
// and maintain lockout state. TrackAttemptedLogin reports the
// post-increment failure count so the caller sees the same value the
// atomic update applied.
type UserTracker interface {
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	TrackAttemptedLogin(ctx context.Context, user *User, threshold int, lockUntil time.Time) (int, error)
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	ClearLock(ctx context.Context, user *User) error
}

// MaxLoginAttempts is the number of consecutive failures that locks an
// account
var MaxLoginAttempts = 5

// LockoutPeriod is how long a lock lasts before it auto-expires
var LockoutPeriod = "15m"

// UserProvider verifies credentials and enforces the lockout state
// machine: unlocked -> (MaxLoginAttempts failures) -> locked -> (window
// elapses) -> unlocked, indefinitely.
type UserProvider struct {
	store     UserTracker
	Validator func(*User) error
	logger    Logger
	now       func() time.Time
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserTracker) *UserProvider {
	return &UserProvider{
		store:     store,
		logger:    defLogger{},
		now:       time.Now,
		Validator: defaultValidator,
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

// WithClock overrides the time source, used by tests to elapse the lock
// window without sleeping
func (u *UserProvider) WithClock(now func() time.Time) *UserProvider {
	if now != nil {
		u.now = now
	}
	return u
}

func (u *UserProvider) validate(user *User) error {
	if u.Validator != nil {
		return u.Validator(user)
	}
	return defaultValidator(user)
}

// VerifyIdentity will find the user, check lock state, compare the
// password, and return an identity stamped with the live token version
func (u *UserProvider) VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error) {
	user, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		// the repository reports misses with its own category, not the
		// generic not-found one
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user == nil {
		return nil, ErrIdentityNotFound
	}

	now := u.now()

	if user.IsLocked(now) {
		return nil, ErrAccountLocked
	}

	// the lock window elapsed, persist the unlock before judging this
	// attempt so the counter restarts from zero
	if user.HasExpiredLock(now) {
		if err := u.store.ClearLock(ctx, user); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to clear expired account lock")
		}
		user.LoginAttempts = 0
		user.LoginAttemptAt = nil
		user.LockedUntil = nil
	}

	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		lockUntil := now.Add(u.lockoutDuration())
		attempts, err2 := u.store.TrackAttemptedLogin(ctx, user, MaxLoginAttempts, lockUntil)
		if err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}

		// judge against the count the store applied, a concurrent failure
		// may have landed between our read and the increment
		if attempts >= MaxLoginAttempts {
			return nil, ErrTooManyLoginAttempts
		}

		return nil, ErrMismatchedHashAndPassword
	}

	if err := u.store.TrackSuccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to track successful login", "error", err)
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	return identityFromUser(user), nil
}

func (u *UserProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error) {
	user, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, ErrIdentityNotFound
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	return identityFromUser(user), nil
}

func (u *UserProvider) lockoutDuration() time.Duration {
	d, err := time.ParseDuration(LockoutPeriod)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

type authIdentity struct {
	id      string
	email   string
	role    string
	version int
}

func identityFromUser(user *User) authIdentity {
	return authIdentity{
		id:      user.ID.String(),
		email:   user.Email,
		role:    string(user.Role),
		version: user.TokenVersion,
	}
}

func (a authIdentity) ID() string {
	return a.id
}

func (a authIdentity) Email() string {
	return a.email
}

func (a authIdentity) Role() string {
	return a.role
}

func (a authIdentity) TokenVersion() int {
	return a.version
}

var _ Identity = authIdentity{}

func defaultValidator(u *User) error {
	switch u.Role {
	case RoleMember, RoleAdmin:
		return nil
	default:
		return errors.New("user has an unknown or invalid role", errors.CategoryAuth).
			WithTextCode("INVALID_ROLE").
			WithMetadata(map[string]any{"role": u.Role, "user_id": u.ID.String()})
	}
}
