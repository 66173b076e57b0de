package auth_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/centsible/centsible/auth"
)

// MockIdentity implements auth.Identity for testing
type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockIdentity) Email() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockIdentity) Role() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockIdentity) TokenVersion() int {
	args := m.Called()
	return args.Int(0)
}

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

// noopLogger swallows everything, used where log output is irrelevant
type noopLogger struct{}

func (noopLogger) Debug(format string, args ...any) {}
func (noopLogger) Info(format string, args ...any)  {}
func (noopLogger) Warn(format string, args ...any)  {}
func (noopLogger) Error(format string, args ...any) {}

// recordingSink captures activity events for assertions
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(ctx context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []auth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEvent, len(s.events))
	copy(out, s.events)
	return out
}

// memUserStore is an in-memory stand-in for the users repository. It
// reproduces the repository's SQL semantics: the attempt counter increments
// atomically and the lock engages on the attempt that reaches the threshold.
type memUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*auth.User
}

func newMemUserStore(users ...*auth.User) *memUserStore {
	s := &memUserStore{users: map[uuid.UUID]*auth.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memUserStore) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, err := uuid.Parse(identifier); err == nil {
		if u, ok := s.users[id]; ok {
			cp := *u
			return &cp, nil
		}
	}

	for _, u := range s.users {
		if strings.EqualFold(u.Email, identifier) {
			cp := *u
			return &cp, nil
		}
	}

	// misses surface the same error value the bun-backed repository
	// produces
	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (s *memUserStore) TrackAttemptedLogin(ctx context.Context, user *auth.User, threshold int, lockUntil time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[user.ID]
	if !ok {
		return 0, auth.ErrIdentityNotFound
	}

	now := time.Now()
	u.LoginAttempts++
	u.LoginAttemptAt = &now
	if u.LoginAttempts >= threshold {
		until := lockUntil
		u.LockedUntil = &until
	}
	return u.LoginAttempts, nil
}

func (s *memUserStore) TrackSuccessfulLogin(ctx context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[user.ID]
	if !ok {
		return auth.ErrIdentityNotFound
	}

	now := time.Now()
	u.LoggedInAt = &now
	u.LoginAttempts = 0
	u.LoginAttemptAt = nil
	u.LockedUntil = nil
	return nil
}

func (s *memUserStore) ClearLock(ctx context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[user.ID]
	if !ok {
		return auth.ErrIdentityNotFound
	}

	u.LoginAttempts = 0
	u.LoginAttemptAt = nil
	u.LockedUntil = nil
	return nil
}

func (s *memUserStore) BumpTokenVersion(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return 0, auth.ErrIdentityNotFound
	}

	u.TokenVersion++
	return u.TokenVersion, nil
}

func (s *memUserStore) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

// snapshot returns a copy of the stored user for assertions
func (s *memUserStore) snapshot(id uuid.UUID) *auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// memSessionStore is an in-memory auth.SessionStore
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*auth.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[uuid.UUID]*auth.Session{}}
}

func (s *memSessionStore) Start(ctx context.Context, session *auth.Session) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.IssuedAt == nil {
		now := time.Now()
		session.IssuedAt = &now
	}

	cp := *session
	s.sessions[session.ID] = &cp
	return session, nil
}

func (s *memSessionStore) GetLive(ctx context.Context, id uuid.UUID, now time.Time) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || !session.IsLive(now) {
		return nil, auth.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *memSessionStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok {
		touched := at
		session.LastUsedAt = &touched
	}
	return nil
}

func (s *memSessionStore) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok && session.RevokedAt == nil {
		revoked := at
		session.RevokedAt = &revoked
	}
	return nil
}

func (s *memSessionStore) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *memSessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// testConfig satisfies auth.Config
type testConfig struct {
	signingKey string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func (c testConfig) GetSigningKey() string {
	if c.signingKey == "" {
		return "test-signing-key"
	}
	return c.signingKey
}

func (c testConfig) GetSigningMethod() string { return "HS256" }
func (c testConfig) GetContextKey() string    { return "principal" }

func (c testConfig) GetAccessTokenExpiration() time.Duration {
	if c.accessTTL == 0 {
		return 15 * time.Minute
	}
	return c.accessTTL
}

func (c testConfig) GetRefreshTokenExpiration() time.Duration {
	if c.refreshTTL == 0 {
		return 24 * time.Hour
	}
	return c.refreshTTL
}

func (c testConfig) GetTokenLookup() string { return "header:Authorization" }
func (c testConfig) GetAuthScheme() string  { return "Bearer" }
func (c testConfig) GetIssuer() string      { return "test-issuer" }
func (c testConfig) GetAudience() []string  { return []string{"test-audience"} }

// hashCache avoids re-running bcrypt for every fixture, the cost
// parameter makes each hash expensive
var (
	hashCacheMu sync.Mutex
	hashCache   = map[string]string{}
)

func hashForTest(password string) string {
	hashCacheMu.Lock()
	defer hashCacheMu.Unlock()

	if hash, ok := hashCache[password]; ok {
		return hash
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	hashCache[password] = hash
	return hash
}

func newVerifiedUser(password string) *auth.User {
	hash := hashForTest(password)

	return &auth.User{
		ID:            uuid.New(),
		Role:          auth.RoleMember,
		FirstName:     "Pat",
		LastName:      "Doe",
		Email:         "pat@example.com",
		PasswordHash:  hash,
		EmailVerified: true,
		TokenVersion:  0,
	}
}
