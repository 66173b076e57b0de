package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// Auther orchestrates login, refresh, and logout on top of the identity
// provider, the session store, and the token codec
type Auther struct {
	provider     IdentityProvider
	accounts     AccountStore
	sessions     SessionStore
	tokenService TokenService
	accessTTL    time.Duration
	refreshTTL   time.Duration
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, accounts AccountStore, sessions SessionStore, opts Config) *Auther {
	tokenService := NewTokenService(
		[]byte(opts.GetSigningKey()),
		opts.GetAccessTokenExpiration(),
		opts.GetRefreshTokenExpiration(),
		opts.GetIssuer(),
		opts.GetAudience(),
		defLogger{},
	)

	return &Auther{
		provider:     provider,
		accounts:     accounts,
		sessions:     sessions,
		tokenService: tokenService,
		accessTTL:    opts.GetAccessTokenExpiration(),
		refreshTTL:   opts.GetRefreshTokenExpiration(),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenService overrides the token codec, mainly for tests
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// WithClock overrides the time source used for session stamps
func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now != nil {
		s.now = now
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Login verifies credentials, starts a session stamped with the live token
// version, and issues an access/refresh pair
func (s *Auther) Login(ctx context.Context, identifier, password string, meta SessionMetadata) (*TokenPair, error) {
	identity, err := s.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		s.logger.Error("Login verify identity error", "error", err)
		eventType := ActivityEventLoginFailure
		if IsLockedError(err) {
			eventType = ActivityEventAccountLocked
		}
		s.emitAuthEvent(ctx, eventType, ActorRef{Type: "unknown"}, "", "", map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return nil, err
	}

	if identity == nil {
		s.logger.Error("Login identity is nil")
		return nil, ErrIdentityNotFound
	}

	userID, err := uuid.Parse(identity.ID())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "identity has a malformed id")
	}

	now := s.now()
	expiresAt := now.Add(s.refreshTTL)
	session := &Session{
		UserID:       userID,
		TokenVersion: identity.TokenVersion(),
		IssuedAt:     &now,
		ExpiresAt:    &expiresAt,
		UserAgent:    meta.UserAgent,
		IP:           meta.IP,
	}

	session, err = s.sessions.Start(ctx, session)
	if err != nil {
		s.logger.Error("Login failed to start session", "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to start session")
	}

	pair, err := s.issuePair(identity, session)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromIdentity(identity), identity.ID(), session.ID.String(), map[string]any{
		"identifier": identifier,
	})

	return pair, nil
}

// Refresh validates a refresh token against its session row and the
// owner's live token version, then issues a fresh access token. The
// refresh token itself is retained, the session id stays stable.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokenService.Validate(refreshToken)
	if err != nil {
		s.logger.Error("Refresh token validation failed", "error", err)
		return nil, err
	}

	if claims.Kind() != TokenKindRefresh {
		return nil, ErrTokenMalformed
	}

	sessionID, err := uuid.Parse(claims.SessionID())
	if err != nil {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	session, err := s.sessions.GetLive(ctx, sessionID, now)
	if err != nil {
		if goerrors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}

	user, err := s.accounts.GetByIdentifier(ctx, claims.UserID())
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session owner")
	}

	if !ValidTokenVersion(claims.TokenVersion(), user.TokenVersion) {
		return nil, ErrTokenRevoked
	}

	accessToken, err := s.tokenService.Issue(identityFromUser(user), session.ID.String(), user.TokenVersion, TokenKindAccess)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Touch(ctx, session.ID, now); err != nil {
		s.logger.Warn("failed to touch session", "session_id", session.ID.String(), "error", err)
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefresh, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), session.ID.String(), nil)

	var refreshExpires time.Time
	if session.ExpiresAt != nil {
		refreshExpires = *session.ExpiresAt
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: refreshExpires,
		SessionID:        session.ID.String(),
	}, nil
}

// Logout revokes a single session. Revoking an already revoked or unknown
// session is a no-op.
func (s *Auther) Logout(ctx context.Context, sessionID string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return ErrSessionNotFound
	}

	if err := s.sessions.Revoke(ctx, id, s.now()); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}

	s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{Type: "user"}, "", sessionID, nil)

	return nil
}

// LogoutAll bumps the owner's token version and drops every session. All
// outstanding tokens become invalid without enumerating them.
func (s *Auther) LogoutAll(ctx context.Context, userID string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrIdentityNotFound
	}

	version, err := s.accounts.BumpTokenVersion(ctx, id)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to bump token version")
	}

	if err := s.sessions.DeleteAllForUser(ctx, id); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user sessions")
	}

	s.emitAuthEvent(ctx, ActivityEventLogoutAll, ActorRef{ID: userID, Type: "user"}, userID, "", map[string]any{
		"token_version": version,
	})

	return nil
}

func (s *Auther) issuePair(identity Identity, session *Session) (*TokenPair, error) {
	accessToken, err := s.tokenService.Issue(identity, session.ID.String(), identity.TokenVersion(), TokenKindAccess)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.tokenService.Issue(identity, session.ID.String(), identity.TokenVersion(), TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var refreshExpires time.Time
	if session.ExpiresAt != nil {
		refreshExpires = *session.ExpiresAt
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: refreshExpires,
		SessionID:        session.ID.String(),
	}, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID, sessionID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		SessionID: sessionID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Auther) actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   identity.ID(),
		Type: "user",
	}
}

var _ Authenticator = (*Auther)(nil)
