// Package authware provides the HTTP authentication filter. Unlike a
// conventional JWT guard it never rejects a request on its own: any
// failure while establishing identity degrades the request to anonymous
// and lets the route's own guards decide. Use RequireAuthenticated or
// RequireCapability on routes that must not run anonymously.
package authware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"

	"github.com/centsible/centsible/auth"
)

var defaultTokenLookup = "header:" + router.HeaderAuthorization + ",cookie:access_token"

// TokenValidator mirrors auth.TokenService.Validate.
type TokenValidator interface {
	Validate(tokenString string) (auth.AuthClaims, error)
}

// AccountResolver loads the account referenced by validated claims. The
// filter uses it to check the current token version and to persist the
// expiry of stale lockouts.
type AccountResolver interface {
	GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error)
	ClearLock(ctx context.Context, user *auth.User) error
}

// ValidationListener is invoked after a token has been validated but before
// the principal is attached to the request.
type ValidationListener func(ctx router.Context, claims auth.AuthClaims) error

type Config struct {
	// Filter skips the middleware entirely when it returns true
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc

	// SigningKey/SigningKeys/JWKSetURLs/KeyFunc configure a fallback
	// validator when Validator is nil
	SigningKey  SigningKey
	SigningKeys map[string]SigningKey
	KeyFunc     jwt.Keyfunc
	JWKSetURLs  []string

	// ContextKey is the locals key the Principal is stored under
	ContextKey string

	// TokenLookup is a comma separated list of source:name pairs, e.g.
	// "header:Authorization,cookie:access_token,query:token"
	TokenLookup string
	AuthScheme  string

	// Validator validates raw tokens into claims
	Validator TokenValidator

	// Accounts resolves claims to a live account
	Accounts AccountResolver

	Logger auth.Logger

	// ContextEnricher propagates the principal into the standard context.
	// Defaults to auth.WithPrincipal.
	ContextEnricher func(c context.Context, principal *auth.Principal) context.Context

	ValidationListeners []ValidationListener

	// Clock returns the current time, defaults to time.Now
	Clock func() time.Time
}

type SigningKey struct {
	JWTAlg string
	Key    any
}

// New builds the authentication filter middleware.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil || raw == "" {
				return anonymous(ctx, cfg)
			}

			claims, err := cfg.Validator.Validate(raw)
			if err != nil {
				cfg.Logger.Debug("token rejected", "error", err)
				return anonymous(ctx, cfg)
			}

			if err := cfg.runValidationListeners(ctx, claims); err != nil {
				cfg.Logger.Debug("validation listener rejected token", "error", err)
				return anonymous(ctx, cfg)
			}

			principal, err := ResolvePrincipal(ctx.Context(), claims, cfg)
			if err != nil {
				cfg.Logger.Debug("principal resolution failed", "error", err)
				return anonymous(ctx, cfg)
			}

			ctx.Locals(cfg.ContextKey, principal)

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), principal))
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

// ResolvePrincipal turns validated claims into a Principal backed by a live
// account. Refresh tokens are not accepted here, revoked token versions are
// rejected, and expired lockouts are cleared as a side effect of the read.
func ResolvePrincipal(ctx context.Context, claims auth.AuthClaims, cfg Config) (*auth.Principal, error) {
	if claims.Kind() != auth.TokenKindAccess {
		return nil, auth.ErrTokenMalformed
	}

	user, err := cfg.Accounts.GetByIdentifier(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, auth.ErrIdentityNotFound
	}

	now := cfg.Clock()
	if user.HasExpiredLock(now) {
		if err := cfg.Accounts.ClearLock(ctx, user); err != nil {
			return nil, err
		}
		user.LoginAttempts = 0
		user.LoginAttemptAt = nil
		user.LockedUntil = nil
	}

	if user.IsLocked(now) {
		return nil, auth.ErrAccountLocked
	}

	if !auth.ValidTokenVersion(claims.TokenVersion(), user.TokenVersion) {
		return nil, auth.ErrTokenRevoked
	}

	return auth.NewPrincipal(user, claims.SessionID()), nil
}

func anonymous(ctx router.Context, cfg Config) error {
	ctx.Locals(cfg.ContextKey, nil)
	return ctx.Next()
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.Accounts == nil {
		panic("AUTH: middleware configuration: Accounts resolver is required.")
	}

	if cfg.Validator == nil && cfg.SigningKey.Key == nil && len(cfg.SigningKeys) == 0 && len(cfg.JWKSetURLs) == 0 && cfg.KeyFunc == nil {
		panic("AUTH: middleware configuration: At least one of the following is required: Validator, KeyFunc, JWKSetURLs, SigningKeys, or SigningKey.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "principal"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.Logger == nil {
		cfg.Logger = auth.DefaultLogger()
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.ContextEnricher == nil {
		cfg.ContextEnricher = func(c context.Context, principal *auth.Principal) context.Context {
			return auth.WithPrincipal(c, principal)
		}
	}

	if cfg.Validator == nil {
		if cfg.KeyFunc == nil {
			if len(cfg.SigningKeys) > 0 || len(cfg.JWKSetURLs) > 0 {
				var givenKeys map[string]keyfunc.GivenKey
				if cfg.SigningKeys != nil {
					givenKeys = make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
					for kid, key := range cfg.SigningKeys {
						givenKeys[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
							Algorithm: key.JWTAlg,
						})
					}
				}
				if len(cfg.JWKSetURLs) > 0 {
					var err error
					cfg.KeyFunc, err = multiKeyfunc(givenKeys, cfg.JWKSetURLs)
					if err != nil {
						panic("Failed to create keyfunc from JWK Set URL: " + err.Error())
					}
				} else {
					cfg.KeyFunc = keyfunc.NewGiven(givenKeys).Keyfunc
				}
			} else {
				cfg.KeyFunc = signingKeyFunc(cfg.SigningKey)
			}
		}
		cfg.Validator = keyfuncValidator{keyFunc: cfg.KeyFunc}
	}

	return cfg
}

// keyfuncValidator is the fallback validator used when the middleware is
// configured with raw keys or JWK set URLs instead of an auth.TokenService.
type keyfuncValidator struct {
	keyFunc jwt.Keyfunc
}

func (v keyfuncValidator) Validate(tokenString string) (auth.AuthClaims, error) {
	claims := &auth.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, auth.ErrTokenExpired
		}
		return nil, auth.ErrTokenMalformed
	}
	if !token.Valid {
		return nil, auth.ErrTokenMalformed
	}
	return claims, nil
}

func multiKeyfunc(givenKeys map[string]keyfunc.GivenKey, jwtSetUrls []string) (jwt.Keyfunc, error) {
	opts := keyfuncOptions(givenKeys)
	m := make(map[string]keyfunc.Options, len(jwtSetUrls))
	for _, url := range jwtSetUrls {
		m[url] = opts
	}
	mopts := keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	}
	multi, err := keyfunc.GetMultiple(m, mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWT URLs: %w", err)
	}
	return multi.Keyfunc, nil
}

func keyfuncOptions(givenKeys map[string]keyfunc.GivenKey) keyfunc.Options {
	return keyfunc.Options{
		GivenKeys: givenKeys,
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWT set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

func signingKeyFunc(key SigningKey) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if key.JWTAlg != "" {
			alg, ok := token.Header["alg"].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected jwt signing method: expected: %q", key.JWTAlg)
			}
			if alg != key.JWTAlg {
				return nil, fmt.Errorf("unexpected jwt signing method: expected: %q: got: %q", key.JWTAlg, alg)
			}
		}
		return key.Key, nil
	}
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims auth.AuthClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}
