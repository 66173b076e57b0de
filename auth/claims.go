package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes the two token uses we mint
type TokenKind string

const (
	// TokenKindAccess is the short lived stateless token
	TokenKindAccess TokenKind = "access"
	// TokenKindRefresh is the long lived token backed by a session row
	TokenKindRefresh TokenKind = "refresh"
)

// AuthClaims represents structured JWT claims
type AuthClaims interface {
	Subject() string
	UserID() string
	SessionID() string
	TokenVersion() int
	Kind() TokenKind
	Role() string
	HasRole(role string) bool
	IsAtLeast(minRole string) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string    `json:"uid,omitempty"`
	SID      string    `json:"sid,omitempty"`
	Version  int       `json:"ver"`
	TokenUse TokenKind `json:"typ,omitempty"`
	UserRole string    `json:"role,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// SessionID returns the session the token was issued under
func (c *JWTClaims) SessionID() string {
	return c.SID
}

// TokenVersion returns the token version stamped at issuance
func (c *JWTClaims) TokenVersion() int {
	return c.Version
}

// Kind returns the token use, defaulting to access for legacy tokens
func (c *JWTClaims) Kind() TokenKind {
	if c.TokenUse == "" {
		return TokenKindAccess
	}
	return c.TokenUse
}

// Role returns the global role
func (c *JWTClaims) Role() string {
	return c.UserRole
}

// HasRole checks if the user has a specific role
func (c *JWTClaims) HasRole(role string) bool {
	return c.UserRole == role
}

// IsAtLeast checks if the user's role is at least the minimum required role
func (c *JWTClaims) IsAtLeast(minRole string) bool {
	return UserRole(c.UserRole).IsAtLeast(UserRole(minRole))
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// ValidTokenVersion reports whether a claimed version is still current.
// Exact match only: bumping the live version invalidates every token
// minted before the bump, and any token minted with a future version.
func ValidTokenVersion(claimed, current int) bool {
	return claimed == current
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
