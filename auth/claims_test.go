package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/centsible/centsible/auth"
)

func TestJWTClaims(t *testing.T) {
	now := time.Now()
	claims := &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "subject-id",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UID:      "user-id",
		SID:      "session-id",
		Version:  4,
		TokenUse: auth.TokenKindRefresh,
		UserRole: "member",
	}

	t.Run("accessors", func(t *testing.T) {
		assert.Equal(t, "subject-id", claims.Subject())
		assert.Equal(t, "user-id", claims.UserID())
		assert.Equal(t, "session-id", claims.SessionID())
		assert.Equal(t, 4, claims.TokenVersion())
		assert.Equal(t, auth.TokenKindRefresh, claims.Kind())
		assert.Equal(t, "member", claims.Role())
		assert.WithinDuration(t, now, claims.IssuedAt(), time.Second)
		assert.WithinDuration(t, now.Add(time.Hour), claims.Expires(), time.Second)
	})

	t.Run("UserID falls back to subject", func(t *testing.T) {
		c := &auth.JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "subject-id"},
		}
		assert.Equal(t, "subject-id", c.UserID())
	})

	t.Run("Kind defaults to access", func(t *testing.T) {
		c := &auth.JWTClaims{}
		assert.Equal(t, auth.TokenKindAccess, c.Kind())
	})

	t.Run("role checks", func(t *testing.T) {
		assert.True(t, claims.HasRole("member"))
		assert.False(t, claims.HasRole("admin"))
		assert.True(t, claims.IsAtLeast("member"))
		assert.False(t, claims.IsAtLeast("admin"))
	})

	t.Run("zero times for missing registered claims", func(t *testing.T) {
		c := &auth.JWTClaims{}
		assert.True(t, c.Expires().IsZero())
		assert.True(t, c.IssuedAt().IsZero())
	})
}

func TestValidTokenVersion(t *testing.T) {
	t.Run("exact match is valid", func(t *testing.T) {
		assert.True(t, auth.ValidTokenVersion(0, 0))
		assert.True(t, auth.ValidTokenVersion(7, 7))
	})

	t.Run("stale version is invalid", func(t *testing.T) {
		assert.False(t, auth.ValidTokenVersion(0, 1))
		assert.False(t, auth.ValidTokenVersion(6, 7))
	})

	t.Run("future version is invalid", func(t *testing.T) {
		assert.False(t, auth.ValidTokenVersion(8, 7))
	})
}
