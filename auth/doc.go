// Package auth implements the authentication core for centsible: JWT
// issuance and validation with access/refresh kinds, token-version based
// revocation, persisted sessions, and account lockout with auto-expiring
// locks. The request-time filter lives in middleware/authware and degrades
// to an anonymous principal instead of rejecting requests.
package auth
