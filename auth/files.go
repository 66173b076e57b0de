package auth

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS exposes the embedded schema migrations for the
// users, sessions, and reset/verification token tables.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
