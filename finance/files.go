package finance

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS exposes the embedded schema migrations for the
// transactions and budgets tables.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
