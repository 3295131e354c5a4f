// Package marketdb holds all the migrations for the indexer database
package marketdb

import "github.com/uptrace/bun/migrate"

// Migrations is the registry all numbered migration files register into.
var Migrations = migrate.NewMigrations()
