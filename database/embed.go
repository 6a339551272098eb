package database

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var embeddedSQLite embed.FS

//go:embed pg_migrations/*.sql
var embeddedPostgres embed.FS

// SQLiteMigrations returns the SQLite migration files.
func SQLiteMigrations() fs.FS {
	sub, err := fs.Sub(embeddedSQLite, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// PostgresMigrations returns the Postgres migration files.
func PostgresMigrations() fs.FS {
	sub, err := fs.Sub(embeddedPostgres, "pg_migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
