package internal

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// RunMigrations applies the embedded migrations for driver ("postgres" or
// "sqlite").
func RunMigrations(db *sql.DB, driver string) error {
	var dialect, dir string
	switch driver {
	case "postgres":
		dialect, dir = "postgres", "migrations/postgres"
	case "sqlite":
		dialect, dir = "sqlite3", "migrations/sqlite"
	default:
		return fmt.Errorf("migrations: unsupported driver %q", driver)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	return goose.Up(db, dir)
}

// MigrationStatus reports the current schema version.
func MigrationStatus(db *sql.DB, driver string) (int64, error) {
	dialect := "postgres"
	if driver == "sqlite" {
		dialect = "sqlite3"
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
