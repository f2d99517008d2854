package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded migrations for the dialect. SQLite is migrated
// through the open handle; PostgreSQL through its own connection to dsn.
func Migrate(conn *sql.DB, dialect, dsn string) error {
	src, err := iofs.New(migrationsFS, "sql/"+dialect)
	if err != nil {
		return fmt.Errorf("load %s migrations: %w", dialect, err)
	}
	var m *migrate.Migrate
	switch dialect {
	case "sqlite":
		drv, err := sqlite.WithInstance(conn, &sqlite.Config{})
		if err != nil {
			return fmt.Errorf("sqlite migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("init migrations: %w", err)
		}
	case "postgres":
		m, err = migrate.NewWithSourceInstance("iofs", src, dsn)
		if err != nil {
			return fmt.Errorf("init migrations: %w", err)
		}
		defer m.Close()
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
