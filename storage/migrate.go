package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func (s *SQLStore) migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var (
		driver database.Driver
		m      *migrate.Migrate
	)
	switch s.db.DriverName() {
	case driverPostgres:
		// The pgx driver pins a connection and closes its *sql.DB on Close,
		// so it gets a pool of its own.
		db, err := sql.Open(driverPostgres, s.databaseURL)
		if err != nil {
			return err
		}
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
		if err != nil {
			db.Close()
			return err
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx5", driver)
		if err != nil {
			driver.Close()
			return err
		}
		defer m.Close()
	default:
		driver, err = sqlitemigrate.WithInstance(s.db.DB, &sqlitemigrate.Config{})
		if err != nil {
			return err
		}
		// Not closed: the driver would close the shared handle.
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", driver)
		if err != nil {
			return err
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
