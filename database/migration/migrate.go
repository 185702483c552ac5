// Package migration applies versioned SQL migrations with golang-migrate.
//
// Migration files live in an fs.FS (usually embedded) and follow the
// VERSION_name.up.sql / VERSION_name.down.sql convention. The migrate
// driver is chosen from the database driver name, so callers only hand
// over the open GORM connection.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

// Table is the name of the migrate bookkeeping table.
const Table = "runflow_schema_migrations"

// Up applies all pending migrations found under dir in fsys.
// migrate.ErrNoChange is not an error.
func Up(db *gorm.DB, driver string, fsys fs.FS, dir string) error {
	m, err := newMigrator(db, driver, fsys, dir)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back every applied migration.
func Down(db *gorm.DB, driver string, fsys fs.FS, dir string) error {
	m, err := newMigrator(db, driver, fsys, dir)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version returns the applied migration version and dirty flag. A fresh
// database reports version 0.
func Version(db *gorm.DB, driver string, fsys fs.FS, dir string) (uint, bool, error) {
	m, err := newMigrator(db, driver, fsys, dir)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func driverFor(driver string, db *sql.DB) (migratedb.Driver, error) {
	switch driver {
	case "sqlite":
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: Table})
	case "postgres":
		return pgx.WithInstance(db, &pgx.Config{MigrationsTable: Table})
	default:
		return nil, fmt.Errorf("no migration driver for %q", driver)
	}
}

// newMigrator builds a migrator over the shared connection. Callers must
// not Close it: that would close the GORM pool as well.
func newMigrator(db *gorm.DB, driver string, fsys fs.FS, dir string) (*migrate.Migrate, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	target, err := driverFor(driver, sqlDB)
	if err != nil {
		return nil, fmt.Errorf("create database driver: %w", err)
	}
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, driver, target)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}
